// Package intersection clusters references that cite the same work into
// persisted intersections.
//
// A persisting pass only grows intersections: references are never removed
// from one, and two existing intersections are never merged. When a
// reference matches members of several intersections, the oldest wins and
// the others are reported in the log. Persisting passes are serialized with
// a PostgreSQL advisory lock, and each cluster's create and assign commit in
// one transaction.
package intersection

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/doab-reference-service/internal/database"
	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/events"
	"github.com/helixir/doab-reference-service/internal/matching"
	"github.com/helixir/doab-reference-service/internal/observability"
	"github.com/helixir/doab-reference-service/internal/repository"
	"github.com/helixir/doab-reference-service/internal/workerpool"
)

// LockName identifies the advisory lock held by persisting passes.
const LockName = "doab.intersection.build"

var lockKey = database.AdvisoryLockKey(LockName)

// Matcher finds the references matching a structured record.
type Matcher interface {
	Match(ctx context.Context, rec domain.Record, scope domain.MatchScope) (*matching.Result, error)
}

// ParseLister lists the stored parses of a reference.
type ParseLister interface {
	ListParsed(ctx context.Context, referenceID string) ([]*domain.ParsedReference, error)
}

// Locker runs fn while holding an exclusive lock. *database.DB implements it
// with a session advisory lock.
type Locker interface {
	WithAdvisoryLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error
}

// Options controls a build.
type Options struct {
	// BookIDs restricts candidates and matches to these books and forces a dry run.
	BookIDs []string
	// DryRun reports clusters without writing anything.
	DryRun bool
	// Workers is the dry-run parallelism. Persisting passes are sequential.
	Workers int
}

// SharedReference is a matched reference cited by more than one book.
type SharedReference struct {
	ReferenceID string   `json:"reference_id"`
	BookIDs     []string `json:"book_ids"`
}

// Cluster is the dry-run output for one candidate reference.
type Cluster struct {
	ReferenceID string            `json:"reference_id"`
	Shared      []SharedReference `json:"shared"`
}

// Report summarizes a build.
type Report struct {
	DryRun     bool
	Candidates int
	Created    int
	Grown      int
	Assigned   int64
	Failed     int
	// Clusters is filled by dry runs only.
	Clusters []Cluster
}

// Builder runs intersection passes.
type Builder struct {
	intersections repository.IntersectionRepository
	tx            repository.IntersectionTransactor
	parses        ParseLister
	matcher       Matcher
	locker        Locker
	publisher     events.Publisher
	logger        zerolog.Logger
	metrics       *observability.Metrics
	newID         func() uuid.UUID
}

// NewBuilder creates a builder. Cluster writes go through tx; a nil publisher
// disables events.
func NewBuilder(
	intersections repository.IntersectionRepository,
	tx repository.IntersectionTransactor,
	parses ParseLister,
	matcher Matcher,
	locker Locker,
	publisher events.Publisher,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Builder {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Builder{
		intersections: intersections,
		tx:            tx,
		parses:        parses,
		matcher:       matcher,
		locker:        locker,
		publisher:     publisher,
		logger:        observability.WithComponent(logger, "intersection"),
		metrics:       metrics,
		newID:         uuid.New,
	}
}

// Build runs one pass.
//
// Candidates are the references with at least one parse: those cited by
// opts.BookIDs when given, otherwise every reference, skipping clustered ones
// unless dry-running. For each candidate, every parse is matched and the
// matched reference ids are unioned.
//
// A dry run reports, per candidate, the matched references cited by more
// than one book. A persisting pass adds the matched references to the
// intersection of the oldest clustered peer, or to a new intersection when
// none is clustered.
func (b *Builder) Build(ctx context.Context, opts Options) (*Report, error) {
	scope := domain.MatchScope{}
	var candidates []string
	var err error
	if len(opts.BookIDs) > 0 {
		opts.DryRun = true
		scope.BookIDs = opts.BookIDs
		candidates, err = b.intersections.ListReferenceIDsForBooks(ctx, opts.BookIDs)
	} else {
		candidates, err = b.intersections.ListCandidateReferenceIDs(ctx, !opts.DryRun)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate references: %w", err)
	}

	b.logger.Info().
		Int("candidates", len(candidates)).
		Bool("dry_run", opts.DryRun).
		Strs("book_ids", opts.BookIDs).
		Msg("starting intersection pass")

	if opts.DryRun {
		return b.dryRun(ctx, candidates, scope, opts.Workers), nil
	}

	var report *Report
	err = b.locker.WithAdvisoryLock(ctx, lockKey, func(ctx context.Context) error {
		var perr error
		report, perr = b.persist(ctx, candidates)
		return perr
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentWrite) {
			return nil, fmt.Errorf("another intersection pass is running: %w", err)
		}
		return nil, err
	}
	return report, nil
}

func (b *Builder) dryRun(ctx context.Context, candidates []string, scope domain.MatchScope, workers int) *Report {
	report := &Report{DryRun: true, Candidates: len(candidates)}

	results := workerpool.Run(ctx, workers, candidates, func(ctx context.Context, id string) ([]SharedReference, error) {
		matches, err := b.matchReference(ctx, id, scope)
		if err != nil {
			return nil, err
		}
		var shared []SharedReference
		for _, m := range matches {
			if len(m.BookIDs) > 1 {
				shared = append(shared, SharedReference{ReferenceID: m.ReferenceID, BookIDs: m.BookIDs})
			}
		}
		return shared, nil
	})

	for _, r := range results {
		if r.Err != nil {
			b.itemFailed(report, r.Item, r.Err)
			continue
		}
		if len(r.Value) > 0 {
			report.Clusters = append(report.Clusters, Cluster{ReferenceID: r.Item, Shared: r.Value})
		}
	}
	return report
}

func (b *Builder) persist(ctx context.Context, candidates []string) (*Report, error) {
	report := &Report{Candidates: len(candidates)}
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := b.cluster(ctx, id, report); err != nil {
			b.itemFailed(report, id, err)
		}
	}

	b.logger.Info().
		Int("candidates", report.Candidates).
		Int("created", report.Created).
		Int("grown", report.Grown).
		Int64("assigned", report.Assigned).
		Int("failed", report.Failed).
		Msg("intersection pass complete")
	return report, nil
}

// cluster assigns the references matching one candidate to an intersection.
func (b *Builder) cluster(ctx context.Context, candidate string, report *Report) error {
	matches, err := b.matchReference(ctx, candidate, domain.MatchScope{})
	if err != nil {
		return err
	}
	ids := []string{candidate}
	for _, m := range matches {
		if m.ReferenceID != candidate {
			ids = append(ids, m.ReferenceID)
		}
	}
	if len(ids) < 2 {
		return nil
	}

	refs, err := b.intersections.GetReferences(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load matched references: %w", err)
	}
	if len(refs) < 2 {
		return nil
	}

	memberIDs := make([]string, len(refs))
	for i, r := range refs {
		memberIDs[i] = r.ID
	}

	var (
		target   uuid.UUID
		created  bool
		assigned int64
	)
	err = b.tx.InTransaction(ctx, func(repo repository.IntersectionRepository) error {
		var err error
		target, created, err = b.resolveTarget(ctx, repo, candidate, refs)
		if err != nil {
			return err
		}
		assigned, err = repo.AssignReferences(ctx, target, memberIDs)
		if err != nil {
			return fmt.Errorf("failed to assign references to intersection %s: %w", target, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !created && assigned == 0 {
		return nil
	}

	report.Assigned += assigned
	if created {
		report.Created++
	} else {
		report.Grown++
	}
	b.metrics.RecordIntersection(created, int(assigned))
	logger := observability.WithIntersectionContext(b.logger, target.String())
	logger.Debug().
		Str("reference_id", candidate).
		Bool("created", created).
		Int64("assigned", assigned).
		Msg("intersection updated")

	event := domain.NewIntersectionEvent(target, created, memberIDs)
	if err := b.publisher.Publish(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("failed to publish intersection event")
	}
	return nil
}

// resolveTarget returns the intersection of the first clustered reference,
// or creates one when none is clustered. refs arrive oldest intersection first.
func (b *Builder) resolveTarget(ctx context.Context, repo repository.IntersectionRepository, candidate string, refs []*domain.Reference) (uuid.UUID, bool, error) {
	var target uuid.UUID
	var ignored []string
	for _, r := range refs {
		if !r.Clustered() {
			continue
		}
		if target == uuid.Nil {
			target = *r.IntersectionID
			continue
		}
		if *r.IntersectionID != target {
			ignored = appendUnique(ignored, r.IntersectionID.String())
		}
	}

	if len(ignored) > 0 {
		b.logger.Warn().
			Str("reference_id", candidate).
			Str("intersection_id", target.String()).
			Strs("unmerged_intersections", ignored).
			Msg("matched references span several intersections; keeping the oldest")
	}
	if target != uuid.Nil {
		return target, false, nil
	}

	id := b.newID()
	if err := repo.Create(ctx, id); err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to create intersection: %w", err)
	}
	return id, true, nil
}

// matchReference unions the matches of every parse of a reference.
func (b *Builder) matchReference(ctx context.Context, id string, scope domain.MatchScope) ([]matching.Match, error) {
	parses, err := b.parses.ListParsed(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list parses: %w", err)
	}

	byRef := make(map[string]map[string]bool)
	for _, p := range parses {
		res, err := b.matcher.Match(ctx, p.Record(), scope)
		if err != nil {
			return nil, fmt.Errorf("failed to match %s parse: %w", p.Parser, err)
		}
		for _, m := range res.Matches {
			books, ok := byRef[m.ReferenceID]
			if !ok {
				books = make(map[string]bool)
				byRef[m.ReferenceID] = books
			}
			for _, book := range m.BookIDs {
				books[book] = true
			}
		}
	}

	out := make([]matching.Match, 0, len(byRef))
	for refID, books := range byRef {
		m := matching.Match{ReferenceID: refID, BookIDs: make([]string, 0, len(books))}
		for book := range books {
			m.BookIDs = append(m.BookIDs, book)
		}
		sort.Strings(m.BookIDs)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceID < out[j].ReferenceID })
	return out, nil
}

func (b *Builder) itemFailed(report *Report, id string, err error) {
	report.Failed++
	b.metrics.RecordBatchError("intersect")
	b.logger.Warn().Err(err).Str("reference_id", id).Msg("failed to process reference")
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
