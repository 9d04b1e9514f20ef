// Package miner drives reference extraction for books: it selects the
// eligible finders for each book, normalizes what they find, runs the
// configured parsers and persists the results.
//
// Mining is idempotent. A (reference, parser) pair that already has a stored
// parse is never parsed again; replacing parses requires deleting them first.
package miner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/finders"
	"github.com/helixir/doab-reference-service/internal/normalize"
	"github.com/helixir/doab-reference-service/internal/observability"
	"github.com/helixir/doab-reference-service/internal/parsers"
	"github.com/helixir/doab-reference-service/internal/repository"
	"github.com/helixir/doab-reference-service/internal/workerpool"
)

// Options configures a Service.
type Options struct {
	// RequireTools verifies the external commands of every parser used by the
	// definitions when the service is built.
	RequireTools bool
}

// Service mines references for books.
type Service struct {
	books       repository.BookRepository
	references  repository.ReferenceRepository
	registry    *parsers.Registry
	definitions []Definition
	normalizer  *normalize.Normalizer
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

// NewService creates a miner over the given definitions. It fails when a
// definition names a parser missing from the registry, or, with
// RequireTools set, when a parser's external command is not installed.
func NewService(
	books repository.BookRepository,
	references repository.ReferenceRepository,
	registry *parsers.Registry,
	definitions []Definition,
	normalizer *normalize.Normalizer,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	opts Options,
) (*Service, error) {
	names := parserNames(definitions)
	if _, err := registry.Lookup(names...); err != nil {
		return nil, fmt.Errorf("invalid miner definitions: %w", err)
	}
	if opts.RequireTools {
		if err := registry.CheckTools(names...); err != nil {
			return nil, err
		}
	}
	if normalizer == nil {
		normalizer = normalize.New(false)
	}
	return &Service{
		books:       books,
		references:  references,
		registry:    registry,
		definitions: definitions,
		normalizer:  normalizer,
		logger:      observability.WithComponent(logger, "miner"),
		metrics:     metrics,
	}, nil
}

// Target is a book to mine and the directory holding its artifacts.
type Target = finders.BookDir

// Found is a reference discovered for a book with the parsers that apply to it.
type Found struct {
	Reference string
	Miners    []string
	Parsers   []string
}

// Result summarizes mining one book.
type Result struct {
	BookID     string
	Miners     []string
	References int
	Stored     int
	Skipped    int
	NoMatch    int
	Failed     int
}

// Discover returns the references the eligible finders produce for a book
// without parsing or persisting anything.
func (s *Service) Discover(ctx context.Context, target Target) ([]Found, error) {
	ctx = observability.WithBookID(ctx, target.BookID)
	book, err := s.books.Get(ctx, target.BookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load book %s: %w", target.BookID, err)
	}
	found, _, err := s.discover(ctx, book, target.Path)
	return found, err
}

// Mine extracts, parses and stores the references of one book.
//
// The method:
//  1. Loads the book and detects its artifacts.
//  2. Selects every eligible definition. A book with none is skipped.
//  3. Collects and normalizes the references of the eligible finders.
//  4. Upserts each reference and links it to the book, parsed or not.
//  5. Runs each applicable parser that has no stored parse yet and stores
//     titled results.
//
// A missing parser tool aborts with domain.ErrToolUnavailable. Any other
// parser failure only drops that one parse.
func (s *Service) Mine(ctx context.Context, target Target) (*Result, error) {
	ctx = observability.WithBookID(ctx, target.BookID)
	logger := observability.LoggerFromContext(ctx, s.logger)

	book, err := s.books.Get(ctx, target.BookID)
	if err != nil {
		s.metrics.RecordBook(observability.OutcomeFailed, 0)
		return nil, fmt.Errorf("failed to load book %s: %w", target.BookID, err)
	}

	found, miners, err := s.discover(ctx, book, target.Path)
	if err != nil {
		s.metrics.RecordBook(observability.OutcomeFailed, 0)
		return nil, err
	}
	result := &Result{BookID: book.DoabID, Miners: miners, References: len(found)}
	if len(miners) == 0 {
		s.metrics.RecordBook(observability.OutcomeIneligible, 0)
		return result, nil
	}

	for _, f := range found {
		if err := s.mineReference(ctx, book.DoabID, f, result); err != nil {
			s.metrics.RecordBook(observability.OutcomeFailed, result.References)
			return result, err
		}
	}

	s.metrics.RecordBook(observability.OutcomeMined, result.References)
	logger.Info().
		Strs("miners", miners).
		Int("references", result.References).
		Int("stored", result.Stored).
		Int("skipped", result.Skipped).
		Int("no_match", result.NoMatch).
		Int("failed", result.Failed).
		Msg("book mined")
	return result, nil
}

// MineAll mines the targets through a worker pool. Per-book failures are
// logged and reported in the results; they do not stop the batch. A missing
// parser tool cancels the remaining books and is returned as the error.
func (s *Service) MineAll(ctx context.Context, targets []Target, workers int) ([]workerpool.Result[Target, *Result], error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := workerpool.Run(ctx, workers, targets, func(ctx context.Context, t Target) (*Result, error) {
		res, err := s.Mine(ctx, t)
		if err != nil {
			if errors.Is(err, domain.ErrToolUnavailable) {
				cancel(err)
			}
			s.metrics.RecordBatchError("mine")
			s.logger.Warn().Err(err).Str("book_id", t.BookID).Msg("failed to mine book")
		}
		return res, err
	})

	if cause := context.Cause(ctx); cause != nil && errors.Is(cause, domain.ErrToolUnavailable) {
		return results, cause
	}
	return results, nil
}

// discover runs the eligible finders and returns the normalized references,
// sorted, with the union of parsers of the definitions that found each one.
func (s *Service) discover(ctx context.Context, book *domain.Book, bookPath string) ([]Found, []string, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)

	artifacts, err := finders.DetectArtifacts(bookPath)
	if err != nil {
		return nil, nil, err
	}

	publishers := book.Publishers()
	var eligible []Definition
	for _, d := range s.definitions {
		if d.Rule.Allows(publishers, artifacts) {
			eligible = append(eligible, d)
		}
	}
	if len(eligible) == 0 {
		logger.Debug().
			Strs("publishers", publishers).
			Strs("artifacts", artifacts.Kinds()).
			Msg("no miner for book, skipping")
		return nil, nil, nil
	}

	byRef := make(map[string]*Found)
	var miners []string
	var findErrs []error
	for _, d := range eligible {
		refs, err := d.Finder.Find(ctx, book.DoabID, bookPath)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			logger.Warn().Err(err).Str("miner", d.Name).Msg("finder failed")
			findErrs = append(findErrs, fmt.Errorf("%s: %w", d.Name, err))
			continue
		}
		miners = append(miners, d.Name)
		for _, raw := range refs {
			ref := s.normalizer.Normalize(raw)
			if ref == "" {
				continue
			}
			f, ok := byRef[ref]
			if !ok {
				f = &Found{Reference: ref}
				byRef[ref] = f
			}
			f.Miners = appendUnique(f.Miners, d.Name)
			for _, p := range d.Parsers {
				f.Parsers = appendUnique(f.Parsers, p)
			}
		}
	}
	if len(miners) == 0 {
		return nil, nil, errors.Join(findErrs...)
	}

	found := make([]Found, 0, len(byRef))
	for _, f := range byRef {
		found = append(found, *f)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Reference < found[j].Reference })
	return found, miners, nil
}

func (s *Service) mineReference(ctx context.Context, bookID string, f Found, result *Result) error {
	if err := s.references.Upsert(ctx, f.Reference); err != nil {
		return fmt.Errorf("failed to store reference: %w", err)
	}
	if err := s.references.LinkBook(ctx, bookID, f.Reference); err != nil {
		return fmt.Errorf("failed to link reference: %w", err)
	}

	for _, name := range f.Parsers {
		parser, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		if err := s.parseAndStore(ctx, parser, f.Reference, result); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) parseAndStore(ctx context.Context, parser parsers.Parser, reference string, result *Result) error {
	ctx = observability.WithParser(ctx, parser.Name())
	logger := observability.WithReferenceContext(observability.LoggerFromContext(ctx, s.logger), reference)

	exists, err := s.references.ParsedExists(ctx, reference, parser.Name())
	if err != nil {
		return fmt.Errorf("failed to check existing parse: %w", err)
	}
	if exists {
		logger.Debug().Msg("existing reference found, ignoring; nuke citations to update")
		s.metrics.RecordParse(parser.Name(), observability.OutcomeSkipped, 0)
		result.Skipped++
		return nil
	}

	start := time.Now()
	rec, err := parser.Parse(ctx, parser.Clean(reference))
	elapsed := time.Since(start).Seconds()
	switch {
	case errors.Is(err, domain.ErrToolUnavailable):
		return err
	case errors.Is(err, domain.ErrNoMatch), err == nil && !rec.HasTitle():
		logger.Debug().Msg("no match")
		s.metrics.RecordParse(parser.Name(), observability.OutcomeNoMatch, elapsed)
		result.NoMatch++
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn().Err(err).Msg("parse failed")
		s.metrics.RecordParse(parser.Name(), observability.OutcomeFailed, elapsed)
		result.Failed++
		return nil
	}

	parsed := domain.NewParsedReference(reference, parser.Name(), *rec)
	if err := s.references.CreateParsed(ctx, parsed); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			s.metrics.RecordParse(parser.Name(), observability.OutcomeSkipped, elapsed)
			result.Skipped++
			return nil
		}
		return fmt.Errorf("failed to store parse: %w", err)
	}
	s.metrics.RecordParse(parser.Name(), observability.OutcomeStored, elapsed)
	result.Stored++
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
