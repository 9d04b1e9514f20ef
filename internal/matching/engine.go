// Package matching finds the persisted references that denote the same work
// as a structured citation.
//
// Three matchers run for every record and their results are unioned:
// DOI equality, exact title equality, and trigram title similarity
// corroborated by author overlap. No matcher short-circuits another.
package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/doab-reference-service/internal/config"
	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/observability"
)

// Matcher names, used in results and metrics.
const (
	MatcherDOI        = "doi"
	MatcherExactTitle = "exact_title"
	MatcherFuzzyTitle = "fuzzy_title"
)

// Default thresholds.
const (
	DefaultMinTitleThreshold  = 0.25
	DefaultMinAuthorThreshold = 0.5
)

// Store is the subset of the reference repository the engine queries.
type Store interface {
	FindByDOI(ctx context.Context, doi string, scope domain.MatchScope) ([]domain.ReferenceMatch, error)
	FindByExactTitle(ctx context.Context, title string, scope domain.MatchScope) ([]domain.ReferenceMatch, error)
	FindFuzzyTitleCandidates(ctx context.Context, title string, scope domain.MatchScope) ([]domain.FuzzyCandidate, error)
}

// Config holds the engine thresholds.
type Config struct {
	// MinTitleThreshold is the largest trigram distance accepted on title alone.
	MinTitleThreshold float64
	// MinAuthorThreshold is the smallest author overlap that accepts a
	// trigram candidate whose title distance is above MinTitleThreshold.
	MinAuthorThreshold float64
}

// ConfigFrom converts the application matching settings.
func ConfigFrom(cfg config.MatchingConfig) Config {
	return Config{
		MinTitleThreshold:  cfg.MinTitleThreshold,
		MinAuthorThreshold: cfg.MinAuthorThreshold,
	}
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinTitleThreshold:  DefaultMinTitleThreshold,
		MinAuthorThreshold: DefaultMinAuthorThreshold,
	}
}

// Match is a matched reference with the citing books in scope and the
// matchers that found it.
type Match struct {
	ReferenceID string   `json:"reference_id"`
	BookIDs     []string `json:"book_ids"`
	Matchers    []string `json:"matchers"`
}

// Result is the union of all matcher results, ordered by reference id.
type Result struct {
	Matches []Match
}

// Empty reports whether nothing matched.
func (r *Result) Empty() bool {
	return r == nil || len(r.Matches) == 0
}

// ReferenceIDs returns the matched reference ids.
func (r *Result) ReferenceIDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.ReferenceID
	}
	return out
}

// BookIDs returns the distinct citing books across all matches, sorted.
func (r *Result) BookIDs() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, m := range r.Matches {
		for _, b := range m.BookIDs {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Engine runs the matcher cascade.
type Engine struct {
	store   Store
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewEngine creates an engine.
func NewEngine(store Store, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   store,
		cfg:     cfg,
		logger:  observability.WithComponent(logger, "matching"),
		metrics: metrics,
	}
}

// Config returns the engine thresholds.
func (e *Engine) Config() Config {
	return e.cfg
}

// Match returns every persisted reference judged to cite the same work as
// rec, restricted to scope. A record with neither DOI nor title matches
// nothing.
func (e *Engine) Match(ctx context.Context, rec domain.Record, scope domain.MatchScope) (*Result, error) {
	start := time.Now()
	acc := newAccumulator()
	logger := observability.LoggerFromContext(ctx, e.logger)

	if doi := strings.TrimSpace(rec.DOI); doi != "" {
		matches, err := e.store.FindByDOI(ctx, doi, scope)
		if err != nil {
			return nil, fmt.Errorf("doi matcher: %w", err)
		}
		acc.add(MatcherDOI, matches)
	}

	if title := strings.TrimSpace(rec.Title); title != "" {
		matches, err := e.store.FindByExactTitle(ctx, title, scope)
		if err != nil {
			return nil, fmt.Errorf("exact title matcher: %w", err)
		}
		acc.add(MatcherExactTitle, matches)

		fuzzy, err := e.matchFuzzy(ctx, title, rec.Author, scope)
		if err != nil {
			return nil, fmt.Errorf("fuzzy title matcher: %w", err)
		}
		acc.add(MatcherFuzzyTitle, fuzzy)
	}

	result := acc.result()
	e.metrics.RecordMatch(acc.counts, time.Since(start).Seconds())
	logger.Debug().
		Str("title", rec.Title).
		Str("doi", rec.DOI).
		Interface("per_matcher", acc.counts).
		Int("matches", len(result.Matches)).
		Msg("matched record")
	return result, nil
}

// matchFuzzy keeps trigram candidates within the title distance threshold,
// and the others only when their authors overlap enough.
func (e *Engine) matchFuzzy(ctx context.Context, title, authors string, scope domain.MatchScope) ([]domain.ReferenceMatch, error) {
	candidates, err := e.store.FindFuzzyTitleCandidates(ctx, title, scope)
	if err != nil {
		return nil, err
	}
	var out []domain.ReferenceMatch
	for _, c := range candidates {
		if c.Distance <= e.cfg.MinTitleThreshold || AuthorsMatch(authors, c.Authors, e.cfg.MinAuthorThreshold) {
			out = append(out, domain.ReferenceMatch{ReferenceID: c.ReferenceID, BookIDs: c.BookIDs})
		}
	}
	return out, nil
}

type accumulator struct {
	byRef  map[string]*Match
	books  map[string]map[string]bool
	counts map[string]int
}

func newAccumulator() *accumulator {
	return &accumulator{
		byRef:  make(map[string]*Match),
		books:  make(map[string]map[string]bool),
		counts: make(map[string]int),
	}
}

func (a *accumulator) add(matcher string, matches []domain.ReferenceMatch) {
	seen := make(map[string]bool)
	for _, rm := range matches {
		m, ok := a.byRef[rm.ReferenceID]
		if !ok {
			m = &Match{ReferenceID: rm.ReferenceID}
			a.byRef[rm.ReferenceID] = m
			a.books[rm.ReferenceID] = make(map[string]bool)
		}
		if !seen[rm.ReferenceID] {
			seen[rm.ReferenceID] = true
			a.counts[matcher]++
			if !containsString(m.Matchers, matcher) {
				m.Matchers = append(m.Matchers, matcher)
			}
		}
		for _, b := range rm.BookIDs {
			a.books[rm.ReferenceID][b] = true
		}
	}
}

func (a *accumulator) result() *Result {
	res := &Result{Matches: make([]Match, 0, len(a.byRef))}
	for id, m := range a.byRef {
		books := make([]string, 0, len(a.books[id]))
		for b := range a.books[id] {
			books = append(books, b)
		}
		sort.Strings(books)
		m.BookIDs = books
		res.Matches = append(res.Matches, *m)
	}
	sort.Slice(res.Matches, func(i, j int) bool {
		return res.Matches[i].ReferenceID < res.Matches[j].ReferenceID
	})
	return res
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
