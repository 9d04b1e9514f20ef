// Package repotest provides an in-memory implementation of the repository
// interfaces for service tests. Fuzzy title lookups approximate pg_trgm:
// word trigrams, Jaccard similarity and the default 0.3 similarity limit.
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/normalize"
	"github.com/helixir/doab-reference-service/internal/repository"
)

// SimilarityLimit mirrors pg_trgm.similarity_threshold.
const SimilarityLimit = 0.3

var (
	_ repository.BookRepository         = (*Store)(nil)
	_ repository.ReferenceRepository    = (*References)(nil)
	_ repository.IntersectionRepository = (*Intersections)(nil)
	_ repository.IntersectionTransactor = (*Intersections)(nil)
)

type parseKey struct {
	reference string
	parser    string
}

type reference struct {
	id        string
	matched   *uuid.UUID
	books     map[string]bool
	createdAt time.Time
}

type intersection struct {
	id        uuid.UUID
	createdAt time.Time
}

// Store holds books, references, parses and intersections. Store itself is
// the BookRepository; References and Intersections expose the other views.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	books         map[string]*domain.Book
	references    map[string]*reference
	parsed        map[parseKey]*domain.ParsedReference
	intersections map[uuid.UUID]*intersection

	// Writes counts mutating calls on references and intersections.
	Writes int
}

// New returns an empty store.
func New() *Store {
	var tick int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Store{
		// Strictly increasing timestamps keep "oldest first" orderings deterministic.
		now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
		books:         make(map[string]*domain.Book),
		references:    make(map[string]*reference),
		parsed:        make(map[parseKey]*domain.ParsedReference),
		intersections: make(map[uuid.UUID]*intersection),
	}
}

// References returns the ReferenceRepository view of the store.
func (s *Store) References() *References { return &References{s} }

// Intersections returns the IntersectionRepository view of the store.
func (s *Store) Intersections() *Intersections { return &Intersections{s} }

// AddBook stores a book with the given publisher.
func (s *Store) AddBook(doabID, publisher string) {
	_ = s.Upsert(context.Background(), &domain.Book{DoabID: doabID, Title: "Book " + doabID, Publisher: publisher})
}

// Cite stores a reference cited by the book along with the given parses.
func (s *Store) Cite(bookID, referenceID string, parses ...*domain.ParsedReference) {
	ctx := context.Background()
	refs := s.References()
	_ = refs.Upsert(ctx, referenceID)
	_ = refs.LinkBook(ctx, bookID, referenceID)
	for _, p := range parses {
		p.ReferenceID = referenceID
		_ = refs.CreateParsed(ctx, p)
	}
}

// IntersectionOf returns the intersection of a reference, if any.
func (s *Store) IntersectionOf(referenceID string) *uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.references[referenceID]; ok && r.matched != nil {
		id := *r.matched
		return &id
	}
	return nil
}

// IntersectionCount returns the number of stored intersections.
func (s *Store) IntersectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intersections)
}

// ParsedCount returns the number of stored parses.
func (s *Store) ParsedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parsed)
}

// --- BookRepository ---

func (s *Store) Upsert(_ context.Context, book *domain.Book) error {
	if book == nil || strings.TrimSpace(book.DoabID) == "" {
		return domain.NewValidationError("doab_id", "doab_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *book
	if old, ok := s.books[book.DoabID]; ok {
		cp.CreatedAt = old.CreatedAt
	} else {
		cp.CreatedAt = s.now()
	}
	cp.UpdatedAt = s.now()
	s.books[book.DoabID] = &cp
	book.CreatedAt, book.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
	return nil
}

func (s *Store) Get(_ context.Context, doabID string) (*domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[doabID]
	if !ok {
		return nil, domain.NewNotFoundError("book", doabID)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) List(_ context.Context, filter repository.BookFilter) ([]*domain.Book, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Book
	for _, b := range s.books {
		if filter.Publisher != "" && !contains(b.Publishers(), filter.Publisher) {
			continue
		}
		cp := *b
		cp.Authors, cp.Identifiers = nil, nil
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DoabID < out[j].DoabID })
	return page(out, filter.Limit, filter.Offset), int64(len(out)), nil
}

func (s *Store) ListPublishers(_ context.Context) ([]domain.PublisherCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, b := range s.books {
		for _, p := range b.Publishers() {
			counts[p]++
		}
	}
	out := make([]domain.PublisherCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, domain.PublisherCount{Publisher: p, Books: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Books != out[j].Books {
			return out[i].Books > out[j].Books
		}
		return out[i].Publisher < out[j].Publisher
	})
	return out, nil
}

// --- ReferenceRepository ---

// References is the ReferenceRepository view of a Store.
type References struct{ s *Store }

func (r *References) Upsert(_ context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError("reference", "reference text is required")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes++
	if _, ok := s.references[id]; !ok {
		s.references[id] = &reference{id: id, books: make(map[string]bool), createdAt: s.now()}
	}
	return nil
}

func (r *References) LinkBook(_ context.Context, bookID, referenceID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[bookID]; !ok {
		return domain.NewNotFoundError("book", bookID)
	}
	ref, ok := s.references[referenceID]
	if !ok {
		return domain.NewNotFoundError("reference", referenceID)
	}
	s.Writes++
	ref.books[bookID] = true
	return nil
}

func (r *References) ListForBook(_ context.Context, bookID string) ([]*domain.Reference, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Reference
	for _, ref := range s.references {
		if ref.books[bookID] {
			out = append(out, &domain.Reference{
				ID:             ref.id,
				IntersectionID: copyID(ref.matched),
				BookIDs:        []string{bookID},
				CreatedAt:      ref.createdAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *References) ParsedExists(_ context.Context, referenceID, parser string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.parsed[parseKey{referenceID, parser}]
	return ok, nil
}

func (r *References) CreateParsed(_ context.Context, parsed *domain.ParsedReference) error {
	if parsed == nil || strings.TrimSpace(parsed.Title) == "" {
		return domain.NewValidationError("title", "a parsed reference needs a title")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.references[parsed.ReferenceID]; !ok {
		return domain.NewNotFoundError("reference", parsed.ReferenceID)
	}
	key := parseKey{parsed.ReferenceID, parsed.Parser}
	if _, ok := s.parsed[key]; ok {
		return domain.NewAlreadyExistsError("parsed_reference", parsed.Parser)
	}
	s.Writes++
	cp := *parsed
	cp.CreatedAt = s.now()
	parsed.CreatedAt = cp.CreatedAt
	s.parsed[key] = &cp
	return nil
}

func (r *References) ListParsed(_ context.Context, referenceID string) ([]*domain.ParsedReference, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ParsedReference
	for k, p := range s.parsed {
		if k.reference == referenceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parser < out[j].Parser })
	return out, nil
}

func (r *References) ListParsedByBook(_ context.Context, bookIDs []string) ([]domain.CitedParse, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CitedParse
	for k, p := range s.parsed {
		for book := range s.references[k.reference].books {
			if bookIDs != nil && !contains(bookIDs, book) {
				continue
			}
			cp := *p
			out = append(out, domain.CitedParse{BookID: book, Parsed: &cp})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.BookID != b.BookID {
			return a.BookID < b.BookID
		}
		if a.Parsed.ReferenceID != b.Parsed.ReferenceID {
			return a.Parsed.ReferenceID < b.Parsed.ReferenceID
		}
		return a.Parsed.Parser < b.Parsed.Parser
	})
	return out, nil
}

func (r *References) DeleteParsed(_ context.Context, bookIDs []string) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.parsed {
		if bookIDs == nil || citedByAny(s.references[k.reference], bookIDs) {
			delete(s.parsed, k)
			n++
		}
	}
	s.Writes++
	return n, nil
}

func (r *References) FindByDOI(_ context.Context, doi string, scope domain.MatchScope) ([]domain.ReferenceMatch, error) {
	if doi == "" {
		return nil, nil
	}
	return r.s.findMatches(scope, func(p *domain.ParsedReference) bool { return p.DOI == doi }), nil
}

func (r *References) FindByExactTitle(_ context.Context, title string, scope domain.MatchScope) ([]domain.ReferenceMatch, error) {
	if title == "" {
		return nil, nil
	}
	return r.s.findMatches(scope, func(p *domain.ParsedReference) bool { return p.Title == title }), nil
}

func (r *References) FindFuzzyTitleCandidates(_ context.Context, title string, scope domain.MatchScope) ([]domain.FuzzyCandidate, error) {
	if title == "" {
		return nil, nil
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FuzzyCandidate
	for _, p := range s.parsed {
		sim := Similarity(normalize.Transliterate(p.Title), normalize.Transliterate(title))
		if sim < SimilarityLimit {
			continue
		}
		books := scopedBooks(s.references[p.ReferenceID], scope)
		if len(books) == 0 {
			continue
		}
		out = append(out, domain.FuzzyCandidate{
			ReferenceID: p.ReferenceID,
			Title:       p.Title,
			Authors:     p.Authors,
			Distance:    1 - sim,
			BookIDs:     books,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ReferenceID < out[j].ReferenceID
	})
	return out, nil
}

func (s *Store) findMatches(scope domain.MatchScope, keep func(*domain.ParsedReference) bool) []domain.ReferenceMatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	byRef := make(map[string][]string)
	for _, p := range s.parsed {
		if !keep(p) {
			continue
		}
		if books := scopedBooks(s.references[p.ReferenceID], scope); len(books) > 0 {
			byRef[p.ReferenceID] = books
		}
	}
	out := make([]domain.ReferenceMatch, 0, len(byRef))
	for id, books := range byRef {
		out = append(out, domain.ReferenceMatch{ReferenceID: id, BookIDs: books})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceID < out[j].ReferenceID })
	return out
}

// --- IntersectionRepository ---

// Intersections is the IntersectionRepository view of a Store.
type Intersections struct{ s *Store }

func (r *Intersections) ListCandidateReferenceIDs(_ context.Context, unclusteredOnly bool) ([]string, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, ref := range s.references {
		if unclusteredOnly && ref.matched != nil {
			continue
		}
		if s.hasParse(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Intersections) ListReferenceIDsForBooks(_ context.Context, bookIDs []string) ([]string, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, ref := range s.references {
		if citedByAny(ref, bookIDs) && s.hasParse(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Intersections) GetReferences(_ context.Context, ids []string) ([]*domain.Reference, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Reference
	for _, id := range ids {
		ref, ok := s.references[id]
		if !ok {
			continue
		}
		out = append(out, &domain.Reference{
			ID:             ref.id,
			IntersectionID: copyID(ref.matched),
			BookIDs:        sortedKeys(ref.books),
			CreatedAt:      ref.createdAt,
		})
	}
	created := func(ref *domain.Reference) (time.Time, bool) {
		if ref.IntersectionID == nil {
			return time.Time{}, false
		}
		return s.intersections[*ref.IntersectionID].createdAt, true
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, ci := created(out[i])
		tj, cj := created(out[j])
		if ci != cj {
			return ci
		}
		if ci && !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Intersections) Create(_ context.Context, id uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intersections[id]; ok {
		return domain.NewAlreadyExistsError("intersection", id.String())
	}
	s.Writes++
	s.intersections[id] = &intersection{id: id, createdAt: s.now()}
	return nil
}

func (r *Intersections) AssignReferences(_ context.Context, id uuid.UUID, referenceIDs []string) (int64, error) {
	if len(referenceIDs) == 0 {
		return 0, nil
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intersections[id]; !ok {
		return 0, domain.NewNotFoundError("intersection", id.String())
	}
	s.Writes++
	var n int64
	for _, refID := range referenceIDs {
		if ref, ok := s.references[refID]; ok && ref.matched == nil {
			ref.matched = copyID(&id)
			n++
		}
	}
	return n, nil
}

// InTransaction runs fn against the store and restores the intersections and
// reference links when fn fails. Calls are not isolated from each other.
func (r *Intersections) InTransaction(_ context.Context, fn func(repo repository.IntersectionRepository) error) error {
	s := r.s
	s.mu.Lock()
	saved := make(map[uuid.UUID]*intersection, len(s.intersections))
	for id, in := range s.intersections {
		saved[id] = in
	}
	links := make(map[string]*uuid.UUID, len(s.references))
	for id, ref := range s.references {
		links[id] = copyID(ref.matched)
	}
	s.mu.Unlock()

	if err := fn(r); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.intersections = saved
		for id, ref := range s.references {
			ref.matched = links[id]
		}
		return err
	}
	return nil
}

func (r *Intersections) Get(_ context.Context, id uuid.UUID) (*domain.Intersection, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intersections[id]
	if !ok {
		return nil, domain.NewNotFoundError("intersection", id.String())
	}
	return s.intersectionView(in), nil
}

func (r *Intersections) List(_ context.Context, filter repository.IntersectionFilter) ([]*domain.Intersection, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Intersection
	for _, in := range s.intersections {
		v := s.intersectionView(in)
		if filter.BookID != "" && !contains(v.BookIDs, filter.BookID) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, filter.Limit, filter.Offset), int64(len(out)), nil
}

func (r *Intersections) DeleteAll(_ context.Context) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes++
	n := int64(len(s.intersections))
	for _, ref := range s.references {
		ref.matched = nil
	}
	s.intersections = make(map[uuid.UUID]*intersection)
	return n, nil
}

func (s *Store) intersectionView(in *intersection) *domain.Intersection {
	v := &domain.Intersection{ID: in.id, CreatedAt: in.createdAt, ReferenceIDs: []string{}, BookIDs: []string{}}
	books := make(map[string]bool)
	for id, ref := range s.references {
		if ref.matched != nil && *ref.matched == in.id {
			v.ReferenceIDs = append(v.ReferenceIDs, id)
			for b := range ref.books {
				books[b] = true
			}
		}
	}
	sort.Strings(v.ReferenceIDs)
	if len(books) > 0 {
		v.BookIDs = sortedKeys(books)
	}
	return v
}

func (s *Store) hasParse(referenceID string) bool {
	for k := range s.parsed {
		if k.reference == referenceID {
			return true
		}
	}
	return false
}

// Similarity returns the pg_trgm similarity of two strings.
func Similarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

func trigrams(s string) map[string]bool {
	out := make(map[string]bool)
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			out[string(padded[i:i+3])] = true
		}
	}
	return out
}

func scopedBooks(ref *reference, scope domain.MatchScope) []string {
	var out []string
	for b := range ref.books {
		if scope.BookIDs != nil && !contains(scope.BookIDs, b) {
			continue
		}
		if contains(scope.ExcludeBookIDs, b) {
			continue
		}
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

func citedByAny(ref *reference, bookIDs []string) bool {
	for _, b := range bookIDs {
		if ref.books[b] {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
