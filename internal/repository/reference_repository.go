package repository

import (
	"context"

	"github.com/helixir/doab-reference-service/internal/domain"
)

// ReferenceRepository manages citation references, the books citing them,
// and each parser's structured view of them. It also serves the queries
// the matching engine runs against the corpus.
type ReferenceRepository interface {
	// Upsert creates the reference if missing. Existing rows, including
	// their intersection link, are left untouched.
	Upsert(ctx context.Context, id string) error

	// LinkBook records that bookID cites the reference. Linking twice is a no-op.
	// Returns domain.ErrNotFound if the book or reference does not exist.
	LinkBook(ctx context.Context, bookID, referenceID string) error

	// ListForBook returns the references cited by the book, ordered by id.
	ListForBook(ctx context.Context, bookID string) ([]*domain.Reference, error)

	// ParsedExists reports whether parser has already produced a parse for the reference.
	ParsedExists(ctx context.Context, referenceID, parser string) (bool, error)

	// CreateParsed stores a parse.
	// Returns domain.ErrInvalidInput if the title is blank,
	// domain.ErrAlreadyExists if (reference, parser) is already stored, and
	// domain.ErrNotFound if the reference does not exist.
	CreateParsed(ctx context.Context, parsed *domain.ParsedReference) error

	// ListParsed returns every parse of the reference, ordered by parser.
	ListParsed(ctx context.Context, referenceID string) ([]*domain.ParsedReference, error)

	// ListParsedByBook returns every parse of the references cited by the
	// given books, paired with the citing book. A nil bookIDs means all books.
	ListParsedByBook(ctx context.Context, bookIDs []string) ([]domain.CitedParse, error)

	// DeleteParsed removes the parses of references cited by the given books,
	// or every parse when bookIDs is nil. Returns the number of rows removed.
	DeleteParsed(ctx context.Context, bookIDs []string) (int64, error)

	// FindByDOI returns references having a parse with exactly this DOI.
	FindByDOI(ctx context.Context, doi string, scope domain.MatchScope) ([]domain.ReferenceMatch, error)

	// FindByExactTitle returns references having a parse with exactly this title.
	FindByExactTitle(ctx context.Context, title string, scope domain.MatchScope) ([]domain.ReferenceMatch, error)

	// FindFuzzyTitleCandidates returns trigram-similar parses, closest first.
	// Comparison ignores accents. The caller decides which candidates match.
	FindFuzzyTitleCandidates(ctx context.Context, title string, scope domain.MatchScope) ([]domain.FuzzyCandidate, error)
}
