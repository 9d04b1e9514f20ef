package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/doab-reference-service/internal/domain"
)

// IntersectionRepository manages intersections: clusters of references judged
// to denote the same cited work.
type IntersectionRepository interface {
	// ListCandidateReferenceIDs returns the ids of references that have at least
	// one titled parse, ordered by id. With unclusteredOnly set, references
	// already assigned to an intersection are skipped.
	ListCandidateReferenceIDs(ctx context.Context, unclusteredOnly bool) ([]string, error)

	// ListReferenceIDsForBooks returns the ids of references cited by any of
	// the given books that have at least one titled parse, ordered by id.
	ListReferenceIDsForBooks(ctx context.Context, bookIDs []string) ([]string, error)

	// GetReferences loads the given references with their intersection link and
	// citing books. Clustered references come first, oldest intersection first,
	// then by id. Unknown ids are ignored.
	GetReferences(ctx context.Context, ids []string) ([]*domain.Reference, error)

	// Create inserts an empty intersection with the given id.
	Create(ctx context.Context, id uuid.UUID) error

	// AssignReferences links unclustered references to the intersection.
	// References already in an intersection keep their link. Returns the
	// number of references newly assigned.
	AssignReferences(ctx context.Context, id uuid.UUID, referenceIDs []string) (int64, error)

	// Get retrieves an intersection with its members.
	// Returns domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Intersection, error)

	// List returns intersections with their members, oldest first.
	List(ctx context.Context, filter IntersectionFilter) ([]*domain.Intersection, int64, error)

	// DeleteAll removes every intersection, releasing all references.
	// Returns the number of intersections removed.
	DeleteAll(ctx context.Context) (int64, error)
}

// IntersectionTransactor runs fn with an intersection repository whose writes
// commit together. When fn returns an error none of them are kept.
type IntersectionTransactor interface {
	InTransaction(ctx context.Context, fn func(repo IntersectionRepository) error) error
}

// IntersectionFilter defines pagination for listing intersections.
type IntersectionFilter struct {
	// BookID restricts to intersections with a member cited by this book.
	BookID string
	Limit  int
	Offset int
}
