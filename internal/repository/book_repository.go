package repository

import (
	"context"

	"github.com/helixir/doab-reference-service/internal/domain"
)

// BookRepository manages DOAB book metadata and its supporting author and
// identifier entities.
type BookRepository interface {
	// Upsert creates or replaces a book keyed by doab_id, upserting its authors
	// by standardised name and its identifiers by value, and linking the authors
	// to the book. Existing author links are kept.
	// Returns domain.ErrInvalidInput if the doab_id is empty.
	Upsert(ctx context.Context, book *domain.Book) error

	// Get retrieves a book with its authors and identifiers.
	// Returns domain.ErrNotFound if no book has the given doab_id.
	Get(ctx context.Context, doabID string) (*domain.Book, error)

	// List retrieves books matching the filter, ordered by doab_id,
	// with the total count for pagination. Authors and identifiers are not loaded.
	List(ctx context.Context, filter BookFilter) ([]*domain.Book, int64, error)

	// ListPublishers returns each distinct publisher name with its book count,
	// most books first. Multi-publisher books count once per publisher.
	ListPublishers(ctx context.Context) ([]domain.PublisherCount, error)
}

// BookFilter defines criteria for listing books.
type BookFilter struct {
	// Publisher restricts to books carrying this publisher name.
	Publisher string
	// Limit is the maximum number of rows to return.
	Limit int
	// Offset is the number of rows to skip.
	Offset int
}
