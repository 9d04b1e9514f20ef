package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/doab-reference-service/internal/domain"
)

// Compile-time interface verification.
var _ BookRepository = (*PgBookRepository)(nil)

// PgBookRepository is a PostgreSQL implementation of BookRepository.
type PgBookRepository struct {
	db DBTX
}

// NewPgBookRepository creates a new PostgreSQL book repository.
func NewPgBookRepository(db DBTX) *PgBookRepository {
	return &PgBookRepository{db: db}
}

// Upsert writes the book, its authors and identifiers in one batch.
func (r *PgBookRepository) Upsert(ctx context.Context, book *domain.Book) error {
	if book == nil || strings.TrimSpace(book.DoabID) == "" {
		return domain.NewValidationError("doab_id", "doab_id is required")
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO book (doab_id, title, publisher, description, doi)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doab_id) DO UPDATE SET
			title = EXCLUDED.title,
			publisher = EXCLUDED.publisher,
			description = EXCLUDED.description,
			doi = EXCLUDED.doi,
			updated_at = now()
		RETURNING created_at, updated_at`,
		book.DoabID, book.Title, book.Publisher, book.Description, book.DOI,
	)

	authors := 0
	for _, a := range book.Authors {
		if strings.TrimSpace(a.StandardisedName) == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO author (standardised_name, first_name, middle_name, last_name, reference_name)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (standardised_name) DO UPDATE SET
				first_name = EXCLUDED.first_name,
				middle_name = EXCLUDED.middle_name,
				last_name = EXCLUDED.last_name,
				reference_name = EXCLUDED.reference_name`,
			a.StandardisedName, a.FirstName, a.MiddleName, a.LastName, a.ReferenceName,
		)
		batch.Queue(`
			INSERT INTO book_author (book_id, author_name)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			book.DoabID, a.StandardisedName,
		)
		authors++
	}

	identifiers := 0
	for _, id := range book.Identifiers {
		if strings.TrimSpace(id.Value) == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO identifier (value, book_id)
			VALUES ($1, $2)
			ON CONFLICT (value) DO UPDATE SET book_id = EXCLUDED.book_id`,
			id.Value, book.DoabID,
		)
		identifiers++
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	if err := br.QueryRow().Scan(&book.CreatedAt, &book.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert book %s: %w", book.DoabID, err)
	}
	for i := 0; i < authors*2; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert author for book %s: %w", book.DoabID, err)
		}
	}
	for i := 0; i < identifiers; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert identifier for book %s: %w", book.DoabID, err)
		}
	}

	return nil
}

// Get retrieves a book with its authors and identifiers.
func (r *PgBookRepository) Get(ctx context.Context, doabID string) (*domain.Book, error) {
	query := `
		SELECT doab_id, title, publisher, description, doi, created_at, updated_at
		FROM book
		WHERE doab_id = $1`

	book, err := scanBook(r.db.QueryRow(ctx, query, doabID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("book", doabID)
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	if book.Authors, err = r.authors(ctx, doabID); err != nil {
		return nil, err
	}
	if book.Identifiers, err = r.identifiers(ctx, doabID); err != nil {
		return nil, err
	}

	return book, nil
}

func (r *PgBookRepository) authors(ctx context.Context, doabID string) ([]domain.Author, error) {
	query := `
		SELECT a.standardised_name, a.first_name, a.middle_name, a.last_name, a.reference_name
		FROM author a
		JOIN book_author ba ON ba.author_name = a.standardised_name
		WHERE ba.book_id = $1
		ORDER BY a.standardised_name`

	rows, err := r.db.Query(ctx, query, doabID)
	if err != nil {
		return nil, fmt.Errorf("failed to query book authors: %w", err)
	}
	defer rows.Close()

	var authors []domain.Author
	for rows.Next() {
		var a domain.Author
		if err := rows.Scan(&a.StandardisedName, &a.FirstName, &a.MiddleName, &a.LastName, &a.ReferenceName); err != nil {
			return nil, fmt.Errorf("failed to scan author: %w", err)
		}
		authors = append(authors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating authors: %w", err)
	}
	return authors, nil
}

func (r *PgBookRepository) identifiers(ctx context.Context, doabID string) ([]domain.Identifier, error) {
	query := `
		SELECT value, book_id
		FROM identifier
		WHERE book_id = $1
		ORDER BY value`

	rows, err := r.db.Query(ctx, query, doabID)
	if err != nil {
		return nil, fmt.Errorf("failed to query book identifiers: %w", err)
	}
	defer rows.Close()

	var ids []domain.Identifier
	for rows.Next() {
		var id domain.Identifier
		if err := rows.Scan(&id.Value, &id.BookID); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identifiers: %w", err)
	}
	return ids, nil
}

// List retrieves books matching the filter.
func (r *PgBookRepository) List(ctx context.Context, filter BookFilter) ([]*domain.Book, int64, error) {
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	where := `WHERE ($1 = '' OR $1 = ANY(string_to_array(publisher, '` + domain.PublisherSeparator + `')))`

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM book `+where, filter.Publisher).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count books: %w", err)
	}

	query := `
		SELECT doab_id, title, publisher, description, doi, created_at, updated_at
		FROM book ` + where + `
		ORDER BY doab_id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, filter.Publisher, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating books: %w", err)
	}

	return books, total, nil
}

// ListPublishers returns publisher names with their book counts.
func (r *PgBookRepository) ListPublishers(ctx context.Context) ([]domain.PublisherCount, error) {
	query := `
		SELECT btrim(p) AS name, COUNT(DISTINCT b.doab_id) AS books
		FROM book b, unnest(string_to_array(b.publisher, '` + domain.PublisherSeparator + `')) AS p
		WHERE btrim(p) <> ''
		GROUP BY btrim(p)
		ORDER BY books DESC, name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list publishers: %w", err)
	}
	defer rows.Close()

	var counts []domain.PublisherCount
	for rows.Next() {
		var pc domain.PublisherCount
		if err := rows.Scan(&pc.Publisher, &pc.Books); err != nil {
			return nil, fmt.Errorf("failed to scan publisher count: %w", err)
		}
		counts = append(counts, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publishers: %w", err)
	}

	return counts, nil
}

func scanBook(row pgx.Row) (*domain.Book, error) {
	var b domain.Book
	err := row.Scan(&b.DoabID, &b.Title, &b.Publisher, &b.Description, &b.DOI, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
