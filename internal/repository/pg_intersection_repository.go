package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/doab-reference-service/internal/domain"
)

// Compile-time interface verification.
var (
	_ IntersectionRepository = (*PgIntersectionRepository)(nil)
	_ IntersectionTransactor = (*PgIntersectionTransactor)(nil)
)

// PgIntersectionRepository is a PostgreSQL implementation of IntersectionRepository.
type PgIntersectionRepository struct {
	db DBTX
}

// NewPgIntersectionRepository creates a new PostgreSQL intersection repository.
func NewPgIntersectionRepository(db DBTX) *PgIntersectionRepository {
	return &PgIntersectionRepository{db: db}
}

// TxRunner runs fn inside a transaction. *database.DB implements it.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// PgIntersectionTransactor binds a PgIntersectionRepository to one transaction
// per call.
type PgIntersectionTransactor struct {
	db TxRunner
}

// NewPgIntersectionTransactor creates a transactor over db.
func NewPgIntersectionTransactor(db TxRunner) *PgIntersectionTransactor {
	return &PgIntersectionTransactor{db: db}
}

// InTransaction runs fn against a repository backed by a new transaction.
func (t *PgIntersectionTransactor) InTransaction(ctx context.Context, fn func(repo IntersectionRepository) error) error {
	return t.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(NewPgIntersectionRepository(tx))
	})
}

// intersectionSelect loads intersections with aggregated members.
const intersectionSelect = `
	SELECT i.id, i.created_at,
	       COALESCE(array_agg(DISTINCT r.id ORDER BY r.id) FILTER (WHERE r.id IS NOT NULL), '{}'::text[]),
	       COALESCE(array_agg(DISTINCT br.book_id ORDER BY br.book_id) FILTER (WHERE br.book_id IS NOT NULL), '{}'::text[])
	FROM intersection i
	LEFT JOIN reference r ON r.matched_id = i.id
	LEFT JOIN book_reference br ON br.reference_id = r.id`

// ListCandidateReferenceIDs returns references that have a titled parse.
func (r *PgIntersectionRepository) ListCandidateReferenceIDs(ctx context.Context, unclusteredOnly bool) ([]string, error) {
	query := `
		SELECT r.id
		FROM reference r
		WHERE EXISTS (SELECT 1 FROM parsed_reference pr WHERE pr.reference_id = r.id)
		  AND (NOT $1 OR r.matched_id IS NULL)
		ORDER BY r.id`

	return r.queryIDs(ctx, "candidate references", query, unclusteredOnly)
}

// ListReferenceIDsForBooks returns the parsed references cited by the books.
func (r *PgIntersectionRepository) ListReferenceIDsForBooks(ctx context.Context, bookIDs []string) ([]string, error) {
	if len(bookIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT br.reference_id
		FROM book_reference br
		WHERE br.book_id = ANY($1)
		  AND EXISTS (SELECT 1 FROM parsed_reference pr WHERE pr.reference_id = br.reference_id)
		ORDER BY br.reference_id`

	return r.queryIDs(ctx, "book references", query, bookIDs)
}

func (r *PgIntersectionRepository) queryIDs(ctx context.Context, kind, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", kind, err)
	}
	return ids, nil
}

// GetReferences loads references with their cluster link and citing books.
func (r *PgIntersectionRepository) GetReferences(ctx context.Context, ids []string) ([]*domain.Reference, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT r.id, r.matched_id, r.created_at,
		       COALESCE(array_agg(DISTINCT br.book_id ORDER BY br.book_id) FILTER (WHERE br.book_id IS NOT NULL), '{}'::text[])
		FROM reference r
		LEFT JOIN intersection i ON i.id = r.matched_id
		LEFT JOIN book_reference br ON br.reference_id = r.id
		WHERE r.id = ANY($1)
		GROUP BY r.id, r.matched_id, r.created_at, i.created_at
		ORDER BY i.created_at NULLS LAST, r.id`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get references: %w", err)
	}
	defer rows.Close()

	var refs []*domain.Reference
	for rows.Next() {
		var ref domain.Reference
		if err := rows.Scan(&ref.ID, &ref.IntersectionID, &ref.CreatedAt, &ref.BookIDs); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		refs = append(refs, &ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating references: %w", err)
	}

	return refs, nil
}

// Create inserts an intersection.
func (r *PgIntersectionRepository) Create(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `INSERT INTO intersection (id) VALUES ($1)`, id); err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return domain.NewAlreadyExistsError("intersection", id.String())
		}
		return fmt.Errorf("failed to create intersection: %w", err)
	}
	return nil
}

// AssignReferences links unclustered references to the intersection.
func (r *PgIntersectionRepository) AssignReferences(ctx context.Context, id uuid.UUID, referenceIDs []string) (int64, error) {
	if len(referenceIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE reference
		SET matched_id = $1
		WHERE id = ANY($2) AND matched_id IS NULL`

	tag, err := r.db.Exec(ctx, query, id, referenceIDs)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return 0, domain.NewNotFoundError("intersection", id.String())
		}
		return 0, fmt.Errorf("failed to assign references: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get retrieves an intersection with its members.
func (r *PgIntersectionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Intersection, error) {
	query := intersectionSelect + `
		WHERE i.id = $1
		GROUP BY i.id, i.created_at`

	in, err := scanIntersection(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("intersection", id.String())
		}
		return nil, fmt.Errorf("failed to get intersection: %w", err)
	}
	return in, nil
}

// List returns intersections with their members.
func (r *PgIntersectionRepository) List(ctx context.Context, filter IntersectionFilter) ([]*domain.Intersection, int64, error) {
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	where := `
		WHERE ($1 = '' OR EXISTS (
			SELECT 1 FROM reference r2
			JOIN book_reference br2 ON br2.reference_id = r2.id
			WHERE r2.matched_id = i.id AND br2.book_id = $1
		))`

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM intersection i`+where, filter.BookID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count intersections: %w", err)
	}

	query := intersectionSelect + where + `
		GROUP BY i.id, i.created_at
		ORDER BY i.created_at, i.id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, filter.BookID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list intersections: %w", err)
	}
	defer rows.Close()

	var out []*domain.Intersection
	for rows.Next() {
		in, err := scanIntersection(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan intersection: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating intersections: %w", err)
	}

	return out, total, nil
}

// DeleteAll removes every intersection.
func (r *PgIntersectionRepository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM intersection`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete intersections: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanIntersection(row pgx.Row) (*domain.Intersection, error) {
	var in domain.Intersection
	if err := row.Scan(&in.ID, &in.CreatedAt, &in.ReferenceIDs, &in.BookIDs); err != nil {
		return nil, err
	}
	return &in, nil
}
