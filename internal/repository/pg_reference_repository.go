package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/doab-reference-service/internal/domain"
)


// Compile-time interface verification.
var _ ReferenceRepository = (*PgReferenceRepository)(nil)

// PgReferenceRepository is a PostgreSQL implementation of ReferenceRepository.
type PgReferenceRepository struct {
	db DBTX
}

// NewPgReferenceRepository creates a new PostgreSQL reference repository.
func NewPgReferenceRepository(db DBTX) *PgReferenceRepository {
	return &PgReferenceRepository{db: db}
}

// Upsert creates the reference if it does not exist.
func (r *PgReferenceRepository) Upsert(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError("reference", "reference text is required")
	}

	query := `
		INSERT INTO reference (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to upsert reference: %w", err)
	}
	return nil
}

// LinkBook records a citation from bookID to the reference.
func (r *PgReferenceRepository) LinkBook(ctx context.Context, bookID, referenceID string) error {
	query := `
		INSERT INTO book_reference (book_id, reference_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := r.db.Exec(ctx, query, bookID, referenceID); err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return domain.NewNotFoundError("book", bookID)
		}
		return fmt.Errorf("failed to link reference to book: %w", err)
	}
	return nil
}

// ListForBook returns the references cited by a book.
func (r *PgReferenceRepository) ListForBook(ctx context.Context, bookID string) ([]*domain.Reference, error) {
	query := `
		SELECT r.id, r.matched_id, r.created_at
		FROM reference r
		JOIN book_reference br ON br.reference_id = r.id
		WHERE br.book_id = $1
		ORDER BY r.id`

	rows, err := r.db.Query(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list references for book: %w", err)
	}
	defer rows.Close()

	var refs []*domain.Reference
	for rows.Next() {
		ref := &domain.Reference{BookIDs: []string{bookID}}
		if err := rows.Scan(&ref.ID, &ref.IntersectionID, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating references: %w", err)
	}

	return refs, nil
}

// ParsedExists reports whether a parse exists for (reference, parser).
func (r *PgReferenceRepository) ParsedExists(ctx context.Context, referenceID, parser string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM parsed_reference WHERE reference_id = $1 AND parser = $2
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, referenceID, parser).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check parsed reference: %w", err)
	}
	return exists, nil
}

// CreateParsed stores a parse.
func (r *PgReferenceRepository) CreateParsed(ctx context.Context, parsed *domain.ParsedReference) error {
	if parsed == nil || strings.TrimSpace(parsed.Title) == "" {
		return domain.NewValidationError("title", "parsed reference requires a title")
	}

	query := `
		INSERT INTO parsed_reference (
			reference_id, parser, raw_reference, authors, title,
			journal, volume, doi, year, pages
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		parsed.ReferenceID, parsed.Parser, parsed.RawReference, parsed.Authors, parsed.Title,
		parsed.Journal, parsed.Volume, parsed.DOI, parsed.Year, parsed.Pages,
	).Scan(&parsed.CreatedAt)
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			return domain.NewAlreadyExistsError("parsed_reference", parsed.Parser+":"+truncateID(parsed.ReferenceID))
		case pgForeignKeyViolation:
			return domain.NewNotFoundError("reference", truncateID(parsed.ReferenceID))
		}
		return fmt.Errorf("failed to create parsed reference: %w", err)
	}

	return nil
}

// ListParsed returns all parses of a reference.
func (r *PgReferenceRepository) ListParsed(ctx context.Context, referenceID string) ([]*domain.ParsedReference, error) {
	query := `
		SELECT reference_id, parser, raw_reference, authors, title,
		       journal, volume, doi, year, pages, created_at
		FROM parsed_reference
		WHERE reference_id = $1
		ORDER BY parser`

	rows, err := r.db.Query(ctx, query, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parsed references: %w", err)
	}
	defer rows.Close()

	var out []*domain.ParsedReference
	for rows.Next() {
		p, err := scanParsed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parsed reference: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parsed references: %w", err)
	}

	return out, nil
}

// ListParsedByBook returns parses paired with their citing books.
func (r *PgReferenceRepository) ListParsedByBook(ctx context.Context, bookIDs []string) ([]domain.CitedParse, error) {
	query := `
		SELECT br.book_id,
		       pr.reference_id, pr.parser, pr.raw_reference, pr.authors, pr.title,
		       pr.journal, pr.volume, pr.doi, pr.year, pr.pages, pr.created_at
		FROM parsed_reference pr
		JOIN book_reference br ON br.reference_id = pr.reference_id
		WHERE ($1::text[] IS NULL OR br.book_id = ANY($1))
		ORDER BY br.book_id, pr.reference_id, pr.parser`

	rows, err := r.db.Query(ctx, query, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list parsed references by book: %w", err)
	}
	defer rows.Close()

	var out []domain.CitedParse
	for rows.Next() {
		var (
			cp domain.CitedParse
			p  domain.ParsedReference
		)
		err := rows.Scan(&cp.BookID,
			&p.ReferenceID, &p.Parser, &p.RawReference, &p.Authors, &p.Title,
			&p.Journal, &p.Volume, &p.DOI, &p.Year, &p.Pages, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cited parse: %w", err)
		}
		cp.Parsed = &p
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cited parses: %w", err)
	}

	return out, nil
}

// DeleteParsed removes parses, optionally scoped to the references of some books.
func (r *PgReferenceRepository) DeleteParsed(ctx context.Context, bookIDs []string) (int64, error) {
	var (
		query string
		args  []interface{}
	)
	if bookIDs == nil {
		query = `DELETE FROM parsed_reference`
	} else {
		query = `
			DELETE FROM parsed_reference pr
			USING book_reference br
			WHERE br.reference_id = pr.reference_id
			  AND br.book_id = ANY($1)`
		args = append(args, bookIDs)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete parsed references: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindByDOI returns references with a parse carrying this DOI.
func (r *PgReferenceRepository) FindByDOI(ctx context.Context, doi string, scope domain.MatchScope) ([]domain.ReferenceMatch, error) {
	if strings.TrimSpace(doi) == "" {
		return nil, nil
	}

	include, exclude := scopeArgs(scope)
	query := `
		SELECT pr.reference_id, array_agg(DISTINCT br.book_id ORDER BY br.book_id)
		FROM parsed_reference pr
		JOIN book_reference br ON br.reference_id = pr.reference_id
		WHERE pr.doi = $1
		  AND ($2::text[] IS NULL OR br.book_id = ANY($2))
		  AND br.book_id <> ALL($3::text[])
		GROUP BY pr.reference_id
		ORDER BY pr.reference_id`

	return r.queryMatches(ctx, "doi", query, doi, include, exclude)
}

// FindByExactTitle returns references with a parse carrying exactly this title.
func (r *PgReferenceRepository) FindByExactTitle(ctx context.Context, title string, scope domain.MatchScope) ([]domain.ReferenceMatch, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}

	include, exclude := scopeArgs(scope)
	query := `
		SELECT pr.reference_id, array_agg(DISTINCT br.book_id ORDER BY br.book_id)
		FROM parsed_reference pr
		JOIN book_reference br ON br.reference_id = pr.reference_id
		WHERE pr.title = $1
		  AND ($2::text[] IS NULL OR br.book_id = ANY($2))
		  AND br.book_id <> ALL($3::text[])
		GROUP BY pr.reference_id
		ORDER BY pr.reference_id`

	return r.queryMatches(ctx, "exact title", query, title, include, exclude)
}

func (r *PgReferenceRepository) queryMatches(ctx context.Context, kind, query string, args ...interface{}) ([]domain.ReferenceMatch, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find references by %s: %w", kind, err)
	}
	defer rows.Close()

	var out []domain.ReferenceMatch
	for rows.Next() {
		var m domain.ReferenceMatch
		if err := rows.Scan(&m.ReferenceID, &m.BookIDs); err != nil {
			return nil, fmt.Errorf("failed to scan %s match: %w", kind, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s matches: %w", kind, err)
	}

	return out, nil
}

// FindFuzzyTitleCandidates returns every accent-insensitive trigram neighbour
// of title.
func (r *PgReferenceRepository) FindFuzzyTitleCandidates(ctx context.Context, title string, scope domain.MatchScope) ([]domain.FuzzyCandidate, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}

	include, exclude := scopeArgs(scope)
	query := `
		SELECT pr.reference_id, pr.title, pr.authors,
		       f_unaccent(pr.title) <-> f_unaccent($1) AS distance,
		       array_agg(DISTINCT br.book_id ORDER BY br.book_id)
		FROM parsed_reference pr
		JOIN book_reference br ON br.reference_id = pr.reference_id
		WHERE f_unaccent(pr.title) % f_unaccent($1)
		  AND ($2::text[] IS NULL OR br.book_id = ANY($2))
		  AND br.book_id <> ALL($3::text[])
		GROUP BY pr.reference_id, pr.parser, pr.title, pr.authors
		ORDER BY distance, pr.reference_id`

	rows, err := r.db.Query(ctx, query, title, include, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to find fuzzy title candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.FuzzyCandidate
	for rows.Next() {
		var c domain.FuzzyCandidate
		if err := rows.Scan(&c.ReferenceID, &c.Title, &c.Authors, &c.Distance, &c.BookIDs); err != nil {
			return nil, fmt.Errorf("failed to scan fuzzy candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fuzzy candidates: %w", err)
	}

	return out, nil
}

func scanParsed(row pgx.Row) (*domain.ParsedReference, error) {
	var p domain.ParsedReference
	err := row.Scan(
		&p.ReferenceID, &p.Parser, &p.RawReference, &p.Authors, &p.Title,
		&p.Journal, &p.Volume, &p.DOI, &p.Year, &p.Pages, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// truncateID shortens long reference texts for error messages.
func truncateID(id string) string {
	const max = 80
	runes := []rune(id)
	if len(runes) <= max {
		return id
	}
	return string(runes[:max]) + "..."
}
