// Package repository provides data access interfaces and PostgreSQL
// implementations for the DOAB reference service.
//
// # Repository Interfaces
//
//   - BookRepository: book metadata with authors and identifiers
//   - ReferenceRepository: references, their parses, and the matching queries
//   - IntersectionRepository: intersection clusters and reference membership
//
// # Thread Safety
//
// All implementations are safe for concurrent use by multiple goroutines.
// The underlying pgxpool handles connection pooling and synchronization.
//
// # Error Handling
//
// Methods return errors from the domain package where a caller can act on them:
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrAlreadyExists: Unique constraint violation
//   - domain.ErrInvalidInput: Invalid parameters provided
//
// Everything else is wrapped with fmt.Errorf and %w.
//
// # Usage Pattern
//
//	db, _ := database.New(ctx, cfg, logger)
//	books := repository.NewPgBookRepository(db)
//	refs := repository.NewPgReferenceRepository(db)
//	clusters := repository.NewPgIntersectionRepository(db)
//	clusterTx := repository.NewPgIntersectionTransactor(db)
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/doab-reference-service/internal/database"
	"github.com/helixir/doab-reference-service/internal/domain"
)

// DBTX is the database interface supporting both pool and transaction contexts.
// PgIntersectionTransactor hands a tx-backed repository to its callback so
// several writes commit together:
//
//	err := repository.NewPgIntersectionTransactor(db).InTransaction(ctx, func(repo repository.IntersectionRepository) error {
//	    return repo.Create(ctx, id)
//	})
type DBTX = database.DBTX

// PostgreSQL error codes mapped to domain errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// applyPaginationDefaults normalizes limit and offset values for filter queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}

// scopeArgs converts a match scope into query arguments. A nil include list
// encodes as SQL NULL (no restriction); the exclude list is never NULL so
// that "<> ALL" stays true for an empty list.
func scopeArgs(scope domain.MatchScope) (include, exclude []string) {
	include = scope.BookIDs
	exclude = scope.ExcludeBookIDs
	if exclude == nil {
		exclude = []string{}
	}
	return include, exclude
}

// pgErrorCode returns the SQLSTATE of a PostgreSQL error, or "".
func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
