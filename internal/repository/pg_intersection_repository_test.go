package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/doab-reference-service/internal/database"
	"github.com/helixir/doab-reference-service/internal/domain"
)

var intersectionColumns = []string{"id", "created_at", "reference_ids", "book_ids"}

func TestPgIntersectionRepository_ListCandidateReferenceIDs(t *testing.T) {
	for _, unclustered := range []bool{true, false} {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		repo := NewPgIntersectionRepository(mock)
		mock.ExpectQuery(`SELECT r.id\s+FROM reference r`).
			WithArgs(unclustered).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

		ids, err := repo.ListCandidateReferenceIDs(context.Background(), unclustered)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	}
}

func TestPgIntersectionRepository_ListReferenceIDsForBooks(t *testing.T) {
	t.Run("queries cited references", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT DISTINCT br.reference_id`).
			WithArgs([]string{"b1"}).
			WillReturnRows(pgxmock.NewRows([]string{"reference_id"}).AddRow("x"))

		ids, err := NewPgIntersectionRepository(mock).ListReferenceIDsForBooks(context.Background(), []string{"b1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no books no query", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		ids, err := NewPgIntersectionRepository(mock).ListReferenceIDsForBooks(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestPgIntersectionRepository_GetReferences(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgIntersectionRepository(mock)
	now := time.Now().UTC()
	older := uuid.New()

	mock.ExpectQuery(`ORDER BY i.created_at NULLS LAST, r.id`).
		WithArgs([]string{"a", "b"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "matched_id", "created_at", "book_ids"}).
			AddRow("b", &older, now, []string{"b2"}).
			AddRow("a", nil, now, []string{"b1", "b3"}))

	refs, err := repo.GetReferences(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, older, *refs[0].IntersectionID)
	assert.Nil(t, refs[1].IntersectionID)
	assert.Equal(t, []string{"b1", "b3"}, refs[1].BookIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgIntersectionRepository_Create(t *testing.T) {
	t.Run("inserts", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectExec(`INSERT INTO intersection`).
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewPgIntersectionRepository(mock).Create(context.Background(), id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectExec(`INSERT INTO intersection`).
			WithArgs(id).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err = NewPgIntersectionRepository(mock).Create(context.Background(), id)
		assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
	})
}

func TestPgIntersectionRepository_AssignReferences(t *testing.T) {
	t.Run("assigns only unclustered references", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectExec(`UPDATE reference`).
			WithArgs(id, []string{"a", "b", "c"}).
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))

		n, err := NewPgIntersectionRepository(mock).AssignReferences(context.Background(), id, []string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty list is a no-op", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		n, err := NewPgIntersectionRepository(mock).AssignReferences(context.Background(), uuid.New(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("missing intersection", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectExec(`UPDATE reference`).
			WithArgs(id, []string{"a"}).
			WillReturnError(&pgconn.PgError{Code: "23503"})

		_, err = NewPgIntersectionRepository(mock).AssignReferences(context.Background(), id, []string{"a"})
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgIntersectionRepository_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		now := time.Now().UTC()
		mock.ExpectQuery(`WHERE i.id = \$1`).
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(intersectionColumns).
				AddRow(id, now, []string{"a", "b"}, []string{"b1", "b2"}))

		in, err := NewPgIntersectionRepository(mock).Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, in.ReferenceIDs)
		assert.Equal(t, []string{"b1", "b2"}, in.BookIDs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectQuery(`WHERE i.id = \$1`).
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		_, err = NewPgIntersectionRepository(mock).Get(context.Background(), id)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgIntersectionRepository_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM intersection i`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(`ORDER BY i.created_at, i.id`).
		WithArgs("b1", 10, 0).
		WillReturnRows(pgxmock.NewRows(intersectionColumns).
			AddRow(uuid.New(), now, []string{"a", "b"}, []string{"b1", "b2"}))

	items, total, err := NewPgIntersectionRepository(mock).List(context.Background(), IntersectionFilter{BookID: "b1", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgIntersectionRepository_DeleteAll(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM intersection`).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := NewPgIntersectionRepository(mock).DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// mockTxRunner runs transactions on a pgxmock pool.
type mockTxRunner struct {
	pool pgxmock.PgxPoolIface
}

func (m mockTxRunner) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return database.RunInTransaction(ctx, m.pool, zerolog.Nop(), fn)
}

func TestPgIntersectionTransactor_InTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("create and assign commit together", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO intersection`).
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`UPDATE reference`).
			WithArgs(id, []string{"a", "b"}).
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))
		mock.ExpectCommit()

		err = NewPgIntersectionTransactor(mockTxRunner{mock}).InTransaction(ctx, func(repo IntersectionRepository) error {
			if err := repo.Create(ctx, id); err != nil {
				return err
			}
			_, err := repo.AssignReferences(ctx, id, []string{"a", "b"})
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed assign rolls back the create", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO intersection`).
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`UPDATE reference`).
			WithArgs(id, []string{"a", "b"}).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err = NewPgIntersectionTransactor(mockTxRunner{mock}).InTransaction(ctx, func(repo IntersectionRepository) error {
			if err := repo.Create(ctx, id); err != nil {
				return err
			}
			_, err := repo.AssignReferences(ctx, id, []string{"a", "b"})
			return err
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to assign references")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
