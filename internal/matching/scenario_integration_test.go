//go:build integration

package matching_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/doab-reference-service/internal/database/dbtest"
	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/matching"
	"github.com/helixir/doab-reference-service/internal/parsers"
	"github.com/helixir/doab-reference-service/internal/repository"
)

// authorDateParser reads "Authors (Year). Title." citations.
type authorDateParser struct{}

func (authorDateParser) Name() string            { return "AuthorDate" }
func (authorDateParser) Accuracy() int           { return 50 }
func (authorDateParser) Clean(raw string) string { return strings.TrimSpace(raw) }

func (authorDateParser) Parse(_ context.Context, cleaned string) (*domain.Record, error) {
	authors, rest, ok := strings.Cut(cleaned, " (")
	if !ok {
		return nil, domain.ErrNoMatch
	}
	year, title, ok := strings.Cut(rest, "). ")
	if !ok {
		return nil, domain.ErrNoMatch
	}
	return &domain.Record{
		Author:       authors,
		Year:         year,
		Title:        strings.TrimSuffix(title, "."),
		RawReference: cleaned,
	}, nil
}

type corpus struct {
	books      *repository.PgBookRepository
	references *repository.PgReferenceRepository
}

func (c corpus) cite(t *testing.T, bookID, referenceID string, rec domain.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.books.Upsert(ctx, &domain.Book{DoabID: bookID, Title: "Book " + bookID, Publisher: "Springer"}))
	require.NoError(t, c.references.Upsert(ctx, referenceID))
	require.NoError(t, c.references.LinkBook(ctx, bookID, referenceID))
	err := c.references.CreateParsed(ctx, domain.NewParsedReference(referenceID, "Cermine", rec))
	if !errors.Is(err, domain.ErrAlreadyExists) {
		require.NoError(t, err)
	}
}

func TestMatching_Integration(t *testing.T) {
	db := dbtest.NewPostgres(t)
	ctx := context.Background()
	c := corpus{books: repository.NewPgBookRepository(db), references: repository.NewPgReferenceRepository(db)}

	engine := matching.NewEngine(c.references, matching.DefaultConfig(), zerolog.Nop(), nil)
	registry, err := parsers.NewRegistry(authorDateParser{})
	require.NoError(t, err)
	resolver := matching.NewResolver(engine, registry, "AuthorDate")

	const foucault = "Foucault, M. (1991). Discipline and Punish."
	c.cite(t, "X", foucault, domain.Record{Author: "Foucault, M.", Title: "Discipline and Punish", Year: "1991"})
	c.cite(t, "Y", foucault, domain.Record{Author: "Foucault, M.", Title: "Discipline and Punish", Year: "1991"})

	const doi = "10.1093/heapol/czw046"
	noisy := []struct{ book, ref, title string }{
		{"B1", "Doe, J. Health systems research in fragile settings. doi:" + doi, "Health systems research in fragile settings"},
		{"B2", "Doe J Hea1th systcms rescarch. " + doi, "Hea1th systcms rescarch"},
		{"B3", "J. Doe, HEALTH SYSTEMS, 2016, " + doi, "HEALTH SYSTEMS"},
	}
	for _, n := range noisy {
		c.cite(t, n.book, n.ref, domain.Record{Author: "Doe, J.", Title: n.title, DOI: doi})
	}

	t.Run("citation text finds every citing book", func(t *testing.T) {
		res, err := resolver.ResolveCitation(ctx, foucault, "", domain.MatchScope{})
		require.NoError(t, err)
		assert.Equal(t, "AuthorDate", res.Parser)
		assert.Equal(t, "Discipline and Punish", res.Record.Title)
		assert.Equal(t, []string{"X", "Y"}, res.Result.BookIDs())
	})

	t.Run("doi finds every book despite noisy titles", func(t *testing.T) {
		res, err := engine.Match(ctx, domain.Record{DOI: doi}, domain.MatchScope{})
		require.NoError(t, err)
		assert.Equal(t, []string{"B1", "B2", "B3"}, res.BookIDs())
		assert.Len(t, res.Matches, 3)
		for _, m := range res.Matches {
			assert.Contains(t, m.Matchers, matching.MatcherDOI)
		}
	})

	t.Run("trigram distance tolerates punctuation and accents", func(t *testing.T) {
		c.cite(t, "Z", "Said, E. Orientalism: Western Conceptions of the Orient", domain.Record{
			Author: "Said, E.",
			Title:  "Orientalism: Western Conceptions of the Orient",
		})
		res, err := engine.Match(ctx, domain.Record{Title: "Orientalísm. Western conceptions of the Orient"}, domain.MatchScope{})
		require.NoError(t, err)
		require.Len(t, res.Matches, 1)
		assert.Equal(t, []string{matching.MatcherFuzzyTitle}, res.Matches[0].Matchers)
		assert.Equal(t, []string{"Z"}, res.Matches[0].BookIDs)
	})

	t.Run("scope excludes books", func(t *testing.T) {
		res, err := engine.Match(ctx, domain.Record{DOI: doi}, domain.MatchScope{ExcludeBookIDs: []string{"B2"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"B1", "B3"}, res.BookIDs())
	})

	t.Run("unknown work matches nothing", func(t *testing.T) {
		res, err := engine.Match(ctx, domain.Record{Title: "A Treatise on Nothing Whatsoever"}, domain.MatchScope{})
		require.NoError(t, err)
		assert.True(t, res.Empty())
	})
}
