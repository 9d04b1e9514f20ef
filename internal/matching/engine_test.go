package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/repository/repotest"
)

// ---------------------------------------------------------------------------
// Mock: Store
// ---------------------------------------------------------------------------

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindByDOI(ctx context.Context, doi string, scope domain.MatchScope) ([]domain.ReferenceMatch, error) {
	args := m.Called(ctx, doi, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ReferenceMatch), args.Error(1)
}

func (m *mockStore) FindByExactTitle(ctx context.Context, title string, scope domain.MatchScope) ([]domain.ReferenceMatch, error) {
	args := m.Called(ctx, title, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ReferenceMatch), args.Error(1)
}

func (m *mockStore) FindFuzzyTitleCandidates(ctx context.Context, title string, scope domain.MatchScope) ([]domain.FuzzyCandidate, error) {
	args := m.Called(ctx, title, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FuzzyCandidate), args.Error(1)
}

func parse(title, authors, doi string) *domain.ParsedReference {
	return &domain.ParsedReference{Parser: "Cermine", Title: title, Authors: authors, DOI: doi}
}

func newCorpus() *repotest.Store {
	s := repotest.New()
	for _, id := range []string{"X", "Y", "Z", "W"} {
		s.AddBook(id, "Any Press")
	}
	return s
}

func TestEngine_UnionsMatchers(t *testing.T) {
	store := newCorpus()
	store.Cite("X", "Foucault, M. (1991). Discipline and Punish.", parse("Discipline and Punish", "M. Foucault", ""))
	store.Cite("Y", "Foucault M 1991 Discipline and Punsh", parse("Discipline and Punsh", "", ""))
	store.Cite("Z", "Foucault, Michel. Discipline and Punish: The Birth of the Prison.", parse("Discipline and Punish: The Birth of the Prison", "Michel Foucault", "10.5555/dp"))
	store.Cite("W", "Deleuze. Discipline and Punish: The Birth of the Prison.", parse("Discipline and Punish: The Birth of the Prison", "Gilles Deleuze", ""))
	store.Cite("W", "Madness and Civilization", parse("Madness and Civilization", "Michel Foucault", "10.5555/mc"))

	engine := NewEngine(store.References(), DefaultConfig(), zerolog.Nop(), nil)
	res, err := engine.Match(context.Background(), domain.Record{
		Title:  "Discipline and Punish",
		Author: "M. Foucault",
		DOI:    "10.5555/mc",
	}, domain.MatchScope{})
	require.NoError(t, err)

	byID := make(map[string]Match)
	for _, m := range res.Matches {
		byID[m.ReferenceID] = m
	}
	require.Len(t, byID, 4)

	assert.ElementsMatch(t, []string{MatcherExactTitle, MatcherFuzzyTitle}, byID["Foucault, M. (1991). Discipline and Punish."].Matchers)
	assert.Equal(t, []string{MatcherFuzzyTitle}, byID["Foucault M 1991 Discipline and Punsh"].Matchers, "close title passes without authors")
	assert.Equal(t, []string{MatcherFuzzyTitle}, byID["Foucault, Michel. Discipline and Punish: The Birth of the Prison."].Matchers, "distant title passes on authors")
	assert.Equal(t, []string{MatcherDOI}, byID["Madness and Civilization"].Matchers)
	assert.NotContains(t, byID, "Deleuze. Discipline and Punish: The Birth of the Prison.", "distant title with other authors fails")

	assert.Equal(t, []string{"W", "X", "Y", "Z"}, res.BookIDs())
	assert.IsNonDecreasing(t, res.ReferenceIDs())
}

func TestEngine_SharedCitationAcrossBooks(t *testing.T) {
	store := newCorpus()
	const ref = "Foucault, M. (1991). Discipline and Punish."
	store.Cite("X", ref, parse("Discipline and Punish", "M. Foucault", ""))
	store.Cite("Y", ref)

	engine := NewEngine(store.References(), DefaultConfig(), zerolog.Nop(), nil)
	res, err := engine.Match(context.Background(), domain.Record{Title: "Discipline and Punish"}, domain.MatchScope{})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, []string{"X", "Y"}, res.Matches[0].BookIDs)
}

func TestEngine_DOIIgnoresTitleNoise(t *testing.T) {
	store := newCorpus()
	const doi = "10.1093/heapol/czw046"
	store.Cite("X", "ref x", parse("Health systems research in fragile settings", "", doi))
	store.Cite("Y", "ref y", parse("Hea1th systerns research in fragi1e settings", "", doi))
	store.Cite("Z", "ref z", parse("HSR fragile", "", doi))

	engine := NewEngine(store.References(), DefaultConfig(), zerolog.Nop(), nil)
	res, err := engine.Match(context.Background(), domain.Record{DOI: doi}, domain.MatchScope{})
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y", "Z"}, res.BookIDs())
	for _, m := range res.Matches {
		assert.Equal(t, []string{MatcherDOI}, m.Matchers)
	}
}

func TestEngine_Preconditions(t *testing.T) {
	t.Run("no doi skips the doi matcher", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByExactTitle", mock.Anything, "Capital", domain.MatchScope{}).Return([]domain.ReferenceMatch{}, nil)
		store.On("FindFuzzyTitleCandidates", mock.Anything, "Capital", domain.MatchScope{}).Return([]domain.FuzzyCandidate{}, nil)

		engine := NewEngine(store, DefaultConfig(), zerolog.Nop(), nil)
		res, err := engine.Match(context.Background(), domain.Record{Title: " Capital "}, domain.MatchScope{})
		require.NoError(t, err)
		assert.True(t, res.Empty())
		store.AssertExpectations(t)
		store.AssertNotCalled(t, "FindByDOI", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("neither doi nor title matches nothing", func(t *testing.T) {
		store := &mockStore{}
		engine := NewEngine(store, DefaultConfig(), zerolog.Nop(), nil)

		res, err := engine.Match(context.Background(), domain.Record{Author: "Marx", Year: "1867"}, domain.MatchScope{})
		require.NoError(t, err)
		assert.True(t, res.Empty())
		store.AssertExpectations(t)
	})

	t.Run("store errors propagate", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByDOI", mock.Anything, "10.1/x", mock.Anything).Return(nil, errors.New("connection reset"))

		engine := NewEngine(store, DefaultConfig(), zerolog.Nop(), nil)
		_, err := engine.Match(context.Background(), domain.Record{DOI: "10.1/x", Title: "T"}, domain.MatchScope{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "doi matcher")
	})
}

func TestEngine_Scope(t *testing.T) {
	store := newCorpus()
	const ref = "Foucault, M. (1991). Discipline and Punish."
	store.Cite("X", ref, parse("Discipline and Punish", "", ""))
	store.Cite("Y", ref)
	store.Cite("Z", "other", parse("Discipline and Punish", "", ""))

	engine := NewEngine(store.References(), DefaultConfig(), zerolog.Nop(), nil)
	rec := domain.Record{Title: "Discipline and Punish"}

	res, err := engine.Match(context.Background(), rec, domain.MatchScope{BookIDs: []string{"X"}})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, ref, res.Matches[0].ReferenceID)
	assert.Equal(t, []string{"X"}, res.Matches[0].BookIDs)

	res, err = engine.Match(context.Background(), rec, domain.MatchScope{ExcludeBookIDs: []string{"Z", "Y"}})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, []string{"X"}, res.Matches[0].BookIDs)
}

func TestEngine_FuzzyThresholds(t *testing.T) {
	candidates := []domain.FuzzyCandidate{
		{ReferenceID: "at-threshold", Distance: 0.25, BookIDs: []string{"A"}},
		{ReferenceID: "above-no-authors", Distance: 0.26, BookIDs: []string{"A"}},
		{ReferenceID: "above-half-authors", Distance: 0.6, Authors: "Smith", BookIDs: []string{"B"}},
		{ReferenceID: "above-third-authors", Distance: 0.6, Authors: "Smith Brown", BookIDs: []string{"C"}},
	}
	store := &mockStore{}
	store.On("FindByExactTitle", mock.Anything, "T", mock.Anything).Return(nil, nil)
	store.On("FindFuzzyTitleCandidates", mock.Anything, "T", mock.Anything).Return(candidates, nil)

	engine := NewEngine(store, DefaultConfig(), zerolog.Nop(), nil)
	res, err := engine.Match(context.Background(), domain.Record{Title: "T", Author: "Smith Jones"}, domain.MatchScope{})
	require.NoError(t, err)
	assert.Equal(t, []string{"above-half-authors", "at-threshold"}, res.ReferenceIDs())
}
