package intersection

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/matching"
	"github.com/helixir/doab-reference-service/internal/repository"
	"github.com/helixir/doab-reference-service/internal/repository/repotest"
)

type fakeLocker struct {
	busy  bool
	calls int
	key   int64
}

func (l *fakeLocker) WithAdvisoryLock(ctx context.Context, key int64, fn func(context.Context) error) error {
	l.calls++
	l.key = key
	if l.busy {
		return domain.ErrConcurrentWrite
	}
	return fn(ctx)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.IntersectionEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...*domain.IntersectionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// failingMatcher fails for one title and delegates otherwise.
type failingMatcher struct {
	next  Matcher
	title string
}

func (m failingMatcher) Match(ctx context.Context, rec domain.Record, scope domain.MatchScope) (*matching.Result, error) {
	if rec.Title == m.title {
		return nil, errors.New("store timeout")
	}
	return m.next.Match(ctx, rec, scope)
}

type fixture struct {
	store     *repotest.Store
	locker    *fakeLocker
	publisher *recordingPublisher
	builder   *Builder
}

func newFixture(t *testing.T, books ...string) *fixture {
	t.Helper()
	store := repotest.New()
	for _, id := range books {
		store.AddBook(id, "Any Press")
	}
	engine := matching.NewEngine(store.References(), matching.DefaultConfig(), zerolog.Nop(), nil)
	f := &fixture{store: store, locker: &fakeLocker{}, publisher: &recordingPublisher{}}
	f.builder = NewBuilder(store.Intersections(), store.Intersections(), store.References(), engine, f.locker, f.publisher, zerolog.Nop(), nil)
	return f
}

func titled(parser, title string) *domain.ParsedReference {
	return &domain.ParsedReference{Parser: parser, Title: title}
}

func TestBuild_CreatesIntersection(t *testing.T) {
	f := newFixture(t, "X", "Y", "Z")
	f.store.Cite("X", "Foucault, M. (1991). Discipline and Punish.", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("Y", "Foucault M. Discipline and Punish, 1991", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("Z", "Anderson, B. Imagined Communities", titled("Cermine", "Imagined Communities"))
	ctx := context.Background()

	report, err := f.builder.Build(ctx, Options{})
	require.NoError(t, err)
	assert.False(t, report.DryRun)
	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, int64(2), report.Assigned)
	assert.Equal(t, 1, f.locker.calls)
	assert.Equal(t, lockKey, f.locker.key)

	a := f.store.IntersectionOf("Foucault, M. (1991). Discipline and Punish.")
	b := f.store.IntersectionOf("Foucault M. Discipline and Punish, 1991")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, *a, *b)
	assert.Nil(t, f.store.IntersectionOf("Anderson, B. Imagined Communities"), "a lone reference forms no intersection")

	require.Len(t, f.publisher.events, 1)
	assert.True(t, f.publisher.events[0].Created)
	assert.Equal(t, *a, f.publisher.events[0].IntersectionID)

	in, err := f.store.Intersections().Get(ctx, *a)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, in.BookIDs)
}

func TestBuild_Monotonic(t *testing.T) {
	f := newFixture(t, "X", "Y", "Z")
	f.store.Cite("X", "ref x", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("Y", "ref y", titled("Cermine", "Discipline and Punish"))
	ctx := context.Background()

	_, err := f.builder.Build(ctx, Options{})
	require.NoError(t, err)
	first := *f.store.IntersectionOf("ref x")

	again, err := f.builder.Build(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Candidates, "clustered references are not candidates")
	assert.Equal(t, 1, f.store.IntersectionCount())

	f.store.Cite("Z", "ref z", titled("Anystyle", "Discipline and Punsh"))
	grown, err := f.builder.Build(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, grown.Candidates)
	assert.Zero(t, grown.Created)
	assert.Equal(t, 1, grown.Grown)
	assert.Equal(t, int64(1), grown.Assigned)

	assert.Equal(t, 1, f.store.IntersectionCount())
	for _, id := range []string{"ref x", "ref y", "ref z"} {
		assert.Equal(t, first, *f.store.IntersectionOf(id), id)
	}
	require.Len(t, f.publisher.events, 2)
	assert.False(t, f.publisher.events[1].Created)
}

func TestBuild_NoRetroactiveMerge(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.store.Cite("A", "a1", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("B", "a2", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("A", "b1", titled("Cermine", "Imagined Communities"))
	f.store.Cite("B", "b2", titled("Cermine", "Imagined Communities"))
	ctx := context.Background()

	report, err := f.builder.Build(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, report.Created)
	older := *f.store.IntersectionOf("a1")
	newer := *f.store.IntersectionOf("b1")
	require.NotEqual(t, older, newer)

	f.store.Cite("C", "c", titled("Cermine", "Discipline and Punish"), titled("Anystyle", "Imagined Communities"))
	report, err = f.builder.Build(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Grown)

	assert.Equal(t, older, *f.store.IntersectionOf("c"), "joins the oldest intersection")
	assert.Equal(t, newer, *f.store.IntersectionOf("b1"), "other intersection is left alone")
	assert.Equal(t, newer, *f.store.IntersectionOf("b2"))
	assert.Equal(t, 2, f.store.IntersectionCount())
}

func TestBuild_DryRunIsPure(t *testing.T) {
	f := newFixture(t, "X", "Y", "Z")
	f.store.Cite("X", "shared", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("Y", "shared")
	f.store.Cite("Z", "single", titled("Cermine", "Imagined Communities"))
	writes := f.store.Writes

	report, err := f.builder.Build(context.Background(), Options{DryRun: true, Workers: 4})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, []Cluster{{
		ReferenceID: "shared",
		Shared:      []SharedReference{{ReferenceID: "shared", BookIDs: []string{"X", "Y"}}},
	}}, report.Clusters)

	assert.Equal(t, writes, f.store.Writes)
	assert.Zero(t, f.store.IntersectionCount())
	assert.Zero(t, f.locker.calls)
	assert.Empty(t, f.publisher.events)
}

func TestBuild_DryRunReevaluatesClustered(t *testing.T) {
	f := newFixture(t, "X", "Y")
	f.store.Cite("X", "ref x", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("Y", "ref y", titled("Cermine", "Discipline and Punish"))
	ctx := context.Background()

	_, err := f.builder.Build(ctx, Options{})
	require.NoError(t, err)

	report, err := f.builder.Build(ctx, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Empty(t, report.Clusters, "each matched reference is cited by one book")
}

func TestBuild_BookScopeNeverWrites(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.store.Cite("A", "shared", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("B", "shared")
	f.store.Cite("A", "outside", titled("Cermine", "Imagined Communities"))
	f.store.Cite("C", "outside")
	writes := f.store.Writes

	report, err := f.builder.Build(context.Background(), Options{BookIDs: []string{"A", "B"}, DryRun: false})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, []Cluster{{
		ReferenceID: "shared",
		Shared:      []SharedReference{{ReferenceID: "shared", BookIDs: []string{"A", "B"}}},
	}}, report.Clusters)

	assert.Equal(t, writes, f.store.Writes)
	assert.Zero(t, f.store.IntersectionCount())
	assert.Zero(t, f.locker.calls)
}

func TestBuild_ConcurrentWriter(t *testing.T) {
	f := newFixture(t, "X")
	f.store.Cite("X", "ref", titled("Cermine", "Discipline and Punish"))
	f.locker.busy = true

	_, err := f.builder.Build(context.Background(), Options{})
	assert.ErrorIs(t, err, domain.ErrConcurrentWrite)
	assert.Zero(t, f.store.IntersectionCount())
}

func TestBuild_ItemFailuresDoNotAbort(t *testing.T) {
	f := newFixture(t, "X", "Y")
	f.store.Cite("X", "bad", titled("Cermine", "Broken"))
	f.store.Cite("X", "ref x", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("Y", "ref y", titled("Cermine", "Discipline and Punish"))
	f.publisher.err = errors.New("broker down")

	engine := matching.NewEngine(f.store.References(), matching.DefaultConfig(), zerolog.Nop(), nil)
	b := NewBuilder(f.store.Intersections(), f.store.Intersections(), f.store.References(), failingMatcher{next: engine, title: "Broken"}, f.locker, f.publisher, zerolog.Nop(), nil)

	report, err := b.Build(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Created)
	assert.NotNil(t, f.store.IntersectionOf("ref x"))
}

// failingAssign fails every AssignReferences call inside a transaction.
type failingAssign struct {
	repository.IntersectionRepository
}

func (failingAssign) AssignReferences(context.Context, uuid.UUID, []string) (int64, error) {
	return 0, errors.New("connection reset")
}

type failingAssignTx struct {
	inner repository.IntersectionTransactor
}

func (f failingAssignTx) InTransaction(ctx context.Context, fn func(repository.IntersectionRepository) error) error {
	return f.inner.InTransaction(ctx, func(repo repository.IntersectionRepository) error {
		return fn(failingAssign{repo})
	})
}

func TestBuild_FailedAssignLeavesNoEmptyIntersection(t *testing.T) {
	f := newFixture(t, "X", "Y")
	f.store.Cite("X", "ref x", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("Y", "ref y", titled("Cermine", "Discipline and Punish"))

	engine := matching.NewEngine(f.store.References(), matching.DefaultConfig(), zerolog.Nop(), nil)
	b := NewBuilder(f.store.Intersections(), failingAssignTx{inner: f.store.Intersections()}, f.store.References(), engine, f.locker, f.publisher, zerolog.Nop(), nil)

	report, err := b.Build(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Zero(t, report.Created)
	assert.Zero(t, f.store.IntersectionCount())
	assert.Nil(t, f.store.IntersectionOf("ref x"))
	assert.Empty(t, f.publisher.events)
}

func TestBuild_CreateUsesGeneratedID(t *testing.T) {
	f := newFixture(t, "X", "Y")
	f.store.Cite("X", "ref x", titled("Cermine", "Discipline and Punish"))
	f.store.Cite("Y", "ref y", titled("Cermine", "Discipline and Punish"))
	fixed := uuid.MustParse("6f1c1f0e-9a52-4c55-9d61-2a7d8c0b6a11")
	f.builder.newID = func() uuid.UUID { return fixed }

	_, err := f.builder.Build(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, fixed, *f.store.IntersectionOf("ref x"))
}
