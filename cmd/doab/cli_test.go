package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/doab-reference-service/internal/config"
	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/finders"
	"github.com/helixir/doab-reference-service/internal/intersection"
	"github.com/helixir/doab-reference-service/internal/matching"
	"github.com/helixir/doab-reference-service/internal/metadata"
	"github.com/helixir/doab-reference-service/internal/miner"
	"github.com/helixir/doab-reference-service/internal/parsers"
	"github.com/helixir/doab-reference-service/internal/repository/repotest"
	"github.com/helixir/doab-reference-service/internal/workerpool"
)

// pipeParser reads "authors | title" citations.
type pipeParser struct{}

func (pipeParser) Name() string            { return "Pipe" }
func (pipeParser) Accuracy() int           { return 10 }
func (pipeParser) Clean(raw string) string { return strings.TrimSpace(raw) }

func (pipeParser) Parse(_ context.Context, cleaned string) (*domain.Record, error) {
	authors, title, ok := strings.Cut(cleaned, "|")
	if !ok {
		return nil, domain.ErrNoMatch
	}
	return &domain.Record{Author: strings.TrimSpace(authors), Title: strings.TrimSpace(title), RawReference: cleaned}, nil
}

type passLocker struct{}

func (passLocker) WithAdvisoryLock(ctx context.Context, _ int64, fn func(context.Context) error) error {
	return fn(ctx)
}

func newTestApp(t *testing.T, inputPath string) (*app, *repotest.Store) {
	t.Helper()
	logger := zerolog.Nop()
	store := repotest.New()

	registry, err := parsers.NewRegistry(pipeParser{})
	require.NoError(t, err)
	engine := matching.NewEngine(store.References(), matching.DefaultConfig(), logger, nil)

	definitions := []miner.Definition{{
		Name:    "CitationTXT",
		Rule:    finders.EligibilityRule{Publishers: []string{finders.Wildcard}, FileTypes: []string{finders.ArtifactTXT}},
		Finder:  finders.CitationTXT{},
		Parsers: []string{"Pipe"},
	}}

	a := &app{
		cfg:           &config.Config{Mining: config.MiningConfig{InputPath: inputPath, Workers: 2}},
		logger:        logger,
		books:         store,
		references:    store.References(),
		intersections: store.Intersections(),
		registry:      registry,
		importer:      metadata.NewImporter(store, logger),
		resolver:      matching.NewResolver(engine, registry, "Pipe"),
		builder:       intersection.NewBuilder(store.Intersections(), store.Intersections(), store.References(), engine, passLocker{}, nil, logger, nil),
		newMiner: func() (*miner.Service, error) {
			return miner.NewService(store, store.References(), registry, definitions, nil, logger, nil, miner.Options{})
		},
	}
	return a, store
}

// execute runs the CLI against a and returns its stdout.
func execute(t *testing.T, a *app, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := &cli{
		in:  strings.NewReader(stdin),
		out: &out,
		newApp: func(_ context.Context, opts globalOptions) (*app, error) {
			opts.apply(a.cfg)
			return a, nil
		},
	}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeBook(t *testing.T, root, id, metadataJSON string, citations ...string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, finders.MetadataFile), []byte(metadataJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, finders.CitationsFile), []byte(strings.Join(citations, "\n")), 0o644))
}

func TestCLI_Workflow(t *testing.T) {
	root := t.TempDir()
	writeBook(t, root, "b1", `{"title":["Power and Prisons"],"publisher":["Springer"]}`,
		"Foucault, Michel | Discipline and Punish",
		"Said, Edward | Orientalism",
	)
	writeBook(t, root, "b2", `{"title":["Carceral Cultures"],"publisher":["Bloomsbury Academic"]}`,
		"Foucault, M. | Discipline and Punish",
		"Foucault, Michel | Discipline and Punish",
	)
	a, store := newTestApp(t, "")

	out, err := execute(t, a, "", "import-metadata", "--input-path", root)
	require.NoError(t, err)
	assert.Equal(t, "imported 2 books, 0 failed\n", out)

	out, err = execute(t, a, "", "list-books")
	require.NoError(t, err)
	assert.Contains(t, out, "b1  Springer")
	assert.Contains(t, out, "Carceral Cultures")

	out, err = execute(t, a, "", "list-publishers")
	require.NoError(t, err)
	assert.Contains(t, out, "1\tSpringer\n")
	assert.Contains(t, out, "1\tBloomsbury Academic\n")

	out, err = execute(t, a, "", "parse-references", "--dry-run", "--book-id", "b1")
	require.NoError(t, err)
	assert.Contains(t, out, "b1\tPipe\tFoucault, Michel | Discipline and Punish\n")
	assert.Zero(t, store.ParsedCount())

	out, err = execute(t, a, "", "parse-references", "--threads", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "b1\tCitationTXT\treferences=2 stored=2 skipped=0 no_match=0 failed=0\n")
	assert.Contains(t, out, "mined 2 books, 0 ineligible, 0 failed\n")
	assert.Equal(t, 3, store.ParsedCount())

	out, err = execute(t, a, "", "list-citations", "--book-id", "b2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "b2\n"), out)
	assert.Contains(t, out, "\t[Pipe] title=Discipline and Punish authors=Foucault, M.\n")
	assert.NotContains(t, out, "Orientalism")

	t.Run("match-reference", func(t *testing.T) {
		out, err := execute(t, a, "", "match-reference", "Michel Foucault | Discipline and Punish")
		require.NoError(t, err)
		assert.Equal(t,
			"parser\tPipe\n"+
				"author\tMichel Foucault\n"+
				"title\tDiscipline and Punish\n"+
				"\n"+
				"b2\tFoucault, M. | Discipline and Punish\n"+
				"b1\tFoucault, Michel | Discipline and Punish\n"+
				"b2\tFoucault, Michel | Discipline and Punish\n", out)

		out, err = execute(t, a, "", "match-reference", "Nobody | A Treatise on Nothing Whatsoever")
		require.NoError(t, err)
		assert.Equal(t, "parser\tPipe\nauthor\tNobody\ntitle\tA Treatise on Nothing Whatsoever\n\nno match\n", out)

		out, err = execute(t, a, "", "match-reference", "unparseable citation")
		require.NoError(t, err)
		assert.Equal(t, "no match\n", out)

		_, err = execute(t, a, "", "match-reference", "x | y", "--parser", "Grobid")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	out, err = execute(t, a, "", "intersect", "-n")
	require.NoError(t, err)
	assert.Contains(t, out, "\tb1,b2\tFoucault, Michel | Discipline and Punish\n")
	assert.Contains(t, out, "dry run: 3 candidates")
	assert.Zero(t, store.IntersectionCount())

	out, err = execute(t, a, "", "intersect")
	require.NoError(t, err)
	assert.Equal(t, "3 candidates, 1 intersections created, 0 grown, 2 references assigned, 0 failed\n", out)

	out, err = execute(t, a, "", "list-intersections")
	require.NoError(t, err)
	assert.Contains(t, out, "books=b1,b2\n")
	assert.Contains(t, out, "\tFoucault, M. | Discipline and Punish\n")

	out, err = execute(t, a, "", "list-references", "b1")
	require.NoError(t, err)
	assert.Contains(t, out, "-\tSaid, Edward | Orientalism\n")
	id := store.IntersectionOf("Foucault, Michel | Discipline and Punish")
	require.NotNil(t, id)
	assert.Contains(t, out, id.String()+"\tFoucault, Michel | Discipline and Punish\n")

	t.Run("nuke-intersections asks first", func(t *testing.T) {
		out, err := execute(t, a, "maybe\nn\n", "nuke-intersections")
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(out, "[y/N]"))
		assert.Contains(t, out, "aborted")
		assert.Equal(t, 1, store.IntersectionCount())

		out, err = execute(t, a, "", "nuke-intersections", "-y")
		require.NoError(t, err)
		assert.Contains(t, out, "deleted 1 intersections\n")
		assert.Zero(t, store.IntersectionCount())
	})

	t.Run("nuke-citations by book", func(t *testing.T) {
		out, err := execute(t, a, "y\n", "nuke-citations", "--book-id", "b1")
		require.NoError(t, err)
		assert.Contains(t, out, "Delete the parsed references of 1 books?")
		assert.Contains(t, out, "deleted 2 parsed references\n")
		assert.Equal(t, 1, store.ParsedCount())

		out, err = execute(t, a, "", "nuke-citations")
		require.NoError(t, err)
		assert.Contains(t, out, "aborted")
		assert.Equal(t, 1, store.ParsedCount())
	})
}

func TestCLI_ListParsers(t *testing.T) {
	a, _ := newTestApp(t, t.TempDir())
	out, err := execute(t, a, "", "list-parsers")
	require.NoError(t, err)
	assert.Equal(t, "Pipe\t10\n", out)
}

func TestCLI_IntersectByBookIsDryRun(t *testing.T) {
	a, store := newTestApp(t, t.TempDir())
	store.AddBook("b1", "Springer")
	store.AddBook("b2", "Springer")
	parse := func(title string) *domain.ParsedReference {
		return &domain.ParsedReference{Parser: "Pipe", Title: title}
	}
	store.Cite("b1", "r1", parse("Orientalism"))
	store.Cite("b2", "r1", parse("Orientalism"))

	out, err := execute(t, a, "", "intersect", "--book-id", "b1", "--book-id", "b2")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run: 1 candidates, 1 clusters")
	assert.Zero(t, store.IntersectionCount())
}

func TestPrintMineResults(t *testing.T) {
	results := []workerpool.Result[miner.Target, *miner.Result]{
		{Item: miner.Target{BookID: "b1"}, Value: &miner.Result{BookID: "b1", Miners: []string{"CitationTXT"}, References: 2, Stored: 2}},
		{Item: miner.Target{BookID: "b2"}, Value: &miner.Result{BookID: "b2"}},
		{Item: miner.Target{BookID: "b3"}, Err: errors.New("book not found")},
	}

	var out bytes.Buffer
	printMineResults(&out, results)
	assert.Equal(t,
		"b1\tCitationTXT\treferences=2 stored=2 skipped=0 no_match=0 failed=0\n"+
			"mined 1 books, 1 ineligible, 1 failed\n", out.String())
}

func TestCLI_ParseReferencesCountsIneligibleBooks(t *testing.T) {
	root := t.TempDir()
	writeBook(t, root, "b1", `{"title":["Power and Prisons"],"publisher":["Springer"]}`,
		"Foucault, Michel | Discipline and Punish")
	bare := filepath.Join(root, "b2")
	require.NoError(t, os.MkdirAll(bare, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bare, finders.MetadataFile), []byte(`{"title":["No Citations"]}`), 0o644))
	a, _ := newTestApp(t, root)

	_, err := execute(t, a, "", "import-metadata")
	require.NoError(t, err)

	out, err := execute(t, a, "", "parse-references")
	require.NoError(t, err)
	assert.Contains(t, out, "mined 1 books, 1 ineligible, 0 failed\n")
	assert.NotContains(t, out, "b2\t")
}

func TestGlobalOptions_Apply(t *testing.T) {
	cfg := &config.Config{
		Mining:  config.MiningConfig{Workers: 1, InputPath: "out"},
		Logging: config.LoggingConfig{Level: "info", Output: "stdout"},
	}
	globalOptions{threads: 8, debug: true, inputPath: "/data/doab"}.apply(cfg)

	assert.Equal(t, 8, cfg.Mining.Workers)
	assert.Equal(t, "/data/doab", cfg.Mining.InputPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "stderr", cfg.Logging.Output)

	cfg.Logging.Output = "/var/log/doab.log"
	globalOptions{}.apply(cfg)
	assert.Equal(t, 8, cfg.Mining.Workers)
	assert.Equal(t, "/var/log/doab.log", cfg.Logging.Output)
}
