package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/doab-reference-service/internal/config"
	"github.com/helixir/doab-reference-service/internal/database"
	"github.com/helixir/doab-reference-service/internal/events"
	"github.com/helixir/doab-reference-service/internal/httpclient"
	"github.com/helixir/doab-reference-service/internal/intersection"
	"github.com/helixir/doab-reference-service/internal/matching"
	"github.com/helixir/doab-reference-service/internal/metadata"
	"github.com/helixir/doab-reference-service/internal/miner"
	"github.com/helixir/doab-reference-service/internal/normalize"
	"github.com/helixir/doab-reference-service/internal/observability"
	"github.com/helixir/doab-reference-service/internal/parsers"
	"github.com/helixir/doab-reference-service/internal/repository"
)

// app holds the services the commands run against.
type app struct {
	cfg           *config.Config
	db            *database.DB
	logger        zerolog.Logger
	books         repository.BookRepository
	references    repository.ReferenceRepository
	intersections repository.IntersectionRepository
	registry      *parsers.Registry
	importer      *metadata.Importer
	resolver      *matching.Resolver
	builder       *intersection.Builder
	// newMiner is deferred so that commands which never mine do not require
	// the external parser tools.
	newMiner func() (*miner.Service, error)
	closers  []func()
}

// Close releases the database pool and the event publisher.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// apply overrides configuration with the global flags.
func (o globalOptions) apply(cfg *config.Config) {
	if o.threads > 0 {
		cfg.Mining.Workers = o.threads
	}
	if o.inputPath != "" {
		cfg.Mining.InputPath = o.inputPath
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}
	// Command output owns stdout.
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
}

// newApp loads configuration, connects to PostgreSQL and builds the services.
func newApp(ctx context.Context, opts globalOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	opts.apply(cfg)

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	books := repository.NewPgBookRepository(db)
	references := repository.NewPgReferenceRepository(db)
	intersections := repository.NewPgIntersectionRepository(db)

	crossref := httpclient.New(httpclient.Config{
		Source:     "crossref",
		Timeout:    cfg.Crossref.Timeout,
		RateLimit:  cfg.Crossref.RateLimit,
		BurstSize:  1,
		MaxRetries: cfg.Crossref.MaxRetries,
		RetryDelay: time.Second,
		Mailto:     cfg.Crossref.Mailto,
	}, nil)
	registry := parsers.NewDefaultRegistry(cfg.Parsers, cfg.Crossref, crossref, nil)

	engine := matching.NewEngine(references, matching.ConfigFrom(cfg.Matching), logger, nil)
	publisher := events.New(cfg.Kafka, logger)

	a := &app{
		cfg:           cfg,
		db:            db,
		logger:        logger,
		books:         books,
		references:    references,
		intersections: intersections,
		registry:      registry,
		importer:      metadata.NewImporter(books, logger),
		resolver:      matching.NewResolver(engine, registry, cfg.Mining.DefaultParser),
		builder:       intersection.NewBuilder(intersections, repository.NewPgIntersectionTransactor(db), references, engine, db, publisher, logger, nil),
		newMiner: func() (*miner.Service, error) {
			return miner.NewService(
				books, references, registry, miner.DefaultDefinitions(),
				normalize.New(cfg.Matching.Transliterate), logger, nil,
				miner.Options{RequireTools: cfg.Parsers.RequireTools},
			)
		},
	}
	a.closers = append(a.closers, db.Close, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close event publisher")
		}
	})
	return a, nil
}
