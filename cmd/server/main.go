// Package main provides the entry point for the DOAB reference HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/doab-reference-service/internal/config"
	"github.com/helixir/doab-reference-service/internal/database"
	"github.com/helixir/doab-reference-service/internal/httpclient"
	"github.com/helixir/doab-reference-service/internal/matching"
	"github.com/helixir/doab-reference-service/internal/observability"
	"github.com/helixir/doab-reference-service/internal/parsers"
	"github.com/helixir/doab-reference-service/internal/repository"
	httpserver "github.com/helixir/doab-reference-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("doab-reference-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	var metrics *observability.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("doab")
		metricsHandler = promhttp.Handler()
	}

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
	}, metrics)
	registry := parsers.NewDefaultRegistry(cfg.Parsers, cfg.Crossref, crossref, nil)
	if err := registry.CheckTools(); err != nil {
		// Citations naming a missing tool are answered with 503.
		logger.Warn().Err(err).Msg("parser tools unavailable")
	}

	engine := matching.NewEngine(references, matching.ConfigFrom(cfg.Matching), logger, metrics)
	resolver := matching.NewResolver(engine, registry, cfg.Mining.DefaultParser)

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsPath:     cfg.Metrics.Path,
	}
	httpSrv := httpserver.NewServer(httpCfg, httpserver.Deps{
		Resolver:       resolver,
		References:     references,
		Intersections:  intersections,
		Parsers:        registry,
		Health:         db,
		MetricsHandler: metricsHandler,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("http_address", httpCfg.Address).
		Bool("metrics", metricsHandler != nil).
		Msg("doab-reference-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down doab-reference-service")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("doab-reference-service shutdown complete")
	return nil
}
