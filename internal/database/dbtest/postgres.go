//go:build integration

// Package dbtest starts a disposable PostgreSQL container with the service
// schema applied, for integration tests.
package dbtest

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/doab-reference-service/internal/config"
	"github.com/helixir/doab-reference-service/internal/database"
)

const image = "postgres:16-alpine"

// NewPostgres starts a container, applies migrations and returns a connected DB.
// The container and pool are released when the test finishes.
func NewPostgres(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("doab"),
		postgres.WithUsername("doab"),
		postgres.WithPassword("doab"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := configFromDSN(t, dsn)
	db, err := database.New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(db.Close)

	migrator, err := database.NewMigrator(db, MigrationsPath(t), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	return db
}

// MigrationsPath locates the repository's migrations directory from the test's
// working directory.
func MigrationsPath(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		candidate := filepath.Join(dir, "migrations")
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found above test directory")
		}
		dir = parent
	}
}

func configFromDSN(t *testing.T, dsn string) *config.DatabaseConfig {
	t.Helper()
	u, err := url.Parse(dsn)
	require.NoError(t, err)

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	password, _ := u.User.Password()

	return &config.DatabaseConfig{
		Host:              u.Hostname(),
		Port:              port,
		User:              u.User.Username(),
		Password:          password,
		Name:              filepath.Base(u.Path),
		SSLMode:           config.SSLModeDisable,
		MaxConns:          8,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   10 * time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    10 * time.Second,
	}
}
