// Package config provides configuration management for the DOAB reference service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment variable read by Load.
const EnvPrefix = "DOAB"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the DOAB reference service.
type Config struct {
	// Server contains HTTP API server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Matching contains the thresholds of the matching engine.
	Matching MatchingConfig `mapstructure:"matching"`
	// Mining contains reference mining settings.
	Mining MiningConfig `mapstructure:"mining"`
	// Parsers contains external parser tool settings.
	Parsers ParsersConfig `mapstructure:"parsers"`
	// Crossref contains the Crossref works API client settings.
	Crossref CrossrefConfig `mapstructure:"crossref"`
	// Kafka contains intersection event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// MatchingConfig holds the matching engine thresholds.
type MatchingConfig struct {
	// MinTitleThreshold is the maximum trigram distance (0.0-1.0) for a fuzzy title match.
	MinTitleThreshold float64 `mapstructure:"min_title_threshold"`
	// MinAuthorThreshold is the minimum author overlap ratio (0.0-1.0) for a fuzzy author match.
	MinAuthorThreshold float64 `mapstructure:"min_author_threshold"`
	// Transliterate folds non-ASCII letters when normalizing citation text.
	Transliterate bool `mapstructure:"transliterate"`
}

// MiningConfig holds reference mining settings.
type MiningConfig struct {
	// InputPath is the directory holding one sub-directory of artifacts per book.
	InputPath string `mapstructure:"input_path"`
	// Workers is the number of books or references processed in parallel (default: 1).
	Workers int `mapstructure:"workers"`
	// DefaultParser is the parser used by single citation matching.
	DefaultParser string `mapstructure:"default_parser"`
}

// ParsersConfig holds external parser tool settings.
type ParsersConfig struct {
	// CermineCommand is the Cermine executable name or path.
	CermineCommand string `mapstructure:"cermine_command"`
	// AnystyleCommand is the Anystyle executable name or path.
	AnystyleCommand string `mapstructure:"anystyle_command"`
	// RequireTools fails startup when a subprocess parser is not installed.
	RequireTools bool `mapstructure:"require_tools"`
}

// CrossrefConfig holds the Crossref works API client settings.
type CrossrefConfig struct {
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Mailto is the contact address sent for the polite pool (loaded from DOAB_CROSSREF_MAILTO).
	Mailto string `mapstructure:"-"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the maximum number of retries for 429 and 5xx responses.
	MaxRetries int `mapstructure:"max_retries"`
	// CacheTTL is how long resolved DOIs are cached in memory.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// KafkaConfig holds Kafka publisher settings for intersection events.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic to publish intersection events to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/doab-reference-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)
	applyLegacyDatabaseEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Crossref.Mailto = os.Getenv(EnvPrefix + "_CROSSREF_MAILTO")
}

// legacyDatabaseEnv maps the short DOAB_DB_* variable names onto database fields.
var legacyDatabaseEnv = map[string]func(*DatabaseConfig, string){
	"_DB_USER":     func(c *DatabaseConfig, v string) { c.User = v },
	"_DB_PASSWORD": func(c *DatabaseConfig, v string) { c.Password = v },
	"_DB_HOST":     func(c *DatabaseConfig, v string) { c.Host = v },
	"_DB_NAME":     func(c *DatabaseConfig, v string) { c.Name = v },
}

// applyLegacyDatabaseEnv honours DOAB_DB_* variables unless the matching
// DOAB_DATABASE_* variable is also set.
func applyLegacyDatabaseEnv(cfg *Config) {
	for suffix, set := range legacyDatabaseEnv {
		value, ok := os.LookupEnv(EnvPrefix + suffix)
		if !ok {
			continue
		}
		modern := EnvPrefix + "_DATABASE_" + strings.TrimPrefix(suffix, "_DB_")
		if _, exists := os.LookupEnv(modern); exists {
			continue
		}
		set(&cfg.Database, value)
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "doab")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "doab")
	// Use DOAB_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Matching defaults
	v.SetDefault("matching.min_title_threshold", 0.25)
	v.SetDefault("matching.min_author_threshold", 0.5)
	v.SetDefault("matching.transliterate", true)

	// Mining defaults
	v.SetDefault("mining.input_path", "out")
	v.SetDefault("mining.workers", 1)
	v.SetDefault("mining.default_parser", "Cermine")

	// Parser tool defaults
	v.SetDefault("parsers.cermine_command", "cermine")
	v.SetDefault("parsers.anystyle_command", "anystyle")
	v.SetDefault("parsers.require_tools", true)

	// Crossref defaults
	// Mailto is loaded exclusively from the environment (see loadSecrets).
	v.SetDefault("crossref.base_url", "https://api.crossref.org")
	v.SetDefault("crossref.timeout", "30s")
	v.SetDefault("crossref.rate_limit", 10.0)
	v.SetDefault("crossref.max_retries", 3)
	v.SetDefault("crossref.cache_ttl", "24h")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.doab.intersections")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "pretty":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Validate matching thresholds
	if c.Matching.MinTitleThreshold < 0 || c.Matching.MinTitleThreshold > 1 {
		return fmt.Errorf("matching min_title_threshold must be between 0 and 1")
	}
	if c.Matching.MinAuthorThreshold < 0 || c.Matching.MinAuthorThreshold > 1 {
		return fmt.Errorf("matching min_author_threshold must be between 0 and 1")
	}

	if c.Mining.Workers < 1 {
		return fmt.Errorf("mining workers must be at least 1, got %d", c.Mining.Workers)
	}
	if c.Mining.DefaultParser == "" {
		return fmt.Errorf("mining default_parser is required")
	}

	if c.Crossref.BaseURL == "" {
		return fmt.Errorf("crossref base_url is required")
	}
	if c.Crossref.RateLimit <= 0 {
		return fmt.Errorf("crossref rate_limit must be positive")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	return nil
}
