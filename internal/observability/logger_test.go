package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	tests := []struct {
		name string
		cfg  LoggingConfig
		want zerolog.Level
	}{
		{"defaults", DefaultLoggingConfig(), zerolog.InfoLevel},
		{"debug for --debug runs", LoggingConfig{Level: "DEBUG", Format: "json", Output: "stderr"}, zerolog.DebugLevel},
		{"console on stderr", LoggingConfig{Level: "warning", Format: "console", Output: "stderr"}, zerolog.WarnLevel},
		{"unknown level falls back to info", LoggingConfig{Level: "verbose"}, zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.cfg)
			assert.Equal(t, tt.want, logger.GetLevel())
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestOpenOutput(t *testing.T) {
	assert.Equal(t, os.Stdout, openOutput(""))
	assert.Equal(t, os.Stdout, openOutput("STDOUT"))
	assert.Equal(t, os.Stderr, openOutput("stderr"))
	assert.Equal(t, os.Stderr, openOutput(filepath.Join(t.TempDir(), "missing", "dir", "doab.log")))
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doab.log")
	logger := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	logger.Info().Msg("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestWithBookContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	enriched := WithBookContext(logger, "24596")
	enriched.Info().Msg("mining book")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "24596", logEntry["book_id"])
	assert.Equal(t, "mining book", logEntry["message"])
}

func TestWithReferenceContext(t *testing.T) {
	t.Run("short reference kept", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WithReferenceContext(zerolog.New(&buf), "Foucault, M. (1991).")
		logger.Info().Msg("parsed")

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
		assert.Equal(t, "Foucault, M. (1991).", logEntry["reference"])
	})

	t.Run("long reference truncated", func(t *testing.T) {
		var buf bytes.Buffer
		long := strings.Repeat("a", 300)
		logger := WithReferenceContext(zerolog.New(&buf), long)
		logger.Info().Msg("parsed")

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
		ref, ok := logEntry["reference"].(string)
		require.True(t, ok)
		assert.Equal(t, maxReferenceLogLen+3, len(ref))
		assert.True(t, strings.HasSuffix(ref, "..."))
	})
}

func TestLoggerContextChaining(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	enriched := WithComponent(logger, "miner")
	enriched = WithBookContext(enriched, "24596")
	enriched = WithParserContext(enriched, "Crossref")
	enriched = WithIntersectionContext(enriched, "b7d1")
	enriched.Info().Msg("chained context")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "miner", logEntry["component"])
	assert.Equal(t, "24596", logEntry["book_id"])
	assert.Equal(t, "Crossref", logEntry["parser"])
	assert.Equal(t, "b7d1", logEntry["intersection_id"])
}
