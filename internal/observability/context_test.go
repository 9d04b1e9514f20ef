package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Equal(t, "", RequestIDFromContext(context.Background()))
	})
}

func TestBookAndParserContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", BookIDFromContext(ctx))
	assert.Equal(t, "", ParserFromContext(ctx))

	ctx = WithBookID(ctx, "24596")
	ctx = WithParser(ctx, "Cermine")

	assert.Equal(t, "24596", BookIDFromContext(ctx))
	assert.Equal(t, "Cermine", ParserFromContext(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	t.Run("uses attached logger and context fields", func(t *testing.T) {
		var buf bytes.Buffer
		attached := zerolog.New(&buf)

		ctx := ContextWithLogger(context.Background(), attached)
		ctx = WithBookID(ctx, "24596")
		ctx = WithRequestID(ctx, "req-1")

		logger := LoggerFromContext(ctx, zerolog.Nop())
		logger.Info().Msg("hello")

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
		assert.Equal(t, "24596", logEntry["book_id"])
		assert.Equal(t, "req-1", logEntry["request_id"])
		assert.NotContains(t, logEntry, "parser")
	})

	t.Run("falls back when no logger attached", func(t *testing.T) {
		var buf bytes.Buffer
		fallback := zerolog.New(&buf)

		ctx := WithParser(context.Background(), "Anystyle")
		logger := LoggerFromContext(ctx, fallback)
		logger.Info().Msg("fallback")

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
		assert.Equal(t, "Anystyle", logEntry["parser"])
	})
}
