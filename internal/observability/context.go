package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	bookIDKey    contextKey = "book_id"
	parserKey    contextKey = "parser"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, requestIDKey)
}

// WithBookID adds the book being processed to the context.
func WithBookID(ctx context.Context, bookID string) context.Context {
	return context.WithValue(ctx, bookIDKey, bookID)
}

// BookIDFromContext retrieves the book ID from context.
func BookIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, bookIDKey)
}

// WithParser adds the active parser name to the context.
func WithParser(ctx context.Context, parser string) context.Context {
	return context.WithValue(ctx, parserKey, parser)
}

// ParserFromContext retrieves the parser name from context.
func ParserFromContext(ctx context.Context) string {
	return stringFromContext(ctx, parserKey)
}

// ContextWithLogger attaches a logger to the context.
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// LoggerFromContext returns the context logger enriched with any request,
// book and parser values stored in ctx. When no logger is attached the
// fallback is used.
func LoggerFromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	logger := fallback
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		logger = *l
	}

	if id := RequestIDFromContext(ctx); id != "" {
		logger = logger.With().Str("request_id", id).Logger()
	}
	if id := BookIDFromContext(ctx); id != "" {
		logger = WithBookContext(logger, id)
	}
	if p := ParserFromContext(ctx); p != "" {
		logger = WithParserContext(logger, p)
	}
	return logger
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
