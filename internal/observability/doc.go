// Package observability provides logging and metrics support for the DOAB
// reference service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for mining, parsing, matching and intersections
//   - Context helpers for propagating book, parser and request data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "console",
//	    Output: "stderr",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("book_id", bookID).Msg("mining book")
//
// Add book context to a logger:
//
//	logger = observability.WithBookContext(logger, bookID)
//
// # Metrics
//
// Initialize metrics once per process:
//
//	metrics := observability.NewMetrics("doab")
//	metrics.RecordParse("Crossref", observability.OutcomeStored, elapsed.Seconds())
//
// # Standard Fields
//
//   - book_id: DOAB record identifier
//   - reference: normalized citation text (truncated)
//   - parser: reference parser name
//   - intersection_id: intersection cluster identifier
//   - component: emitting component (miner, matcher, intersection, server)
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
