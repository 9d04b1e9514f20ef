package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the mining and parsing metrics.
const (
	OutcomeMined      = "mined"
	OutcomeIneligible = "ineligible"
	OutcomeFailed     = "failed"
	OutcomeStored     = "stored"
	OutcomeSkipped    = "skipped"
	OutcomeNoMatch    = "no_match"
)

// Metrics contains all Prometheus metrics for the DOAB reference service.
// Metrics are organized by stage: mining, parsing, matching, intersections
// and outbound API calls. All collectors are registered via promauto with
// the default Prometheus registry.
//
// Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// BooksProcessed counts books handled by the miner, labeled by outcome.
	BooksProcessed *prometheus.CounterVec

	// ReferencesFound counts distinct normalized references discovered in books.
	ReferencesFound prometheus.Counter

	// Parses counts parser invocations, labeled by parser and outcome.
	Parses *prometheus.CounterVec

	// ParseDuration observes parser latency in seconds, labeled by parser.
	ParseDuration *prometheus.HistogramVec

	// Matches counts references returned, labeled by the matcher that found them.
	Matches *prometheus.CounterVec

	// MatchDuration observes full matching cascade latency in seconds.
	MatchDuration prometheus.Histogram

	// IntersectionsCreated counts new intersections.
	IntersectionsCreated prometheus.Counter

	// IntersectionsGrown counts updates that added references to an existing intersection.
	IntersectionsGrown prometheus.Counter

	// IntersectionMembers counts references assigned to intersections.
	IntersectionMembers prometheus.Counter

	// BatchItemErrors counts per-item failures in batch runs, labeled by operation.
	BatchItemErrors *prometheus.CounterVec

	// ExternalRequests counts outbound API requests, labeled by source and status class.
	ExternalRequests *prometheus.CounterVec

	// ExternalRequestDuration observes outbound API latency in seconds, labeled by source.
	ExternalRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		BooksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "books_processed_total",
			Help:      "Total number of books processed by the miner by outcome",
		}, []string{"outcome"}),
		ReferencesFound: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_found_total",
			Help:      "Total number of distinct references found in book artifacts",
		}),

		Parses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parses_total",
			Help:      "Total number of reference parses by parser and outcome",
		}, []string{"parser", "outcome"}),
		ParseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_duration_seconds",
			Help:      "Duration of a single reference parse in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"parser"}),

		Matches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Total number of matched references by matcher",
		}, []string{"matcher"}),
		MatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Duration of the matching cascade in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		IntersectionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intersections_created_total",
			Help:      "Total number of intersections created",
		}),
		IntersectionsGrown: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intersections_grown_total",
			Help:      "Total number of existing intersections that gained references",
		}),
		IntersectionMembers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intersection_members_total",
			Help:      "Total number of references assigned to intersections",
		}),

		BatchItemErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_item_errors_total",
			Help:      "Total number of per-item failures in batch runs by operation",
		}, []string{"operation"}),

		ExternalRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_requests_total",
			Help:      "Total number of outbound API requests by source and status class",
		}, []string{"source", "status"}),
		ExternalRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_request_duration_seconds",
			Help:      "Duration of outbound API requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
	}
}

// RecordBook records the outcome of mining one book.
func (m *Metrics) RecordBook(outcome string, references int) {
	if m == nil {
		return
	}
	m.BooksProcessed.WithLabelValues(outcome).Inc()
	if references > 0 {
		m.ReferencesFound.Add(float64(references))
	}
}

// RecordParse records one parser invocation.
func (m *Metrics) RecordParse(parser, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Parses.WithLabelValues(parser, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.ParseDuration.WithLabelValues(parser).Observe(durationSeconds)
	}
}

// RecordMatch records the references found by each matcher for one cascade run.
func (m *Metrics) RecordMatch(perMatcher map[string]int, durationSeconds float64) {
	if m == nil {
		return
	}
	for matcher, n := range perMatcher {
		if n > 0 {
			m.Matches.WithLabelValues(matcher).Add(float64(n))
		}
	}
	m.MatchDuration.Observe(durationSeconds)
}

// RecordIntersection records an intersection write.
func (m *Metrics) RecordIntersection(created bool, members int) {
	if m == nil {
		return
	}
	if created {
		m.IntersectionsCreated.Inc()
	} else {
		m.IntersectionsGrown.Inc()
	}
	m.IntersectionMembers.Add(float64(members))
}

// RecordBatchError records a per-item failure in a batch operation.
func (m *Metrics) RecordBatchError(operation string) {
	if m == nil {
		return
	}
	m.BatchItemErrors.WithLabelValues(operation).Inc()
}

// RecordExternalRequest records an outbound API request.
func (m *Metrics) RecordExternalRequest(source, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ExternalRequests.WithLabelValues(source, status).Inc()
	m.ExternalRequestDuration.WithLabelValues(source).Observe(durationSeconds)
}
