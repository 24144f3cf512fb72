// Package metrics provides Prometheus metrics for crateseek.
//
// All recording methods are safe to call on a nil *Metrics, so components can
// run without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crateseek"

// Metrics holds all Prometheus metrics for crateseek
type Metrics struct {
	// Search metrics
	SearchRequestsTotal  *prometheus.CounterVec
	SearchDuration       *prometheus.HistogramVec
	SearchCandidates     *prometheus.HistogramVec
	LexicalDegradedTotal *prometheus.CounterVec

	// Ingestion metrics
	IngestRunsTotal        *prometheus.CounterVec
	IngestDuration         prometheus.Histogram
	IngestChunksTotal      prometheus.Counter
	IngestTagFailuresTotal prometheus.Counter
	IngestEmbeddingsTotal  prometheus.Counter
	IngestLexicalRowsTotal prometheus.Counter

	// Index metrics
	IndexDocuments  prometheus.Gauge
	IndexChunks     prometheus.Gauge
	IndexEmbeddings prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	startTime time.Time
}

// New creates all metrics and registers them with reg.
// A nil reg registers nothing, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	m.SearchRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Total number of hybrid searches",
		},
		[]string{"surface", "status"},
	)

	m.SearchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of hybrid searches in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"surface"},
	)

	m.SearchCandidates = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_candidates",
			Help:      "Number of candidates returned per signal",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"signal"},
	)

	m.LexicalDegradedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_lexical_degraded_total",
			Help:      "Lexical searches that degraded to an empty candidate list",
		},
		[]string{"reason"},
	)

	m.IngestRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Total number of ingestion runs",
		},
		[]string{"status"},
	)

	m.IngestDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of ingestion runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		},
	)

	m.IngestChunksTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_chunks_total",
		Help:      "Chunks written by ingestion",
	})

	m.IngestTagFailuresTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_tag_failures_total",
		Help:      "Chunks whose tag generation failed",
	})

	m.IngestEmbeddingsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_embeddings_total",
		Help:      "Embeddings written by ingestion",
	})

	m.IngestLexicalRowsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_lexical_rows_total",
		Help:      "Rows added to the lexical index",
	})

	m.IndexDocuments = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_documents",
		Help:      "Documents in the store",
	})

	m.IndexChunks = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_chunks",
		Help:      "Chunks in the store",
	})

	m.IndexEmbeddings = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_embeddings",
		Help:      "Chunks present in the vector index",
	})

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "code"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// RecordSearch records a finished search
func (m *Metrics) RecordSearch(surface, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(surface, status).Inc()
	m.SearchDuration.WithLabelValues(surface).Observe(duration.Seconds())
}

// RecordCandidates records the candidate count of one signal
func (m *Metrics) RecordCandidates(signal string, count int) {
	if m == nil {
		return
	}
	m.SearchCandidates.WithLabelValues(signal).Observe(float64(count))
}

// RecordLexicalDegraded counts a lexical search replaced by an empty list
func (m *Metrics) RecordLexicalDegraded(reason string) {
	if m == nil {
		return
	}
	m.LexicalDegradedTotal.WithLabelValues(reason).Inc()
}

// IngestStats is the subset of ingestion statistics exported as metrics
type IngestStats struct {
	Chunks      int
	TagFailures int
	Embeddings  int
	LexicalRows int
	Duration    time.Duration
}

// RecordIngest records a finished ingestion run
func (m *Metrics) RecordIngest(status string, stats IngestStats) {
	if m == nil {
		return
	}
	m.IngestRunsTotal.WithLabelValues(status).Inc()
	m.IngestDuration.Observe(stats.Duration.Seconds())
	m.IngestChunksTotal.Add(float64(stats.Chunks))
	m.IngestTagFailuresTotal.Add(float64(stats.TagFailures))
	m.IngestEmbeddingsTotal.Add(float64(stats.Embeddings))
	m.IngestLexicalRowsTotal.Add(float64(stats.LexicalRows))
}

// UpdateIndexStats updates index size gauges
func (m *Metrics) UpdateIndexStats(documents, chunks, embeddings int) {
	if m == nil {
		return
	}
	m.IndexDocuments.Set(float64(documents))
	m.IndexChunks.Set(float64(chunks))
	m.IndexEmbeddings.Set(float64(embeddings))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
