// Package metrics exposes Prometheus instrumentation for the server and
// the ingestion worker. All metrics live on an explicit registry owned by
// the process, never on the package-global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics is the instrument set shared across subsystems.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface.
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	RateLimited  prometheus.Counter

	// Ingestion pipeline.
	IngestRuns    *prometheus.CounterVec
	ChunksIndexed prometheus.Counter
	SecretsFound  prometheus.Counter

	// Query pipeline.
	QueriesInFlight prometheus.Gauge
	QueryDuration   prometheus.Histogram
	QueryErrors     *prometheus.CounterVec
	QualityScore    prometheus.Histogram

	// Providers.
	EmbeddingRequests *prometheus.CounterVec
	LLMRequests       *prometheus.CounterVec

	// Maintenance.
	SessionsSwept prometheus.Counter
}

// New builds the instrument set on a fresh registry that also carries the
// standard Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "askrepo_http_requests_total",
			Help: "HTTP requests by method, route, and status class.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "askrepo_http_request_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: durationBuckets,
		}, []string{"method", "route"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "askrepo_rate_limited_total",
			Help: "Requests rejected by the per-IP token bucket.",
		}),

		IngestRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "askrepo_ingest_runs_total",
			Help: "Ingestion workflow runs by terminal status.",
		}, []string{"status"}),
		ChunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "askrepo_chunks_indexed_total",
			Help: "Chunks written to the vector index.",
		}),
		SecretsFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "askrepo_secrets_detected_total",
			Help: "Secrets detected during ingestion scans.",
		}),

		QueriesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "askrepo_queries_in_flight",
			Help: "Query pipelines currently executing.",
		}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "askrepo_query_seconds",
			Help:    "End-to-end query pipeline latency.",
			Buckets: durationBuckets,
		}),
		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "askrepo_query_errors_total",
			Help: "Query pipeline failures by category.",
		}, []string{"category"}),
		QualityScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "askrepo_response_quality_score",
			Help:    "Validation overall quality score per response.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),

		EmbeddingRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "askrepo_embedding_requests_total",
			Help: "Embedding provider calls by outcome.",
		}, []string{"outcome"}),
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "askrepo_llm_requests_total",
			Help: "LLM provider calls by outcome.",
		}, []string{"outcome"}),

		SessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "askrepo_sessions_swept_total",
			Help: "Stale session index entries removed by cleanup.",
		}),
	}
}

// The counting helpers below tolerate a nil receiver so instrumented code
// paths need no guard when a process runs without a metrics registry.

// CountIngestRun records an ingestion workflow reaching a terminal status.
func (m *Metrics) CountIngestRun(status string) {
	if m == nil {
		return
	}
	m.IngestRuns.WithLabelValues(status).Inc()
}

// AddChunksIndexed records chunks written to the vector index.
func (m *Metrics) AddChunksIndexed(n int) {
	if m == nil {
		return
	}
	m.ChunksIndexed.Add(float64(n))
}

// AddSecretsFound records detections from an ingestion scan.
func (m *Metrics) AddSecretsFound(n int) {
	if m == nil {
		return
	}
	m.SecretsFound.Add(float64(n))
}

// CountEmbedding records one embedding provider call by outcome.
func (m *Metrics) CountEmbedding(outcome string) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.WithLabelValues(outcome).Inc()
}

// CountLLM records one LLM provider call by outcome.
func (m *Metrics) CountLLM(outcome string) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(outcome).Inc()
}

// AddSessionsSwept records entries removed by the session cleanup.
func (m *Metrics) AddSessionsSwept(n int) {
	if m == nil {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

// Handler serves the exposition endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
