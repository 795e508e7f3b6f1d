// Package metrics defines the Prometheus collectors used by the search
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	TasksTotal          *prometheus.CounterVec
	TaskDuration        *prometheus.HistogramVec
	EntriesEmitted      *prometheus.CounterVec
	CandidatesVerified  *prometheus.CounterVec
	Reinsertions        prometheus.Counter
	ItemsSkipped        *prometheus.CounterVec
	ScaleCacheHits      prometheus.Counter
	ScaleCacheMisses    prometheus.Counter
	PoolRunning         prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simsearch_tasks_total",
				Help: "Attribute search tasks by kind and status (ok, error, cancelled).",
			},
			[]string{"kind", "status"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "simsearch_task_duration_seconds",
				Help:    "Attribute search task latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"kind"},
		),
		EntriesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simsearch_entries_emitted_total",
				Help: "Entries emitted into attribute sinks.",
			},
			[]string{"kind"},
		),
		CandidatesVerified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simsearch_candidates_verified_total",
				Help: "Candidates whose exact similarity or distance was computed.",
			},
			[]string{"kind"},
		),
		Reinsertions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "simsearch_reinsertions_total",
				Help: "Entries re-queued because their verified distance exceeded the queue head.",
			},
		),
		ItemsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simsearch_items_skipped_total",
				Help: "Dataset rows or values skipped while loading.",
			},
			[]string{"source"},
		),
		ScaleCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "simsearch_scale_cache_hits_total",
				Help: "Calibrations served from the scale cache.",
			},
		),
		ScaleCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "simsearch_scale_cache_misses_total",
				Help: "Calibrations computed because the scale cache had no entry.",
			},
		),
		PoolRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "simsearch_pool_running_workers",
				Help: "Worker goroutines currently running attribute tasks.",
			},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simsearch_events_published_total",
				Help: "Emission events sent to Kafka by status (published, dropped).",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "simsearch_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simsearch_http_requests_total",
				Help: "Requests to the side routes of the metrics server by path and status code.",
			},
			[]string{"path", "code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "simsearch_http_request_duration_seconds",
				Help:    "Side-route request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}

	reg.MustRegister(
		m.TasksTotal,
		m.TaskDuration,
		m.EntriesEmitted,
		m.CandidatesVerified,
		m.Reinsertions,
		m.ItemsSkipped,
		m.ScaleCacheHits,
		m.ScaleCacheMisses,
		m.PoolRunning,
		m.EventsPublished,
		m.CircuitBreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// NewUnregistered builds collectors on a private registry, for callers that
// do not export metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
