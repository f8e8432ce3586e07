package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the search path.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StageDuration   *prometheus.HistogramVec
	ResultCount     *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	RerankSkips     *prometheus.CounterVec
	ZeroResults     *prometheus.CounterVec
	IndexedFiles    prometheus.Counter
	IndexedChunks   prometheus.Counter
	BusDropped      prometheus.Gauge
	InFlight        prometheus.Gauge
	PanicsTotal     prometheus.Counter
}

// NewMetrics creates and registers all collectors on the default
// registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates collectors on a specific registry
// (tests use private registries).
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "ricesearch"
	}
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Total search requests by store and intent",
		}, []string{"store", "intent"}),
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_request_duration_seconds",
			Help:      "End-to-end search latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"store"}),
		StageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_stage_duration_seconds",
			Help:      "Per-stage search latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"stage"}),
		ResultCount: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_result_count",
			Help:      "Result counts per request",
			Buckets:   []float64{0, 1, 3, 5, 10, 25, 50, 100},
		}, []string{"store"}),
		CacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encoding_cache_hits_total",
			Help:      "Embedding and sparse cache hits",
		}),
		CacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encoding_cache_misses_total",
			Help:      "Embedding and sparse cache misses",
		}),
		RerankSkips: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_skips_total",
			Help:      "Rerank skip decisions by reason",
		}, []string{"reason"}),
		ZeroResults: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_zero_results_total",
			Help:      "Requests that returned no results",
		}, []string{"store"}),
		IndexedFiles: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_files_total",
			Help:      "Documents indexed",
		}),
		IndexedChunks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_chunks_total",
			Help:      "Chunks indexed",
		}),
		BusDropped: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events",
			Help:      "Events dropped by subscriber queue overflow",
		}),
		InFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests currently being served",
		}),
		PanicsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Recovered handler panics",
		}),
	}
}

// Observe records one request into the Prometheus collectors.
func (m *Metrics) Observe(rec Record) {
	m.RequestsTotal.WithLabelValues(rec.Store, string(rec.Intent)).Inc()
	m.RequestDuration.WithLabelValues(rec.Store).Observe(rec.Total.Seconds())
	m.ResultCount.WithLabelValues(rec.Store).Observe(float64(rec.ResultCount))

	m.StageDuration.WithLabelValues("sparse").Observe(rec.Latencies.Sparse.Seconds())
	m.StageDuration.WithLabelValues("dense").Observe(rec.Latencies.Dense.Seconds())
	m.StageDuration.WithLabelValues("fuse").Observe(rec.Latencies.Fuse.Seconds())
	m.StageDuration.WithLabelValues("rerank_pass1").Observe(rec.Latencies.RerankPass1.Seconds())
	m.StageDuration.WithLabelValues("rerank_pass2").Observe(rec.Latencies.RerankPass2.Seconds())
	m.StageDuration.WithLabelValues("post_rank").Observe(rec.Latencies.PostRank.Seconds())

	if rec.RerankSkip {
		reason := rec.SkipReason
		if reason == "" {
			reason = "unknown"
		}
		m.RerankSkips.WithLabelValues(reason).Inc()
	}
	if rec.ResultCount == 0 {
		m.ZeroResults.WithLabelValues(rec.Store).Inc()
	}
}
