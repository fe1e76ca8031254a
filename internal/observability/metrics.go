package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	PipelineRequests *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	CacheEvents      *prometheus.CounterVec
	SanitizerEvents  *prometheus.CounterVec
	RetrievedChunks  prometheus.Histogram
	ActiveStreams    prometheus.Gauge
	ProviderErrors   *prometheus.CounterVec
	RejectedRequests *prometheus.CounterVec

	stageWindow *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		PipelineRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Pipeline requests by mode and outcome.",
		}, []string{"mode", "outcome"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_ms",
			Help:      "Duration of each pipeline stage in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"stage"}),
		CacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semcache_events_total",
			Help:      "Semantic cache events by type (hit, miss, store, error).",
		}, []string{"event"}),
		SanitizerEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanitizer_events_total",
			Help:      "PII sanitizer events by type (empty, fast_path, redacted, failed_closed).",
		}, []string{"event"}),
		RetrievedChunks: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_chunks",
			Help:      "Number of context fragments returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of in-flight streaming responses.",
		}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "External provider errors by provider and code.",
		}, []string{"provider", "code"}),
		RejectedRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_requests_total",
			Help:      "Requests rejected at the boundary by reason.",
		}, []string{"reason"}),
		stageWindow: newStageWindow(256),
	}
}

// ObserveStage records one stage duration in both the Prometheus histogram
// and the rolling latency window behind /v1/perf/latency.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	m.StageDuration.WithLabelValues(stage).Observe(ms)
	m.stageWindow.Observe(stage, ms)
}

func (m *Metrics) ObserveIndicator(name string) {
	m.stageWindow.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stageWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
