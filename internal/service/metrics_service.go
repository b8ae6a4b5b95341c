package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
)

// MetricsSnapshot is a lightweight summary of process counters.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	TicksTotal               uint64    `json:"ticksTotal"`
	AlertsEmitted            uint64    `json:"alertsEmitted"`
	WorkflowsOpened          uint64    `json:"workflowsOpened"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface and the lifecycle engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	tickDuration    prometheus.Observer
	tickFailures    prometheus.Counter
	alertsEmitted   *prometheus.CounterVec
	alertDeliveries *prometheus.CounterVec
	workflowsOpened *prometheus.CounterVec
	workflowsClosed *prometheus.CounterVec
	stageOutcomes   *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	tickCount            uint64
	alertCount           uint64
	openedCount          uint64
}

// NewMetricsService registers the Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lifecycle_tick_duration_seconds",
		Help:    "Duration of one scheduler tick over a tenant population",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
	})

	tickFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_tick_credential_failures_total",
		Help: "Credentials that failed processing during a tick",
	})

	alertsEmitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_alerts_emitted_total",
		Help: "Alerts written to the outbox by kind",
	}, []string{"kind"})

	alertDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_alert_deliveries_total",
		Help: "Alert delivery attempts by result",
	}, []string{"result"})

	workflowsOpened := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_workflows_opened_total",
		Help: "Renewal workflows opened by priority",
	}, []string{"priority"})

	workflowsClosed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_workflows_closed_total",
		Help: "Renewal workflows closed by outcome",
	}, []string{"outcome"})

	stageOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_stage_outcomes_total",
		Help: "Stage observations by stage and outcome",
	}, []string{"stage", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		tickDuration, tickFailures, alertsEmitted, alertDeliveries, workflowsOpened, workflowsClosed, stageOutcomes, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		tickDuration:    tickDuration,
		tickFailures:    tickFailures,
		alertsEmitted:   alertsEmitted,
		alertDeliveries: alertDeliveries,
		workflowsOpened: workflowsOpened,
		workflowsClosed: workflowsClosed,
		stageOutcomes:   stageOutcomes,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates the hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration of cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveTick records one completed scheduler tick.
func (m *MetricsService) ObserveTick(report models.TickReport) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	if report.Failures > 0 {
		m.tickFailures.Add(float64(report.Failures))
	}
	atomic.AddUint64(&m.tickCount, 1)
}

// RecordAlertEmitted counts an alert newly written to the outbox.
func (m *MetricsService) RecordAlertEmitted(kind models.AlertKind) {
	if m == nil {
		return
	}
	m.alertsEmitted.WithLabelValues(string(kind)).Inc()
	atomic.AddUint64(&m.alertCount, 1)
}

// RecordAlertDelivery counts a delivery attempt.
func (m *MetricsService) RecordAlertDelivery(success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "delivered"
	}
	m.alertDeliveries.WithLabelValues(result).Inc()
}

// RecordWorkflowOpened counts a newly opened renewal workflow.
func (m *MetricsService) RecordWorkflowOpened(priority models.Priority) {
	if m == nil {
		return
	}
	m.workflowsOpened.WithLabelValues(string(priority)).Inc()
	atomic.AddUint64(&m.openedCount, 1)
}

// RecordWorkflowClosed counts a closed renewal workflow.
func (m *MetricsService) RecordWorkflowClosed(outcome models.WorkflowStatus) {
	if m == nil {
		return
	}
	m.workflowsClosed.WithLabelValues(string(outcome)).Inc()
}

// RecordStageOutcome counts one stage observation.
func (m *MetricsService) RecordStageOutcome(stage models.WorkflowStage, outcome models.StageStatus) {
	if m == nil {
		return
	}
	m.stageOutcomes.WithLabelValues(string(stage), string(outcome)).Inc()
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		TicksTotal:               atomic.LoadUint64(&m.tickCount),
		AlertsEmitted:            atomic.LoadUint64(&m.alertCount),
		WorkflowsOpened:          atomic.LoadUint64(&m.openedCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
