// Package metrics provides Prometheus metrics for the fleet report service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the report service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Render pipeline
	rendersTotal     prometheus.Counter
	renderFailures   *prometheus.CounterVec
	renderLatency    prometheus.Histogram
	renderAttempts   prometheus.Counter
	overageSignals   prometheus.Counter
	renderBytesTotal prometheus.Counter

	// Quota
	quotaUnitsUsed      prometheus.Gauge
	quotaUnitsMax       prometheus.Gauge
	quotaUnitsRemaining prometheus.Gauge
	quotaRejections     prometheus.Counter

	// Cache
	cacheHits      prometheus.Counter
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	cacheBytes     prometheus.Gauge

	// Batches and delivery
	batchesTotal      *prometheus.CounterVec
	deliveriesTotal   *prometheus.CounterVec
	batchDuration     prometheus.Histogram
	batchQueueSize    prometheus.Gauge
	batchQueueRejects prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fleetreport",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.rendersTotal = auto.NewCounter(m.counterOpts("renders_total",
		"Total number of successful external renders (each consumes one quota unit)"))
	m.renderFailures = auto.NewCounterVec(m.counterOpts("render_failures_total",
		"Render failures by kind (transient, terminal, overage)"), []string{"kind"})
	m.renderLatency = auto.NewHistogram(m.histogramOpts("render_latency_milliseconds",
		"Latency of external render calls in milliseconds, retries included",
		[]float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}))
	m.renderAttempts = auto.NewCounter(m.counterOpts("render_attempts_total",
		"Total number of HTTP attempts made against the rendering service"))
	m.overageSignals = auto.NewCounter(m.counterOpts("overage_signals_total",
		"Number of provider-reported quota violations"))
	m.renderBytesTotal = auto.NewCounter(m.counterOpts("render_bytes_total",
		"Total bytes returned by the rendering service"))

	m.quotaUnitsUsed = auto.NewGauge(m.gaugeOpts("quota_units_used", "Units consumed in the current quota period"))
	m.quotaUnitsMax = auto.NewGauge(m.gaugeOpts("quota_units_max", "Monthly unit budget"))
	m.quotaUnitsRemaining = auto.NewGauge(m.gaugeOpts("quota_units_remaining",
		"Units still available (reservations excluded)"))
	m.quotaRejections = auto.NewCounter(m.counterOpts("quota_rejections_total",
		"Batches rejected at pre-flight because the quota could not cover them"))

	m.cacheHits = auto.NewCounter(m.counterOpts("cache_hits_total", "Render cache hits"))
	m.cacheMisses = auto.NewCounterVec(m.counterOpts("cache_misses_total",
		"Render cache misses by reason (absent, expired, integrity)"), []string{"reason"})
	m.cacheEvictions = auto.NewCounterVec(m.counterOpts("cache_evictions_total",
		"Render cache evictions by reason (ttl, integrity, capacity, invalidate)"), []string{"reason"})
	m.cacheEntries = auto.NewGauge(m.gaugeOpts("cache_entries", "Number of live render cache entries"))
	m.cacheBytes = auto.NewGauge(m.gaugeOpts("cache_bytes", "Bytes held by the render cache"))

	m.batchesTotal = auto.NewCounterVec(m.counterOpts("batches_total",
		"Delivery batches by final status"), []string{"status"})
	m.deliveriesTotal = auto.NewCounterVec(m.counterOpts("deliveries_total",
		"Per-subject delivery outcomes"), []string{"status", "source"})
	m.batchDuration = auto.NewHistogram(m.histogramOpts("batch_duration_seconds",
		"Wall-clock duration of delivery batches in seconds",
		[]float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}))
	m.batchQueueSize = auto.NewGauge(m.gaugeOpts("batch_queue_size", "Batches waiting to run"))
	m.batchQueueRejects = auto.NewCounter(m.counterOpts("batch_queue_rejects_total",
		"Batch submissions rejected because the queue was full or closed"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"})
}

// RecordRender records a successful render and its payload size.
func RecordRender(bytes int) {
	globalManager.rendersTotal.Inc()
	globalManager.renderBytesTotal.Add(float64(bytes))
}

// RecordRenderFailure records a failed render by kind.
func RecordRenderFailure(kind string) {
	globalManager.renderFailures.WithLabelValues(kind).Inc()
}

// RecordRenderLatency records end-to-end render latency in milliseconds.
func RecordRenderLatency(latencyMs float64) {
	globalManager.renderLatency.Observe(latencyMs)
}

// RecordRenderAttempt counts one HTTP attempt against the renderer.
func RecordRenderAttempt() {
	globalManager.renderAttempts.Inc()
}

// RecordOverageSignal counts a provider-reported quota violation.
func RecordOverageSignal() {
	globalManager.overageSignals.Inc()
}

// UpdateQuota publishes the quota gauges.
func UpdateQuota(used, maxUnits, remaining int) {
	globalManager.quotaUnitsUsed.Set(float64(used))
	globalManager.quotaUnitsMax.Set(float64(maxUnits))
	globalManager.quotaUnitsRemaining.Set(float64(remaining))
}

// RecordQuotaRejection counts a batch rejected at pre-flight.
func RecordQuotaRejection() {
	globalManager.quotaRejections.Inc()
}

// RecordCacheHit counts a cache hit.
func RecordCacheHit() {
	globalManager.cacheHits.Inc()
}

// RecordCacheMiss counts a cache miss by reason.
func RecordCacheMiss(reason string) {
	globalManager.cacheMisses.WithLabelValues(reason).Inc()
}

// RecordCacheEviction counts n evictions for the given reason.
func RecordCacheEviction(reason string, n int) {
	globalManager.cacheEvictions.WithLabelValues(reason).Add(float64(n))
}

// UpdateCacheSize publishes the cache size gauges.
func UpdateCacheSize(entries int, bytes int64) {
	globalManager.cacheEntries.Set(float64(entries))
	globalManager.cacheBytes.Set(float64(bytes))
}

// RecordBatch counts a finished batch by status (completed, rejected, failed).
func RecordBatch(status string, durationSeconds float64) {
	globalManager.batchesTotal.WithLabelValues(status).Inc()
	globalManager.batchDuration.Observe(durationSeconds)
}

// RecordDelivery counts a per-subject outcome; source is "cache" or "render".
func RecordDelivery(status, source string) {
	globalManager.deliveriesTotal.WithLabelValues(status, source).Inc()
}

// UpdateBatchQueueSize sets the number of queued batches.
func UpdateBatchQueueSize(size int) {
	globalManager.batchQueueSize.Set(float64(size))
}

// RecordBatchQueueReject counts a rejected batch submission.
func RecordBatchQueueReject() {
	globalManager.batchQueueRejects.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the registry all package-level metrics are registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
