// Package metrics provides Prometheus metrics for the result portal.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Millisecond buckets shared by latency histograms.
var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000} //nolint:gochecknoglobals // read-only defaults

// Manager owns every collector exported by the portal.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Attendance
	attendanceEvaluations *prometheus.CounterVec
	attendanceDistanceKm  prometheus.Histogram
	attendanceMarked      *prometheus.CounterVec

	// Results
	resultLookups         *prometheus.CounterVec
	resultsImported       *prometheus.CounterVec
	importJobs            *prometheus.CounterVec
	importBatchDuplicates prometheus.Counter

	// Import queue
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueRejected    *prometheus.CounterVec

	// Import workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Store
	storeLatency *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByType      *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by the package-level helpers

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out of /metrics

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "portal",
		subsystem:        "",
		histogramBuckets: defaultLatencyBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels, Buckets: buckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	latency := m.histogramBuckets

	m.attendanceEvaluations = m.counterVec("attendance_evaluations_total",
		"Attendance eligibility evaluations by status and verdict reason", "status", "reason")
	m.attendanceDistanceKm = m.histogram("attendance_distance_km",
		"Distance between the reported device location and the school in kilometers",
		[]float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 50, 100})
	m.attendanceMarked = m.counterVec("attendance_marked_total",
		"Attendance records persisted by status", "status")

	m.resultLookups = m.counterVec("result_lookups_total",
		"Public result lookups by outcome", "outcome")
	m.resultsImported = m.counterVec("results_imported_total",
		"Result rows processed by import workers by outcome", "outcome")
	m.importJobs = m.counterVec("import_jobs_total",
		"Import jobs reaching a terminal or queued state", "state")
	m.importBatchDuplicates = m.counter("import_batches_duplicate_total",
		"Import batches rejected because their batch id was already seen")

	m.queueSize = m.gauge("import_queue_size", "Import jobs waiting in the queue")
	m.queueCapacity = m.gauge("import_queue_capacity", "Maximum number of queued import jobs")
	m.queueUtilization = m.gauge("import_queue_utilization_ratio", "Import queue size divided by capacity")
	m.queueEnqueued = m.counter("import_queue_enqueued_total", "Import jobs accepted by the queue")
	m.queueRejected = m.counterVec("import_queue_rejected_total", "Import jobs refused by the queue", "reason")

	m.workerCount = m.gauge("import_workers", "Number of import workers")
	m.workerProcessingLatency = m.histogram("import_worker_processing_milliseconds",
		"Time spent by a worker on one import job", latency)
	m.workerErrors = m.counter("import_worker_errors_total", "Import jobs that failed inside a worker")

	m.storeLatency = m.histogramVec("store_operation_milliseconds",
		"Store operation latency by backend and operation", latency, "backend", "operation")

	m.httpRequests = m.counterVec("http_requests_total",
		"HTTP requests by endpoint, method and status code", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request latency", latency, "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorsByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100})
}

func on() bool { return globalManager != nil && globalManager.enabled }

// RecordAttendanceEvaluation counts one eligibility decision.
func RecordAttendanceEvaluation(status, reason string) {
	if on() {
		globalManager.attendanceEvaluations.WithLabelValues(status, reason).Inc()
	}
}

// RecordAttendanceDistance observes a measured distance in kilometers.
func RecordAttendanceDistance(km float64) {
	if on() {
		globalManager.attendanceDistanceKm.Observe(km)
	}
}

// RecordAttendanceMarked counts a persisted attendance record.
func RecordAttendanceMarked(status string) {
	if on() {
		globalManager.attendanceMarked.WithLabelValues(status).Inc()
	}
}

// RecordResultLookup counts a lookup by outcome (found, not_found, error).
func RecordResultLookup(outcome string) {
	if on() {
		globalManager.resultLookups.WithLabelValues(outcome).Inc()
	}
}

// RecordResultsImported adds n rows with the given outcome (accepted, rejected).
func RecordResultsImported(outcome string, n int) {
	if on() && n > 0 {
		globalManager.resultsImported.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordImportJob counts an import job state transition.
func RecordImportJob(state string) {
	if on() {
		globalManager.importJobs.WithLabelValues(state).Inc()
	}
}

// RecordImportBatchDuplicate counts a replayed batch id.
func RecordImportBatchDuplicate() {
	if on() {
		globalManager.importBatchDuplicates.Inc()
	}
}

// UpdateQueueSize sets the current import queue length and utilization.
func UpdateQueueSize(size, capacity int) {
	if !on() {
		return
	}
	globalManager.queueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// UpdateQueueCapacity sets the maximum import queue capacity.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// RecordQueueEnqueue counts an accepted import job.
func RecordQueueEnqueue() {
	if on() {
		globalManager.queueEnqueued.Inc()
	}
}

// RecordQueueRejected counts a refused import job (full, closed, cancelled).
func RecordQueueRejected(reason string) {
	if on() {
		globalManager.queueRejected.WithLabelValues(reason).Inc()
	}
}

// UpdateWorkerCount sets the number of import workers.
func UpdateWorkerCount(count int) {
	if on() {
		globalManager.workerCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency observes one job's processing time.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError counts a failed import job.
func RecordWorkerError() {
	if on() {
		globalManager.workerErrors.Inc()
	}
}

// RecordStoreLatency observes a store operation.
func RecordStoreLatency(backend, operation string, latencyMs float64) {
	if on() {
		globalManager.storeLatency.WithLabelValues(backend, operation).Observe(latencyMs)
	}
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration observes HTTP request latency.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
	}
}

// RecordErrorByComponent counts an error raised by a component.
func RecordErrorByComponent(component, errorType string) {
	if on() {
		globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByType counts an error by type and severity.
func RecordErrorByType(errorType, severity string) {
	if on() {
		globalManager.errorsByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint counts an error returned by an HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if on() {
		globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// UpdateSystemMemoryUsage sets heap bytes in use.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime observes the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	if on() {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// SetEnabled toggles the package-level helpers.
func SetEnabled(enabled bool) {
	if globalManager != nil {
		globalManager.enabled = enabled
	}
}

// RefreshInterval returns how often gauges sampled by background loops should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the registry served at /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
