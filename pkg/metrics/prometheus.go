// Package metrics provides Prometheus metrics for the starkpi ETL engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the ETL service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Run Metrics - what every batch did
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	stageDuration     *prometheus.HistogramVec
	recordsTotal      *prometheus.CounterVec
	kpiRowsRecomputed prometheus.Counter
	qualityDeviations *prometheus.CounterVec
	lastRunUnix       *prometheus.GaugeVec
	lockWait          prometheus.Histogram
	lockContention    prometheus.Counter

	// Extraction Metrics
	extractLatency prometheus.Histogram
	extractErrors  *prometheus.CounterVec
	extractRetries prometheus.Counter
	extractRecords prometheus.Counter

	// Repository Metrics
	repositoryQueryLatency *prometheus.HistogramVec
	repositoryRowsTotal    *prometheus.GaugeVec

	// Replica Metrics
	replicaRowsPublished prometheus.Counter
	replicaErrors        prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Trigger Queue Metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueCoalesced         prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker Metrics
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter
	workerBusy              prometheus.Gauge

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "starkpi",
		subsystem:        "etl",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels}
}

func (m *Manager) gauge(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels}
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.customLabels}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	// Run Metrics
	m.runsTotal = auto.NewCounterVec(m.counter("runs_total", "Total number of ETL runs by status and quality verdict"),
		[]string{"status", "verdict"})
	m.runDuration = auto.NewHistogram(m.histogram("run_duration_milliseconds", "End-to-end run duration in milliseconds", nil))
	m.stageDuration = auto.NewHistogramVec(m.histogram("stage_duration_milliseconds", "Duration of each run stage in milliseconds", nil),
		[]string{"stage"})
	m.recordsTotal = auto.NewCounterVec(m.counter("records_total", "Raw records by outcome (accepted, duplicate, malformed, unknown_event_type)"),
		[]string{"outcome"})
	m.kpiRowsRecomputed = auto.NewCounter(m.counter("kpi_rows_recomputed_total", "Daily KPI rows replaced"))
	m.qualityDeviations = auto.NewCounterVec(m.counter("quality_deviations_total", "Quality gate deviations by check"),
		[]string{"check"})
	m.lastRunUnix = auto.NewGaugeVec(m.gauge("last_run_unix_seconds", "Finish time of the last run by status"),
		[]string{"status"})
	m.lockWait = auto.NewHistogram(m.histogram("lock_wait_milliseconds", "Time spent waiting for the warehouse run lock", nil))
	m.lockContention = auto.NewCounter(m.counter("lock_contention_total", "Runs rejected because the warehouse lock was held"))

	// Extraction Metrics
	m.extractLatency = auto.NewHistogram(m.histogram("extract_latency_milliseconds", "Time to extract one batch from the source", nil))
	m.extractErrors = auto.NewCounterVec(m.counter("extract_errors_total", "Extraction failures by kind"),
		[]string{"kind"})
	m.extractRetries = auto.NewCounter(m.counter("extract_retries_total", "Retried source requests"))
	m.extractRecords = auto.NewCounter(m.counter("extract_records_total", "Raw records received from the source"))

	// Repository Metrics
	m.repositoryQueryLatency = auto.NewHistogramVec(m.histogram("repository_query_latency_milliseconds", "Warehouse query latency by operation",
		[]float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000}),
		[]string{"operation"})
	m.repositoryRowsTotal = auto.NewGaugeVec(m.gauge("repository_rows", "Row count per warehouse table after the last run"),
		[]string{"table"})

	// Replica Metrics
	m.replicaRowsPublished = auto.NewCounter(m.counter("replica_rows_published_total", "KPI rows mirrored to the replica"))
	m.replicaErrors = auto.NewCounter(m.counter("replica_errors_total", "Failed replica publishes"))

	// HTTP Performance Metrics
	m.httpRequests = auto.NewCounterVec(m.counter("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogram("http_request_duration_milliseconds", "HTTP request duration in milliseconds", nil),
		[]string{"endpoint", "method", "status_code"})

	// Trigger Queue Metrics
	m.queueSize = auto.NewGauge(m.gauge("queue_size", "Pending run requests"))
	m.queueCapacity = auto.NewGauge(m.gauge("queue_capacity", "Maximum pending run requests"))
	m.queueEnqueueRate = auto.NewCounter(m.counter("queue_enqueue_total", "Run requests accepted"))
	m.queueDequeueRate = auto.NewCounter(m.counter("queue_dequeue_total", "Run requests handed to the runner"))
	m.queueEnqueueErrors = auto.NewCounter(m.counter("queue_enqueue_errors_total", "Run requests rejected (queue full or closed)"))
	m.queueCoalesced = auto.NewCounter(m.counter("queue_coalesced_total", "Run requests merged into an already pending one"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogram("queue_processing_latency_milliseconds", "Time from enqueue to dequeue", nil))

	// Worker Metrics
	m.workerProcessingLatency = auto.NewHistogram(m.histogram("worker_processing_latency_milliseconds", "Time the runner spent on one request", nil))
	m.workerErrorRate = auto.NewCounter(m.counter("worker_errors_total", "Run requests that ended in error"))
	m.workerBusy = auto.NewGauge(m.gauge("worker_busy", "1 while the runner executes a request"))

	// Error Metrics
	m.errorRateByComponent = auto.NewCounterVec(m.counter("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counter("errors_by_endpoint_total", "Errors by endpoint, method and type"),
		[]string{"endpoint", "method", "error_type"})

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(m.gauge("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gauge("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// Run Metrics Functions.

// RecordRun counts a finished run.
func RecordRun(status, verdict string) {
	globalManager.runsTotal.WithLabelValues(status, verdict).Inc()
}

// RecordRunDuration records end-to-end run duration in milliseconds.
func RecordRunDuration(ms float64) {
	globalManager.runDuration.Observe(ms)
}

// RecordStageDuration records the duration of one run stage in milliseconds.
func RecordStageDuration(stage string, ms float64) {
	globalManager.stageDuration.WithLabelValues(stage).Observe(ms)
}

// RecordRecords adds n records with the given outcome.
func RecordRecords(outcome string, n int) {
	if n > 0 {
		globalManager.recordsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordKPIRowsRecomputed adds n replaced KPI rows.
func RecordKPIRowsRecomputed(n int) {
	if n > 0 {
		globalManager.kpiRowsRecomputed.Add(float64(n))
	}
}

// RecordQualityDeviation counts one deviation of check.
func RecordQualityDeviation(check string) {
	globalManager.qualityDeviations.WithLabelValues(check).Inc()
}

// UpdateLastRunUnix sets the finish time of the last run with status.
func UpdateLastRunUnix(status string, unix float64) {
	globalManager.lastRunUnix.WithLabelValues(status).Set(unix)
}

// RecordLockWait records time spent acquiring the run lock.
func RecordLockWait(ms float64) {
	globalManager.lockWait.Observe(ms)
}

// RecordLockContention counts a run rejected by the lock.
func RecordLockContention() {
	globalManager.lockContention.Inc()
}

// Extraction Metrics Functions.

// RecordExtractLatency records one batch extraction in milliseconds.
func RecordExtractLatency(ms float64) {
	globalManager.extractLatency.Observe(ms)
}

// RecordExtractError counts an extraction failure.
func RecordExtractError(kind string) {
	globalManager.extractErrors.WithLabelValues(kind).Inc()
}

// RecordExtractRetry counts a retried source request.
func RecordExtractRetry() {
	globalManager.extractRetries.Inc()
}

// RecordExtractRecords adds received raw records.
func RecordExtractRecords(n int) {
	if n > 0 {
		globalManager.extractRecords.Add(float64(n))
	}
}

// Repository Metrics Functions.

// RecordRepositoryQueryLatency records warehouse query latency in milliseconds.
func RecordRepositoryQueryLatency(operation string, latencyMs float64) {
	globalManager.repositoryQueryLatency.WithLabelValues(operation).Observe(latencyMs)
}

// UpdateRepositoryRows sets the row count of a warehouse table.
func UpdateRepositoryRows(table string, count int64) {
	globalManager.repositoryRowsTotal.WithLabelValues(table).Set(float64(count))
}

// Replica Metrics Functions.

// RecordReplicaPublish records a replica publish attempt.
func RecordReplicaPublish(rows int, err error) {
	if err != nil {
		globalManager.replicaErrors.Inc()
		return
	}
	globalManager.replicaRowsPublished.Add(float64(rows))
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueCoalesced counts a request merged into a pending one.
func RecordQueueCoalesced() {
	globalManager.queueCoalesced.Inc()
}

// RecordQueueProcessingLatency records the time a request waited in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// RecordWorkerProcessingLatency records how long the runner spent on a request.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// UpdateWorkerBusy flags whether the runner is executing a request.
func UpdateWorkerBusy(busy bool) {
	v := 0.0
	if busy {
		v = 1
	}
	globalManager.workerBusy.Set(v)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
