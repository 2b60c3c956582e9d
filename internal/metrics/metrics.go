package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

var (
	// defaultRegistry is the default Prometheus registry
	defaultRegistry = prometheus.DefaultRegisterer
)

// Config holds metrics configuration.
type Config struct {
	// EnableBucketLabel, when false, collapses all queue-depth samples
	// onto a single label so a run with an unusually large worker count
	// cannot blow up series cardinality.
	EnableBucketLabel bool
}

// Metrics holds all application metrics for a single carving run's
// lifetime. A fresh *Metrics is typically built once per process and
// reused across runs in a long-lived daemon deployment.
type Metrics struct {
	config Config

	chunksProcessedTotal prometheus.Counter
	bytesScannedTotal    prometheus.Counter
	hitsFoundTotal       *prometheus.CounterVec
	filesCarvedTotal     *prometheus.CounterVec
	carveDuration        *prometheus.HistogramVec
	carveErrorsTotal     *prometheus.CounterVec
	databaseRecordsTotal *prometheus.CounterVec
	checkpointWrites     prometheus.Counter
	queueDepth           *prometheus.GaugeVec

	activeRuns        prometheus.Gauge
	goroutines        prometheus.Gauge
	memoryAllocBytes  prometheus.Gauge
	memorySysBytes    prometheus.Gauge

	hardwareAccelerationEnabled *prometheus.GaugeVec
}

// NewMetrics creates a new metrics instance with default configuration.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(Config{EnableBucketLabel: true})
}

// NewMetricsWithConfig creates a new metrics instance with the provided configuration.
func NewMetricsWithConfig(cfg Config) *Metrics {
	return newMetricsWithRegistry(defaultRegistry, cfg)
}

// NewMetricsWithRegistry creates a new metrics instance with a custom registry.
// This is useful for testing to avoid metric registration conflicts.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg, Config{EnableBucketLabel: true})
}

// newMetricsWithRegistry creates a new metrics instance with a custom registry (for testing).
func newMetricsWithRegistry(reg prometheus.Registerer, cfg Config) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		config: cfg,
		chunksProcessedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "carver_chunks_processed_total",
				Help: "Total number of evidence chunks read and dispatched to scan workers",
			},
		),
		bytesScannedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "carver_bytes_scanned_total",
				Help: "Total number of evidence bytes read by the driver loop",
			},
		),
		hitsFoundTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carver_hits_found_total",
				Help: "Total number of signature hits found by scan workers, by file type",
			},
			[]string{"file_type"},
		),
		filesCarvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carver_files_carved_total",
				Help: "Total number of files successfully carved, by file type",
			},
			[]string{"file_type"},
		),
		carveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carver_carve_duration_seconds",
				Help:    "Time spent carving a single hit into an output file, by file type",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"file_type"},
		),
		carveErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carver_carve_errors_total",
				Help: "Total number of carve errors, by error kind",
			},
			[]string{"kind"},
		),
		databaseRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carver_database_records_total",
				Help: "Total number of secondary records recovered by post-carve analyzers, by kind",
			},
			[]string{"kind"},
		),
		checkpointWrites: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "carver_checkpoint_writes_total",
				Help: "Total number of checkpoint files written",
			},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "carver_queue_depth",
				Help: "Current number of buffered items in a pipeline channel",
			},
			[]string{"queue"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "carver_active_runs",
				Help: "Number of carving runs currently in progress",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goroutines_total",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
		hardwareAccelerationEnabled: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hardware_acceleration_enabled",
				Help: "Hardware acceleration status (1=enabled, 0=disabled)",
			},
			[]string{"type"},
		),
	}
}

// SetHardwareAccelerationStatus sets the hardware acceleration status metric.
func (m *Metrics) SetHardwareAccelerationStatus(accelType string, enabled bool) {
	val := 0.0
	if enabled {
		val = 1.0
	}
	m.hardwareAccelerationEnabled.WithLabelValues(accelType).Set(val)
}

// GetHardwareAccelerationEnabledMetric returns the hardware acceleration enabled metric (for testing).
func (m *Metrics) GetHardwareAccelerationEnabledMetric() *prometheus.GaugeVec {
	return m.hardwareAccelerationEnabled
}

// RecordChunkProcessed records one evidence chunk having been read and
// dispatched to the scan workers.
func (m *Metrics) RecordChunkProcessed(ctx context.Context, bytesRead int64) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.chunksProcessedTotal.(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.chunksProcessedTotal.Inc()
		}
	} else {
		m.chunksProcessedTotal.Inc()
	}
	m.bytesScannedTotal.Add(float64(bytesRead))
}

// RecordHit records a signature hit found for fileType.
func (m *Metrics) RecordHit(ctx context.Context, fileType string) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.hitsFoundTotal.WithLabelValues(fileType).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
			return
		}
	}
	m.hitsFoundTotal.WithLabelValues(fileType).Inc()
}

// RecordFileCarved records a successfully carved file of fileType and how
// long carving it took.
func (m *Metrics) RecordFileCarved(ctx context.Context, fileType string, duration time.Duration) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.filesCarvedTotal.WithLabelValues(fileType).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.filesCarvedTotal.WithLabelValues(fileType).Inc()
		}
		if observer, ok := m.carveDuration.WithLabelValues(fileType).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.carveDuration.WithLabelValues(fileType).Observe(duration.Seconds())
		}
		return
	}
	m.filesCarvedTotal.WithLabelValues(fileType).Inc()
	m.carveDuration.WithLabelValues(fileType).Observe(duration.Seconds())
}

// RecordCarveError records a carve failure of the given error kind (see
// carve.ErrKind.String()).
func (m *Metrics) RecordCarveError(ctx context.Context, kind string) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.carveErrorsTotal.WithLabelValues(kind).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
			return
		}
	}
	m.carveErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordDatabaseRecord records a secondary record a post-carve analyzer
// recovered (e.g. "browser_history").
func (m *Metrics) RecordDatabaseRecord(kind string) {
	m.databaseRecordsTotal.WithLabelValues(kind).Inc()
}

// RecordCheckpointWrite records one checkpoint file having been written.
func (m *Metrics) RecordCheckpointWrite() {
	m.checkpointWrites.Inc()
}

// SetQueueDepth reports the current buffered length of one of the
// pipeline's channels ("scan_queue", "hit_queue", "string_queue",
// "meta_queue"). When EnableBucketLabel is false, all queues are
// collapsed onto a single "*" series.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	label := queue
	if !m.config.EnableBucketLabel {
		label = "*"
	}
	m.queueDepth.WithLabelValues(label).Set(float64(depth))
}

// IncrementActiveRuns increments the number of in-progress runs.
func (m *Metrics) IncrementActiveRuns() {
	m.activeRuns.Inc()
}

// DecrementActiveRuns decrements the number of in-progress runs.
func (m *Metrics) DecrementActiveRuns() {
	m.activeRuns.Dec()
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// getExemplar extracts trace ID from context and returns prometheus Labels for exemplar.
func getExemplar(ctx context.Context) prometheus.Labels {
	if ctx == nil {
		return nil
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		return prometheus.Labels{"trace_id": spanContext.TraceID().String()}
	}
	return nil
}
