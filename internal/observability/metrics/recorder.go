// Package metrics provides custom Prometheus metrics for the recorder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder defines a minimal interface for recording metrics.
// Components depend on it rather than on RecorderMetrics so tests can pass
// a fake.
type Recorder interface {
	// RecordOperation records an operation with its status
	// (e.g. OpSessionStart, StatusSuccess).
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	RecordError(operation, errorType string)
}

// RecorderMetrics contains Prometheus metrics for the recording pipeline
type RecorderMetrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	bytesWritten      prometheus.Counter
	sessionActive     prometheus.Gauge
	vuLevel           prometheus.Gauge
	levelDBFS         prometheus.Gauge
	clippingTotal     prometheus.Counter
}

// NewRecorderMetrics creates and registers new recorder metrics
func NewRecorderMetrics(registry *prometheus.Registry) (*RecorderMetrics, error) {
	m := &RecorderMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RecorderMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_operations_total",
			Help: "Total number of recorder operations",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recorder_operation_duration_seconds",
			Help:    "Time taken for recorder operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~2s
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_errors_total",
			Help: "Total number of recorder errors",
		},
		[]string{"operation", "error_type"},
	)

	m.bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_bytes_written_total",
		Help: "Total number of PCM bytes written to WAV files",
	})

	m.sessionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_session_active",
		Help: "1 while a recording session is running",
	})

	m.vuLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_vu_level",
		Help: "Latest VU meter level (0 to 100)",
	})

	m.levelDBFS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_level_dbfs",
		Help: "Latest RMS input level in dBFS",
	})

	m.clippingTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_clipping_buffers_total",
		Help: "Total number of input buffers that contained clipped samples",
	})
}

// RecordOperation implements Recorder.
func (m *RecorderMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *RecorderMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *RecorderMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// AddBytesWritten adds PCM bytes written to disk.
func (m *RecorderMetrics) AddBytesWritten(n int) {
	if n > 0 {
		m.bytesWritten.Add(float64(n))
	}
}

// SetSessionActive flips the session gauge.
func (m *RecorderMetrics) SetSessionActive(active bool) {
	if active {
		m.sessionActive.Set(1)
		return
	}
	m.sessionActive.Set(0)
}

// ObserveLevel records the latest meter reading.
func (m *RecorderMetrics) ObserveLevel(vu, dbfs float64, clipped bool) {
	m.vuLevel.Set(vu)
	m.levelDBFS.Set(dbfs)
	if clipped {
		m.clippingTotal.Inc()
	}
}

// Describe implements the prometheus.Collector interface
func (m *RecorderMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.bytesWritten.Describe(ch)
	m.sessionActive.Describe(ch)
	m.vuLevel.Describe(ch)
	m.levelDBFS.Describe(ch)
	m.clippingTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *RecorderMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.bytesWritten.Collect(ch)
	m.sessionActive.Collect(ch)
	m.vuLevel.Collect(ch)
	m.levelDBFS.Collect(ch)
	m.clippingTotal.Collect(ch)
}
