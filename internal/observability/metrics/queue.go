// Package metrics provides slow task queue metrics for observability
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics contains Prometheus metrics for slow task queues. It
// satisfies the slowtask.Observer interface; every queue passes its name as
// the "queue" label.
type QueueMetrics struct {
	registry *prometheus.Registry

	depthGauge       *prometheus.GaugeVec
	rejectionsTotal  *prometheus.CounterVec
	producerBlocks   *prometheus.CounterVec
	producerWait     *prometheus.HistogramVec
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
}

// NewQueueMetrics creates and registers new queue metrics
func NewQueueMetrics(registry *prometheus.Registry) (*QueueMetrics, error) {
	m := &QueueMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *QueueMetrics) initMetrics() {
	m.depthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slowtask_queue_depth",
			Help: "Number of items currently held in the ring",
		},
		[]string{"queue"},
	)

	m.rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slowtask_rejections_total",
			Help: "Total number of rejected queue operations",
		},
		[]string{"queue", "reason"}, // reason: full, oob_full, state, cancelled
	)

	m.producerBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slowtask_producer_blocks_total",
			Help: "Total number of Put calls that had to wait at the high watermark",
		},
		[]string{"queue"},
	)

	m.producerWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slowtask_producer_wait_seconds",
			Help:    "Time blocked producers spent waiting for room",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15),
		},
		[]string{"queue"},
	)

	m.dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slowtask_dispatches_total",
			Help: "Total number of worker dispatches",
		},
		[]string{"queue", "kind"}, // kind: item, oob, flush
	)

	m.dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slowtask_dispatch_duration_seconds",
			Help:    "Time spent in queue handlers",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15),
		},
		[]string{"queue", "kind"},
	)
}

// ObserveDepth records the ring occupancy.
func (m *QueueMetrics) ObserveDepth(queue string, depth int) {
	m.depthGauge.WithLabelValues(queue).Set(float64(depth))
}

// ObserveRejected counts a rejected operation.
func (m *QueueMetrics) ObserveRejected(queue, reason string) {
	m.rejectionsTotal.WithLabelValues(queue, reason).Inc()
}

// ObserveProducerBlocked counts a producer that started waiting for room.
func (m *QueueMetrics) ObserveProducerBlocked(queue string) {
	m.producerBlocks.WithLabelValues(queue).Inc()
}

// ObserveProducerWait records how long a blocked producer waited.
func (m *QueueMetrics) ObserveProducerWait(queue string, waited time.Duration) {
	m.producerWait.WithLabelValues(queue).Observe(waited.Seconds())
}

// ObserveDispatch records one handler invocation, or one whole flush drain.
func (m *QueueMetrics) ObserveDispatch(queue, kind string, took time.Duration) {
	m.dispatchesTotal.WithLabelValues(queue, kind).Inc()
	m.dispatchDuration.WithLabelValues(queue, kind).Observe(took.Seconds())
}

// Describe implements the prometheus.Collector interface
func (m *QueueMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.depthGauge.Describe(ch)
	m.rejectionsTotal.Describe(ch)
	m.producerBlocks.Describe(ch)
	m.producerWait.Describe(ch)
	m.dispatchesTotal.Describe(ch)
	m.dispatchDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *QueueMetrics) Collect(ch chan<- prometheus.Metric) {
	m.depthGauge.Collect(ch)
	m.rejectionsTotal.Collect(ch)
	m.producerBlocks.Collect(ch)
	m.producerWait.Collect(ch)
	m.dispatchesTotal.Collect(ch)
	m.dispatchDuration.Collect(ch)
}
