package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShoYamanishi/vurecorder/internal/slowtask"
)

var (
	_ slowtask.Observer = (*QueueMetrics)(nil)
	_ Recorder          = (*RecorderMetrics)(nil)
)

func TestQueueMetricsObserve(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewQueueMetrics(registry)
	require.NoError(t, err)

	m.ObserveDepth("writer", 3)
	m.ObserveDepth("writer", 2)
	m.ObserveRejected("writer", slowtask.RejectFull)
	m.ObserveRejected("writer", slowtask.RejectFull)
	m.ObserveProducerBlocked("writer")
	m.ObserveProducerWait("writer", 5*time.Millisecond)
	m.ObserveDispatch("writer", slowtask.DispatchItem, time.Millisecond)
	m.ObserveDispatch("writer", slowtask.DispatchFlush, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.depthGauge.WithLabelValues("writer")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.rejectionsTotal.WithLabelValues("writer", slowtask.RejectFull)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.producerBlocks.WithLabelValues("writer")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dispatchesTotal.WithLabelValues("writer", slowtask.DispatchItem)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dispatchesTotal.WithLabelValues("writer", slowtask.DispatchFlush)), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m, "slowtask_dispatch_duration_seconds"))
}

func TestQueueMetricsDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewQueueMetrics(registry)
	require.NoError(t, err)

	_, err = NewQueueMetrics(registry)
	assert.Error(t, err)
}

func TestQueueMetricsWiredToQueue(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewQueueMetrics(registry)
	require.NoError(t, err)

	done := make(chan struct{}, 4)
	q, err := slowtask.New[int](slowtask.Config{Capacity: 4},
		func(slowtask.Command, int) { done <- struct{}{} }, nil,
		slowtask.WithName("wired"), slowtask.WithObserver(m))
	require.NoError(t, err)
	defer q.Terminate()

	_, err = q.TryPut(1, 1)
	require.ErrorIs(t, err, slowtask.ErrState)
	require.NoError(t, q.Open())
	require.NoError(t, q.Put(1, 1))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("item not dispatched")
	}

	assert.InDelta(t, 1, testutil.ToFloat64(m.rejectionsTotal.WithLabelValues("wired", slowtask.RejectState)), 0)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.dispatchesTotal.WithLabelValues("wired", slowtask.DispatchItem)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRecorderMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewRecorderMetrics(registry)
	require.NoError(t, err)

	m.RecordOperation(OpSessionStart, StatusSuccess)
	m.RecordOperation(OpFeed, StatusDropped)
	m.RecordOperation(OpFeed, StatusDropped)
	m.RecordDuration(OpFinalize, 0.02)
	m.RecordError(OpWrite, "file-io")
	m.AddBytesWritten(960)
	m.AddBytesWritten(-1)
	m.SetSessionActive(true)
	m.ObserveLevel(72.5, -23.75, true)
	m.ObserveLevel(10, -55, false)

	assert.InDelta(t, 1, testutil.ToFloat64(m.operationsTotal.WithLabelValues(OpSessionStart, StatusSuccess)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.operationsTotal.WithLabelValues(OpFeed, StatusDropped)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errorsTotal.WithLabelValues(OpWrite, "file-io")), 0)
	assert.InDelta(t, 960, testutil.ToFloat64(m.bytesWritten), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sessionActive), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.vuLevel), 0)
	assert.InDelta(t, -55, testutil.ToFloat64(m.levelDBFS), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.clippingTotal), 0)

	m.SetSessionActive(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.sessionActive), 0)
}

func TestHTTPMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(registry)
	require.NoError(t, err)

	m.RecordRequest("GET", "/api/v1/status", 200, 3*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/status", 200, 4*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/plot", 404, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/v1/status", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/v1/plot", "404")), 0)
}
