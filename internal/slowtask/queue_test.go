package slowtask

import (
	"context"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

const (
	cmdBlock Command = -1

	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

// harness wires a Queue[int] to channels. An out-of-band cmdBlock item parks
// the worker inside onItem until unblock is called.
type harness struct {
	q           *Queue[int]
	items       chan item[int]
	flushed     chan item[int]
	started     chan struct{}
	release     chan struct{}
	unblockOnce sync.Once
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		items:   make(chan item[int], 4096),
		flushed: make(chan item[int], 4096),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	opts = append([]Option{WithLogger(logger.NewDiscard())}, opts...)
	q, err := New[int](cfg,
		func(cmd Command, payload int) {
			if cmd == cmdBlock {
				h.started <- struct{}{}
				<-h.release
				return
			}
			h.items <- item[int]{cmd: cmd, payload: payload}
		},
		func(cmd Command, payload int) {
			h.flushed <- item[int]{cmd: cmd, payload: payload}
		},
		opts...)
	require.NoError(t, err)
	h.q = q

	// Cleanups run last-in first-out: release the worker, then join it.
	t.Cleanup(q.Terminate)
	t.Cleanup(h.unblock)
	return h
}

// block parks the worker inside onItem.
func (h *harness) block(t *testing.T) {
	t.Helper()
	require.NoError(t, h.q.PutOutOfBand(cmdBlock, 0))
	select {
	case <-h.started:
	case <-time.After(testTimeout):
		t.Fatal("worker did not pick up the blocking item")
	}
}

func (h *harness) unblock() {
	h.unblockOnce.Do(func() { close(h.release) })
}

func (h *harness) waitProducers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.q.mu.Lock()
		defer h.q.mu.Unlock()
		return h.q.waitingProducers == n
	}, testTimeout, testTick)
}

func (h *harness) waitWorkerIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.q.mu.Lock()
		defer h.q.mu.Unlock()
		return h.q.waitingConsumer == 1
	}, testTimeout, testTick)
}

func receive(t *testing.T, ch <-chan item[int], n int) []Command {
	t.Helper()
	out := make([]Command, 0, n)
	for range n {
		select {
		case it := <-ch:
			out = append(out, it.cmd)
		case <-time.After(testTimeout):
			t.Fatalf("received %d of %d items", len(out), n)
		}
	}
	return out
}

func TestNewClampsConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       Config
		wantCap  int
		wantHigh int
		wantLow  int
	}{
		{"defaults", Config{}, DefaultCapacity, DefaultCapacity, 0},
		{"negative capacity", Config{Capacity: -3, HighWatermark: 10, LowWatermark: 5}, DefaultCapacity, 10, 5},
		{"high above capacity", Config{Capacity: 8, HighWatermark: 9, LowWatermark: 2}, 8, 8, 2},
		{"low at capacity", Config{Capacity: 8, HighWatermark: 6, LowWatermark: 8}, 8, 6, 0},
		{"negative low", Config{Capacity: 8, HighWatermark: 6, LowWatermark: -1}, 8, 6, 0},
		{"valid", Config{Capacity: 16, HighWatermark: 12, LowWatermark: 4}, 16, 12, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tt.in)
			high, low := h.q.Watermarks()
			assert.Equal(t, tt.wantCap, h.q.Capacity())
			assert.Equal(t, tt.wantHigh, high)
			assert.Equal(t, tt.wantLow, low)
			assert.Equal(t, StateClosed, h.q.State())
		})
	}
}

func TestLifecycleStateErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 4})
	q := h.q

	require.ErrorIs(t, q.Put(1, 1), ErrState)
	_, err := q.TryPut(1, 1)
	require.ErrorIs(t, err, ErrState)
	require.ErrorIs(t, q.PutOutOfBand(1, 1), ErrState)
	require.ErrorIs(t, q.Close(), ErrState)

	require.NoError(t, q.Open())
	require.ErrorIs(t, q.Open(), ErrState)
	assert.Equal(t, StateOpened, q.State())

	require.NoError(t, q.Close())
	assert.Equal(t, StateClosed, q.State())

	// Peek and Flush are valid while closed.
	snap, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Count)
	require.NoError(t, q.Flush())

	q.Terminate()
	assert.Equal(t, StateTerminating, q.State())
	_, err = q.Peek()
	require.ErrorIs(t, err, ErrState)
	require.ErrorIs(t, q.Flush(), ErrState)
	require.ErrorIs(t, q.Open(), ErrState)
}

func TestFIFOOrderAndPayloadIdentity(t *testing.T) {
	t.Parallel()

	type payload struct{ n int }
	got := make(chan *payload, 64)
	q, err := New[*payload](Config{Capacity: 4, HighWatermark: 3, LowWatermark: 1},
		func(_ Command, p *payload) { got <- p },
		nil,
		WithLogger(logger.NewDiscard()))
	require.NoError(t, err)
	t.Cleanup(q.Terminate)
	require.NoError(t, q.Open())

	sent := make([]*payload, 50)
	for i := range sent {
		sent[i] = &payload{n: i}
		require.NoError(t, q.Put(Command(i), sent[i]))
	}

	for i := range sent {
		select {
		case p := <-got:
			assert.Same(t, sent[i], p, "item %d", i)
		case <-time.After(testTimeout):
			t.Fatalf("item %d not delivered", i)
		}
	}
}

func TestPutBlocksAtHighWatermark(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 4, HighWatermark: 4, LowWatermark: 1})
	require.NoError(t, h.q.Open())
	h.block(t)

	for i := range 4 {
		require.NoError(t, h.q.Put(Command(i), i))
	}

	done := make(chan error, 1)
	go func() { done <- h.q.Put(4, 4) }()
	h.waitProducers(t, 1)

	select {
	case err := <-done:
		t.Fatalf("put returned early: %v", err)
	default:
	}

	h.unblock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("blocked put never returned")
	}

	assert.Equal(t, []Command{0, 1, 2, 3, 4}, receive(t, h.items, 5))
}

func TestTryPutFullAndHighWater(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 4, HighWatermark: 3})
	require.NoError(t, h.q.Open())
	h.block(t)

	want := []PutResult{PutOK, PutOK, PutHighWater, PutHighWater}
	for i, w := range want {
		res, err := h.q.TryPut(Command(i), i)
		require.NoError(t, err)
		assert.Equal(t, w, res, "try put %d", i)
	}

	_, err := h.q.TryPut(4, 4)
	require.ErrorIs(t, err, ErrFull)

	snap, err := h.q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Count)
	assert.Equal(t, Command(0), snap.HeadCommand)
	assert.False(t, snap.HasOutOfBand)

	h.unblock()
	assert.Equal(t, []Command{0, 1, 2, 3}, receive(t, h.items, 4))
}

func TestOutOfBandPriority(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 8})
	require.NoError(t, h.q.Open())
	h.block(t)

	for i := 1; i <= 3; i++ {
		_, err := h.q.TryPut(Command(i), i)
		require.NoError(t, err)
	}
	require.NoError(t, h.q.PutOutOfBand(100, 100))
	require.ErrorIs(t, h.q.PutOutOfBand(101, 101), ErrFull)

	snap, err := h.q.Peek()
	require.NoError(t, err)
	assert.True(t, snap.HasOutOfBand)
	assert.Equal(t, Command(100), snap.OutOfBandCommand)
	assert.Equal(t, 100, snap.OutOfBandPayload)
	assert.Equal(t, 3, snap.Count)

	h.unblock()
	assert.Equal(t, []Command{100, 1, 2, 3}, receive(t, h.items, 4))

	// The slot is free again once dispatched.
	require.NoError(t, h.q.PutOutOfBand(102, 102))
	assert.Equal(t, []Command{102}, receive(t, h.items, 1))
}

func TestFlushDrainsRingBeforeOutOfBand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 8})
	require.NoError(t, h.q.Open())
	h.block(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.q.Put(Command(i), i))
	}
	require.NoError(t, h.q.PutOutOfBand(100, 100))
	require.NoError(t, h.q.Flush())

	h.unblock()
	assert.Equal(t, []Command{1, 2, 3}, receive(t, h.flushed, 3))
	assert.Equal(t, []Command{100}, receive(t, h.items, 1))

	// Later items take the normal path.
	require.NoError(t, h.q.Put(4, 4))
	assert.Equal(t, []Command{4}, receive(t, h.items, 1))
	assert.Empty(t, h.flushed)
}

func TestFlushWhileClosed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 8})
	require.NoError(t, h.q.Open())
	h.block(t)

	require.NoError(t, h.q.Put(1, 1))
	require.NoError(t, h.q.Put(2, 2))
	require.NoError(t, h.q.Close())
	require.NoError(t, h.q.Flush())
	h.unblock()

	assert.Equal(t, []Command{1, 2}, receive(t, h.flushed, 2))
	assert.Empty(t, h.items)
}

func TestCloseKeepsDraining(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 8})
	require.NoError(t, h.q.Open())
	h.block(t)

	require.NoError(t, h.q.Put(1, 1))
	require.NoError(t, h.q.Put(2, 2))
	require.NoError(t, h.q.Close())
	h.unblock()

	assert.Equal(t, []Command{1, 2}, receive(t, h.items, 2))
}

func TestLowWatermarkDefersWakeup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 8, HighWatermark: 8, LowWatermark: 3})
	require.NoError(t, h.q.Open())
	h.waitWorkerIdle(t)

	_, err := h.q.TryPut(1, 1)
	require.NoError(t, err)
	_, err = h.q.TryPut(2, 2)
	require.NoError(t, err)

	assert.Never(t, func() bool { return len(h.items) > 0 }, 100*time.Millisecond, testTick)

	_, err = h.q.TryPut(3, 3)
	require.NoError(t, err)
	assert.Equal(t, []Command{1, 2, 3}, receive(t, h.items, 3))
}

func TestWakeDispatchesBelowLowWatermark(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 8, HighWatermark: 8, LowWatermark: 4})
	require.NoError(t, h.q.Open())
	h.waitWorkerIdle(t)

	_, err := h.q.TryPut(1, 1)
	require.NoError(t, err)
	_, err = h.q.TryPut(2, 2)
	require.NoError(t, err)
	require.NoError(t, h.q.Close())

	assert.Never(t, func() bool { return len(h.items) > 0 }, 100*time.Millisecond, testTick)

	require.NoError(t, h.q.Wake())
	assert.Equal(t, []Command{1, 2}, receive(t, h.items, 2))

	// Nothing queued: no-op.
	require.NoError(t, h.q.Wake())
}

func TestCloseReleasesBlockedPut(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 2})
	require.NoError(t, h.q.Open())
	h.block(t)

	require.NoError(t, h.q.Put(1, 1))
	require.NoError(t, h.q.Put(2, 2))

	done := make(chan error, 1)
	go func() { done <- h.q.Put(3, 3) }()
	h.waitProducers(t, 1)

	require.NoError(t, h.q.Close())
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrState)
	case <-time.After(testTimeout):
		t.Fatal("close did not release the blocked put")
	}

	snap, err := h.q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count)
}

func TestTerminateReleasesBlockedPut(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 1})
	require.NoError(t, h.q.Open())
	h.block(t)
	require.NoError(t, h.q.Put(1, 1))

	done := make(chan error, 1)
	go func() { done <- h.q.Put(2, 2) }()
	h.waitProducers(t, 1)

	terminated := make(chan struct{})
	go func() {
		h.q.Terminate()
		close(terminated)
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrState)
	case <-time.After(testTimeout):
		t.Fatal("terminate did not release the blocked put")
	}

	// The worker is still inside the handler; Terminate joins after release.
	h.unblock()
	select {
	case <-terminated:
	case <-time.After(testTimeout):
		t.Fatal("terminate did not return")
	}
}

func TestTerminateWhileIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.waitWorkerIdle(t)

	done := make(chan struct{})
	go func() {
		h.q.Terminate()
		h.q.Terminate()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("terminate deadlocked on an idle worker")
	}
	assert.Equal(t, StateTerminating, h.q.State())
}

func TestPutContextCancelled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 2})
	require.NoError(t, h.q.Open())
	h.block(t)
	require.NoError(t, h.q.Put(1, 1))
	require.NoError(t, h.q.Put(2, 2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.q.PutContext(ctx, 3, 3) }()
	h.waitProducers(t, 1)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrState)
	case <-time.After(testTimeout):
		t.Fatal("cancel did not release the blocked put")
	}

	snap, err := h.q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count)

	// An already cancelled context fails before queueing anything.
	require.NoError(t, h.q.Flush())
	h.unblock()
	receive(t, h.flushed, 2)
	require.ErrorIs(t, h.q.PutContext(ctx, 4, 4), context.Canceled)
}

func TestResourceErrorLeavesInertQueue(t *testing.T) {
	t.Parallel()

	q, err := New[int](Config{Capacity: MaxCapacity + 1}, nil, nil, WithLogger(logger.NewDiscard()))
	require.ErrorIs(t, err, ErrResource)
	require.NotNil(t, q)
	assert.Equal(t, StateError, q.State())

	require.ErrorIs(t, q.Open(), ErrState)
	require.ErrorIs(t, q.Put(1, 1), ErrState)
	_, err = q.Peek()
	require.ErrorIs(t, err, ErrState)
	require.ErrorIs(t, q.Flush(), ErrState)

	q.Terminate()
	assert.Equal(t, StateError, q.State())
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Capacity: 8, HighWatermark: 6, LowWatermark: 2})
	require.NoError(t, h.q.Open())

	const producers, perProducer = 4, 200
	var wg sync.WaitGroup
	for p := range producers {
		wg.Go(func() {
			for i := range perProducer {
				assert.NoError(t, h.q.Put(Command(p), i))
			}
		})
	}
	wg.Wait()

	next := make([]int, producers)
	for range producers * perProducer {
		select {
		case it := <-h.items:
			assert.Equal(t, next[it.cmd], it.payload, "producer %d", it.cmd)
			next[it.cmd]++
		case <-time.After(testTimeout):
			t.Fatal("items missing")
		}
	}
	for p := range producers {
		assert.Equal(t, perProducer, next[p])
	}
}

type countingObserver struct {
	mu         sync.Mutex
	rejected   map[string]int
	dispatched map[string]int
	blocked    int
	maxDepth   int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{rejected: map[string]int{}, dispatched: map[string]int{}}
}

func (o *countingObserver) ObserveDepth(_ string, depth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maxDepth = max(o.maxDepth, depth)
}

func (o *countingObserver) ObserveRejected(_, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[reason]++
}

func (o *countingObserver) ObserveProducerBlocked(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocked++
}

func (o *countingObserver) ObserveProducerWait(string, time.Duration) {}

func (o *countingObserver) ObserveDispatch(_, kind string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched[kind]++
}

func (o *countingObserver) snapshot() (rejected, dispatched map[string]int, maxDepth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return maps.Clone(o.rejected), maps.Clone(o.dispatched), o.maxDepth
}

func TestObserverEvents(t *testing.T) {
	t.Parallel()
	obs := newCountingObserver()
	h := newHarness(t, Config{Capacity: 2}, WithName("obs"), WithObserver(obs))
	assert.Equal(t, "obs", h.q.Name())

	require.ErrorIs(t, h.q.Put(1, 1), ErrState)
	require.NoError(t, h.q.Open())
	h.block(t)

	require.NoError(t, h.q.Put(1, 1))
	require.NoError(t, h.q.Put(2, 2))
	_, err := h.q.TryPut(3, 3)
	require.ErrorIs(t, err, ErrFull)
	require.NoError(t, h.q.PutOutOfBand(10, 10))
	require.ErrorIs(t, h.q.PutOutOfBand(11, 11), ErrFull)

	h.unblock()
	receive(t, h.items, 3)

	require.Eventually(t, func() bool {
		_, dispatched, _ := obs.snapshot()
		return dispatched[DispatchItem] == 2 && dispatched[DispatchOutOfBand] == 2
	}, testTimeout, testTick)

	rejected, _, maxDepth := obs.snapshot()
	assert.Equal(t, 1, rejected[RejectState])
	assert.Equal(t, 1, rejected[RejectFull])
	assert.Equal(t, 1, rejected[RejectOOBFull])
	assert.Equal(t, 2, maxDepth)
}
