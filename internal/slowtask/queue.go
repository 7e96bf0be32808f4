package slowtask

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

const componentName = "slowtask"

// Queue is a bounded work queue drained by a single worker goroutine.
// All methods are safe for concurrent use by any number of producers.
type Queue[T any] struct {
	name     string
	log      logger.Logger
	observer Observer

	capacity      int
	highWatermark int
	lowWatermark  int

	onItem      Handler[T]
	onFlushItem Handler[T]

	mu       sync.Mutex
	dataCond *sync.Cond // worker waits here for items, OOB, flush or terminate
	roomCond *sync.Cond // blocked producers wait here

	ring    []item[T]
	nextGet int
	nextPut int
	count   int

	oob    item[T]
	hasOOB bool

	flushRequested bool
	state          State

	waitingProducers int
	waitingConsumer  int

	wg sync.WaitGroup
}

// New builds a queue and starts its worker. The queue starts in StateClosed.
//
// onItem receives ring and out-of-band items, onFlushItem receives items
// drained by Flush. Either may be nil, in which case the item is dropped.
//
// When the ring cannot be allocated New returns an inert queue in
// StateError together with an error wrapping ErrResource. Every operation
// on that queue fails with ErrState and Terminate is a no-op.
func New[T any](cfg Config, onItem, onFlushItem Handler[T], opts ...Option) (*Queue[T], error) {
	o := options{name: componentName, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = GetLogger()
	}

	cfg = cfg.sanitize()

	q := &Queue[T]{
		name:          o.name,
		log:           o.log.With(logger.String("queue", o.name)),
		observer:      o.observer,
		capacity:      cfg.Capacity,
		highWatermark: cfg.HighWatermark,
		lowWatermark:  cfg.LowWatermark,
		onItem:        onItem,
		onFlushItem:   onFlushItem,
		state:         StateError,
	}
	q.dataCond = sync.NewCond(&q.mu)
	q.roomCond = sync.NewCond(&q.mu)

	if cfg.Capacity > MaxCapacity {
		err := errors.New(fmt.Errorf("%w: capacity %d exceeds %d", ErrResource, cfg.Capacity, MaxCapacity)).
			Component(componentName).
			Category(errors.CategoryResource).
			Context("queue", o.name).
			Context("capacity", cfg.Capacity).
			Build()
		q.log.Error("queue allocation failed", logger.Error(err), logger.Int("capacity", cfg.Capacity))
		return q, err
	}

	q.ring = make([]item[T], cfg.Capacity)
	q.state = StateClosed

	q.wg.Go(q.run)

	q.log.Debug("queue created",
		logger.Int("capacity", q.capacity),
		logger.Int("high_watermark", q.highWatermark),
		logger.Int("low_watermark", q.lowWatermark))

	return q, nil
}

// Name returns the queue label.
func (q *Queue[T]) Name() string { return q.name }

// Capacity returns the ring size after clamping.
func (q *Queue[T]) Capacity() int { return q.capacity }

// Watermarks returns the high and low watermarks after clamping.
func (q *Queue[T]) Watermarks() (high, low int) { return q.highWatermark, q.lowWatermark }

// State returns the current lifecycle state.
func (q *Queue[T]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Open moves a closed queue to StateOpened.
func (q *Queue[T]) Open() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateClosed {
		return q.stateErrorLocked("open")
	}
	q.state = StateOpened
	q.log.Debug("queue opened")
	return nil
}

// Close moves an open queue to StateClosed. Queued items are kept and still
// dispatched. Producers blocked in Put are released with ErrState.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateOpened {
		return q.stateErrorLocked("close")
	}
	q.state = StateClosed
	q.roomCond.Broadcast()
	q.log.Debug("queue closed", logger.Int("pending", q.count))
	return nil
}

// Put queues an item, blocking while the ring is at or above the high
// watermark. It fails with ErrState if the queue is not open or leaves
// StateOpened while the caller waits.
func (q *Queue[T]) Put(cmd Command, payload T) error {
	return q.PutContext(context.Background(), cmd, payload)
}

// PutContext is Put with a cancellable wait. A cancelled context releases a
// blocked caller with an error wrapping ctx.Err(); nothing is queued.
func (q *Queue[T]) PutContext(ctx context.Context, cmd Command, payload T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateOpened {
		return q.stateErrorLocked("put")
	}
	if err := ctx.Err(); err != nil {
		return q.cancelledErrorLocked(err)
	}

	if q.count >= q.highWatermark {
		if ctx.Done() != nil {
			stop := context.AfterFunc(ctx, func() {
				q.mu.Lock()
				q.roomCond.Broadcast()
				q.mu.Unlock()
			})
			defer stop()
		}

		q.observer.ObserveProducerBlocked(q.name)
		start := time.Now()
		for q.count >= q.highWatermark && q.state == StateOpened && ctx.Err() == nil {
			q.waitingProducers++
			q.roomCond.Wait()
			q.waitingProducers--
		}
		q.observer.ObserveProducerWait(q.name, time.Since(start))
	}

	if q.state != StateOpened {
		return q.stateErrorLocked("put")
	}
	if err := ctx.Err(); err != nil {
		// A room signal may have been spent on this caller. Hand it on.
		if q.waitingProducers > 0 && q.count < q.highWatermark {
			q.roomCond.Signal()
		}
		return q.cancelledErrorLocked(err)
	}

	q.enqueueLocked(cmd, payload)
	return nil
}

// TryPut queues an item without blocking. It fails with ErrFull when the
// ring is at hard capacity. PutHighWater reports that the ring reached the
// high watermark with this insert.
func (q *Queue[T]) TryPut(cmd Command, payload T) (PutResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateOpened {
		return PutOK, q.stateErrorLocked("try_put")
	}
	if q.count >= q.capacity {
		q.observer.ObserveRejected(q.name, RejectFull)
		return PutOK, errors.New(fmt.Errorf("%w: %d of %d slots used", ErrFull, q.count, q.capacity)).
			Component(componentName).
			Category(errors.CategoryLimit).
			Priority(errors.PriorityLow).
			Context("queue", q.name).
			Context("operation", "try_put").
			Build()
	}

	q.enqueueLocked(cmd, payload)
	if q.count >= q.highWatermark {
		return PutHighWater, nil
	}
	return PutOK, nil
}

// PutOutOfBand stores a priority item in the single out-of-band slot and
// wakes the worker. It fails with ErrFull while a previous out-of-band item
// is still pending. Only StateOpened accepts it.
func (q *Queue[T]) PutOutOfBand(cmd Command, payload T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateOpened {
		return q.stateErrorLocked("put_out_of_band")
	}
	if q.hasOOB {
		q.observer.ObserveRejected(q.name, RejectOOBFull)
		return errors.New(fmt.Errorf("%w: out-of-band slot occupied", ErrFull)).
			Component(componentName).
			Category(errors.CategoryLimit).
			Priority(errors.PriorityLow).
			Context("queue", q.name).
			Context("operation", "put_out_of_band").
			Build()
	}

	q.oob = item[T]{cmd: cmd, payload: payload}
	q.hasOOB = true
	q.dataCond.Signal()
	return nil
}

// Peek copies the head item and the out-of-band slot without removing
// anything. Valid in StateOpened and StateClosed.
func (q *Queue[T]) Peek() (Snapshot[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateOpened && q.state != StateClosed {
		return Snapshot[T]{}, q.stateErrorLocked("peek")
	}

	snap := Snapshot[T]{
		Count:        q.count,
		HasOutOfBand: q.hasOOB,
	}
	if q.count > 0 {
		head := q.ring[q.nextGet]
		snap.HeadCommand, snap.HeadPayload = head.cmd, head.payload
	}
	if q.hasOOB {
		snap.OutOfBandCommand, snap.OutOfBandPayload = q.oob.cmd, q.oob.payload
	}
	return snap, nil
}

// Len returns the ring occupancy, or 0 for an unusable queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Flush asks the worker to pass every queued item to the flush handler and
// returns without waiting. Valid in StateOpened and StateClosed.
func (q *Queue[T]) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateOpened && q.state != StateClosed {
		return q.stateErrorLocked("flush")
	}
	q.flushRequested = true
	if q.waitingConsumer > 0 {
		q.dataCond.Signal()
	}
	return nil
}

// Wake makes an idle worker dispatch whatever is queued even below the low
// watermark. Producers call it after their last Put so a short tail is not
// left waiting for more data. Valid in StateOpened and StateClosed.
func (q *Queue[T]) Wake() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateOpened && q.state != StateClosed {
		return q.stateErrorLocked("wake")
	}
	if q.waitingConsumer > 0 && q.count > 0 {
		q.dataCond.Signal()
	}
	return nil
}

// Terminate stops the worker and waits for it to exit. Blocked producers
// return ErrState. Items still queued are dropped without being dispatched.
// Terminate must not be called from a handler.
func (q *Queue[T]) Terminate() {
	q.mu.Lock()
	if q.state == StateError {
		q.mu.Unlock()
		return
	}
	if q.state != StateTerminating {
		q.state = StateTerminating
		q.dataCond.Broadcast()
		q.roomCond.Broadcast()
		q.log.Debug("queue terminating", logger.Int("dropped", q.count))
	}
	q.mu.Unlock()

	q.wg.Wait()
}

// enqueueLocked writes at nextPut and wakes the worker once the ring holds
// at least lowWatermark items.
func (q *Queue[T]) enqueueLocked(cmd Command, payload T) {
	q.ring[q.nextPut] = item[T]{cmd: cmd, payload: payload}
	q.nextPut = (q.nextPut + 1) % q.capacity
	q.count++
	q.observer.ObserveDepth(q.name, q.count)

	if q.waitingConsumer > 0 && q.count >= q.lowWatermark {
		q.dataCond.Signal()
	}
}

// popLocked removes the oldest item and clears its slot.
func (q *Queue[T]) popLocked() item[T] {
	it := q.ring[q.nextGet]
	q.ring[q.nextGet] = item[T]{}
	q.nextGet = (q.nextGet + 1) % q.capacity
	q.count--
	q.observer.ObserveDepth(q.name, q.count)
	return it
}

// signalRoomLocked wakes one blocked producer after the worker freed a slot.
func (q *Queue[T]) signalRoomLocked() {
	if q.waitingProducers > 0 && q.count <= q.highWatermark {
		q.roomCond.Signal()
	}
}

func (q *Queue[T]) run() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for q.state != StateTerminating && q.count == 0 && !q.hasOOB && !q.flushRequested {
			q.waitingConsumer++
			q.dataCond.Wait()
			q.waitingConsumer--
		}

		switch {
		case q.state == StateTerminating:
			return

		case q.flushRequested:
			q.flushRequested = false
			q.drainLocked()

		case q.hasOOB:
			q.hasOOB = false
			oob := q.oob
			q.oob = item[T]{}
			q.dispatch(DispatchOutOfBand, oob)
			q.signalRoomLocked()

		default:
			it := q.popLocked()
			q.dispatch(DispatchItem, it)
			q.signalRoomLocked()
		}
	}
}

// drainLocked hands every queued item to onFlushItem while holding the lock,
// so the batch is exactly the ring contents when draining starts.
func (q *Queue[T]) drainLocked() {
	n := q.count
	start := time.Now()
	for q.count > 0 {
		it := q.popLocked()
		if q.onFlushItem != nil {
			q.onFlushItem(it.cmd, it.payload)
		}
		if q.waitingProducers > 0 {
			q.roomCond.Signal()
		}
	}
	q.observer.ObserveDispatch(q.name, DispatchFlush, time.Since(start))
	if n > 0 {
		q.log.Debug("queue flushed", logger.Int("items", n))
	}
}

// dispatch runs onItem with the lock released. Called and returns with q.mu held.
func (q *Queue[T]) dispatch(kind string, it item[T]) {
	if q.onItem == nil {
		return
	}
	q.mu.Unlock()
	start := time.Now()
	q.onItem(it.cmd, it.payload)
	took := time.Since(start)
	q.mu.Lock()
	q.observer.ObserveDispatch(q.name, kind, took)
}

func (q *Queue[T]) stateErrorLocked(op string) error {
	q.observer.ObserveRejected(q.name, RejectState)
	return errors.New(fmt.Errorf("%w: %s in state %s", ErrState, op, q.state)).
		Component(componentName).
		Category(errors.CategoryState).
		Priority(errors.PriorityLow).
		Context("queue", q.name).
		Context("operation", op).
		Context("state", q.state.String()).
		Build()
}

func (q *Queue[T]) cancelledErrorLocked(cause error) error {
	q.observer.ObserveRejected(q.name, RejectCancelled)
	return errors.New(fmt.Errorf("put cancelled: %w", cause)).
		Component(componentName).
		Category(errors.CategoryCancellation).
		Priority(errors.PriorityLow).
		Context("queue", q.name).
		Context("operation", "put").
		Build()
}
