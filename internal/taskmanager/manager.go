package taskmanager

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/observability/metrics"
	"github.com/ShoYamanishi/vurecorder/internal/slowtask"
)

const componentName = "taskmanager"

// Commands carried through the queue.
const (
	CmdStart slowtask.Command = iota + 1
	CmdFeed
	CmdStop
	CmdAbort
)

// Sentinel errors for producer-side misuse.
var (
	ErrNotRunning     = errors.NewStd("task manager not running")
	ErrAlreadyRunning = errors.NewStd("task manager already running")
)

// Task is the slow work run on the worker goroutine.
type Task interface {
	// TaskStart prepares a session. An error fails the session and later
	// feeds are ignored until the next Start.
	TaskStart() error
	// TaskFeed consumes one buffer. The slice is only valid during the call.
	TaskFeed(data []byte) error
	// TaskStop finishes the session normally.
	TaskStop() error
	// TaskAbort discards the session.
	TaskAbort()
	// TaskIgnore is handed buffers that will not be fed, e.g. flushed on abort.
	TaskIgnore(data []byte)
}

// Delegate is notified of session transitions on the worker goroutine.
type Delegate interface {
	TaskStarted()
	TaskStopped(err error)
	TaskAborted()
	TaskFailed(err error)
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	Running      bool   `json:"running"`
	QueueState   string `json:"queue_state"`
	Pending      int    `json:"pending"`
	AbortPending bool   `json:"abort_pending"`
	Fed          uint64 `json:"fed"`
	Dropped      uint64 `json:"dropped"`
	HighWater    uint64 `json:"high_water"`
	Ignored      uint64 `json:"ignored"`
	PoolHits     uint64 `json:"pool_hits"`
	PoolMisses   uint64 `json:"pool_misses"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithDelegate sets the session observer.
func WithDelegate(d Delegate) Option {
	return func(m *Manager) { m.delegate = d }
}

// WithRecorder records session operations and durations.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithQueueOptions passes options to the underlying queue.
func WithQueueOptions(opts ...slowtask.Option) Option {
	return func(m *Manager) { m.queueOpts = append(m.queueOpts, opts...) }
}

// WithBufferSizeHint sets the initial capacity of pooled feed buffers.
func WithBufferSizeHint(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sizeHint = n
		}
	}
}

// Manager drives a Task from a producer through a slowtask.Queue.
type Manager struct {
	task      Task
	delegate  Delegate
	recorder  metrics.Recorder
	log       logger.Logger
	queueOpts []slowtask.Option
	sizeHint  int

	queue *slowtask.Queue[*feedBuffer]
	pool  *bufferPool

	// mu serialises Start, Stop and Abort. Feed holds it for reading so no
	// buffer can land behind a stop or abort it raced with.
	mu      sync.RWMutex
	running atomic.Bool

	fed       atomic.Uint64
	dropped   atomic.Uint64
	highWater atomic.Uint64
	ignored   atomic.Uint64

	// Worker goroutine only.
	started      bool
	failed       bool
	sessionStart time.Time
}

// New creates a Manager for task. The queue worker starts immediately;
// call Terminate to release it.
func New(task Task, cfg slowtask.Config, opts ...Option) (*Manager, error) {
	if task == nil {
		return nil, errors.Newf("task must not be nil").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	m := &Manager{
		task:     task,
		delegate: nopDelegate{},
		log:      GetLogger(),
		sizeHint: 4096,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.delegate == nil {
		m.delegate = nopDelegate{}
	}
	m.pool = newBufferPool(m.sizeHint)

	qopts := append([]slowtask.Option{
		slowtask.WithName(componentName),
		slowtask.WithLogger(m.log.Module("queue")),
	}, m.queueOpts...)

	q, err := slowtask.New[*feedBuffer](cfg, m.handleItem, m.handleFlushed, qopts...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to create task queue: %w", err)).
			Component(componentName).
			Category(errors.CategoryResource).
			Build()
	}
	m.queue = q
	return m, nil
}

// Start opens the queue and schedules TaskStart.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return m.stateError(ErrAlreadyRunning, "start")
	}
	if err := m.queue.Open(); err != nil {
		return err
	}
	if err := m.queue.Put(CmdStart, nil); err != nil {
		_ = m.queue.Close()
		return err
	}
	// An idle worker waits for the low watermark; the session must open now.
	if err := m.queue.Wake(); err != nil {
		_ = m.queue.Close()
		return err
	}
	m.running.Store(true)
	m.log.Info("session starting")
	return nil
}

// Feed copies data and queues it without blocking. It returns false when
// the buffer was dropped because the manager is not running, a Start, Stop
// or Abort is in progress, or the queue is full.
func (m *Manager) Feed(data []byte) bool {
	if !m.mu.TryRLock() {
		m.drop()
		return false
	}
	defer m.mu.RUnlock()

	if !m.running.Load() {
		m.drop()
		return false
	}

	fb := m.pool.get(data)
	res, err := m.queue.TryPut(CmdFeed, fb)
	if err != nil {
		m.pool.put(fb)
		m.drop()
		return false
	}
	m.fed.Add(1)
	if res == slowtask.PutHighWater {
		m.highWater.Add(1)
	}
	return true
}

func (m *Manager) drop() {
	m.dropped.Add(1)
	if m.recorder != nil {
		m.recorder.RecordOperation(metrics.OpFeed, metrics.StatusDropped)
	}
}

// Stop queues the stop command behind all pending feeds and closes the
// queue. It blocks only while the queue is above its high watermark.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running.Load() {
		return m.stateError(ErrNotRunning, "stop")
	}
	m.running.Store(false)

	if err := m.queue.Put(CmdStop, nil); err != nil {
		return err
	}
	if err := m.queue.Close(); err != nil {
		return err
	}
	// The tail may sit below the low watermark.
	if err := m.queue.Wake(); err != nil {
		return err
	}
	m.log.Info("session stopping")
	return nil
}

// Abort discards pending feeds through TaskIgnore and schedules TaskAbort
// ahead of anything still queued.
func (m *Manager) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running.Load() {
		return m.stateError(ErrNotRunning, "abort")
	}
	m.running.Store(false)

	if err := m.queue.Flush(); err != nil {
		return err
	}
	if err := m.queue.PutOutOfBand(CmdAbort, nil); err != nil {
		if !errors.Is(err, slowtask.ErrFull) {
			return err
		}
		// A previous abort is still pending; queue this one behind it.
		if err := m.queue.Put(CmdAbort, nil); err != nil {
			return err
		}
	}
	if err := m.queue.Close(); err != nil {
		return err
	}
	m.log.Info("session aborting")
	return nil
}

// Running reports whether a session accepts feeds.
func (m *Manager) Running() bool {
	return m.running.Load()
}

// Snapshot returns queue and counter state.
func (m *Manager) Snapshot() Snapshot {
	snap := Snapshot{
		Running:    m.running.Load(),
		QueueState: m.queue.State().String(),
		Fed:        m.fed.Load(),
		Dropped:    m.dropped.Load(),
		HighWater:  m.highWater.Load(),
		Ignored:    m.ignored.Load(),
	}
	if peek, err := m.queue.Peek(); err == nil {
		snap.Pending = peek.Count
		snap.AbortPending = peek.HasOutOfBand && peek.OutOfBandCommand == CmdAbort
	}
	snap.PoolHits, snap.PoolMisses = m.pool.stats()
	return snap
}

// Terminate stops the worker. Items still queued are not dispatched, so
// call Stop and wait for TaskStopped first to keep the session's data.
func (m *Manager) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running.Store(false)
	m.queue.Terminate()
}

func (m *Manager) stateError(sentinel error, op string) error {
	return errors.New(fmt.Errorf("%w: %s", sentinel, op)).
		Component(componentName).
		Category(errors.CategoryState).
		Priority(errors.PriorityLow).
		Context("operation", op).
		Build()
}

// handleItem runs on the worker goroutine without the queue lock.
func (m *Manager) handleItem(cmd slowtask.Command, fb *feedBuffer) {
	switch cmd {
	case CmdStart:
		m.startSession()
	case CmdFeed:
		m.feedSession(fb)
	case CmdStop:
		m.stopSession()
	case CmdAbort:
		m.abortSession()
	default:
		m.log.Warn("unknown command", logger.Int("command", int(cmd)))
	}
}

// handleFlushed runs on the worker goroutine with the queue lock held.
// A flushed start never begins its session. A flushed stop still finishes
// the previous session so its file is kept.
func (m *Manager) handleFlushed(cmd slowtask.Command, fb *feedBuffer) {
	switch cmd {
	case CmdFeed:
		if fb != nil {
			m.ignore(fb)
		}
	case CmdStop:
		m.stopSession()
	}
}

func (m *Manager) ignore(fb *feedBuffer) {
	m.task.TaskIgnore(fb.data)
	m.ignored.Add(1)
	m.pool.put(fb)
}

func (m *Manager) startSession() {
	m.failed = false
	m.sessionStart = time.Now()

	if err := m.task.TaskStart(); err != nil {
		m.started = false
		m.failed = true
		m.record(metrics.OpSessionStart, err)
		m.log.Error("task start failed", logger.Error(err))
		m.delegate.TaskFailed(err)
		return
	}
	m.started = true
	m.record(metrics.OpSessionStart, nil)
	m.delegate.TaskStarted()
}

func (m *Manager) feedSession(fb *feedBuffer) {
	if fb == nil {
		return
	}
	if !m.started || m.failed {
		m.ignore(fb)
		return
	}

	err := m.task.TaskFeed(fb.data)
	m.pool.put(fb)
	if err != nil {
		// Reported once; the rest of the session is ignored.
		m.failed = true
		if m.recorder != nil {
			m.recorder.RecordError(metrics.OpWrite, string(categoryOf(err)))
		}
		m.log.Error("task feed failed", logger.Error(err))
		m.delegate.TaskFailed(err)
	}
}

func (m *Manager) stopSession() {
	if !m.started {
		return
	}
	m.started = false

	start := time.Now()
	err := m.task.TaskStop()
	if m.recorder != nil {
		m.recorder.RecordDuration(metrics.OpFinalize, time.Since(start).Seconds())
	}
	m.record(metrics.OpSessionStop, err)
	if err != nil {
		m.log.Error("task stop failed", logger.Error(err))
	} else {
		m.log.Info("session stopped", logger.Duration("length", time.Since(m.sessionStart)))
	}
	m.delegate.TaskStopped(err)
}

func (m *Manager) abortSession() {
	if m.started {
		m.task.TaskAbort()
		m.started = false
	}
	m.failed = false
	m.record(metrics.OpSessionAbort, nil)
	m.log.Info("session aborted")
	m.delegate.TaskAborted()
}

func (m *Manager) record(op string, err error) {
	if m.recorder == nil {
		return
	}
	if err != nil {
		m.recorder.RecordOperation(op, metrics.StatusError)
		m.recorder.RecordError(op, string(categoryOf(err)))
		return
	}
	m.recorder.RecordOperation(op, metrics.StatusSuccess)
}

func categoryOf(err error) errors.ErrorCategory {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return errors.CategoryGeneric
}

type nopDelegate struct{}

func (nopDelegate) TaskStarted()      {}
func (nopDelegate) TaskStopped(error) {}
func (nopDelegate) TaskAborted()      {}
func (nopDelegate) TaskFailed(error)  {}
