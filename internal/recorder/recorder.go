// Package recorder connects audio capture to a recording session. Every
// captured buffer is metered and handed to a task manager, whose worker
// runs the slow task (usually a wavwriter.Writer).
package recorder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/meter"
	"github.com/ShoYamanishi/vurecorder/internal/slowtask"
	"github.com/ShoYamanishi/vurecorder/internal/taskmanager"
)

const componentName = "recorder"

// LevelObserver exports meter readings and session activity.
type LevelObserver interface {
	ObserveLevel(vu, dbfs float64, clipped bool)
	SetSessionActive(active bool)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLevelObserver exports every reading, e.g. to RecorderMetrics.
func WithLevelObserver(o LevelObserver) Option {
	return func(r *Recorder) { r.levels = o }
}

// WithHistory keeps the latest captured audio in h.
func WithHistory(h *History) Option {
	return func(r *Recorder) { r.history = h }
}

// WithMeterInterval sets how often the level is logged. Zero disables it.
func WithMeterInterval(d time.Duration) Option {
	return func(r *Recorder) { r.interval = d }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithManagerOptions passes options to the task manager. The delegate is
// always the Recorder.
func WithManagerOptions(opts ...taskmanager.Option) Option {
	return func(r *Recorder) { r.mgrOpts = append(r.mgrOpts, opts...) }
}

// Recorder implements capture.Delegate and taskmanager.Delegate.
type Recorder struct {
	meter    *meter.Meter
	manager  *taskmanager.Manager
	levels   LevelObserver
	history  *History
	log      logger.Logger
	interval time.Duration
	mgrOpts  []taskmanager.Option

	lastLog atomic.Int64

	closeOnce   sync.Once
	inputClosed chan struct{}

	// opened carries the TaskStart result of each session, ended the result
	// of each finished one.
	opened chan error
	ended  chan error

	// Worker goroutine only.
	active  bool
	feedErr error
}

// New creates a Recorder running task on a queue sized by cfg.
func New(task taskmanager.Task, cfg slowtask.Config, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		meter:       &meter.Meter{},
		log:         GetLogger(),
		inputClosed: make(chan struct{}),
		opened:      make(chan error, 1),
		ended:       make(chan error, 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	mgrOpts := append([]taskmanager.Option{taskmanager.WithLogger(r.log.Module("taskmanager"))}, r.mgrOpts...)
	mgrOpts = append(mgrOpts, taskmanager.WithDelegate(r))
	m, err := taskmanager.New(task, cfg, mgrOpts...)
	if err != nil {
		return nil, err
	}
	r.manager = m
	return r, nil
}

// Meter returns the input level meter.
func (r *Recorder) Meter() *meter.Meter { return r.meter }

// Manager returns the task manager, e.g. for status snapshots.
func (r *Recorder) Manager() *taskmanager.Manager { return r.manager }

// History returns the capture history, or nil when disabled.
func (r *Recorder) History() *History { return r.history }

// InputClosed is closed once the capture device has stopped.
func (r *Recorder) InputClosed() <-chan struct{} { return r.inputClosed }

// Start begins a session. Feeds before Start are dropped.
func (r *Recorder) Start() error {
	for _, ch := range []chan error{r.opened, r.ended} {
		select {
		case <-ch:
		default:
		}
	}
	r.meter.Reset()
	if r.history != nil {
		r.history.Reset()
	}
	return r.manager.Start()
}

// WaitStarted waits until the task has opened the session started by Start
// and returns its start error. The session still has to be stopped after a
// failure.
func (r *Recorder) WaitStarted(ctx context.Context) error {
	select {
	case err := <-r.opened:
		return err
	case <-ctx.Done():
		return errors.New(fmt.Errorf("session did not start: %w", ctx.Err())).
			Component(componentName).
			Category(errors.CategoryCancellation).
			Context("operation", "start").
			Build()
	}
}

// Stop ends the session and waits until the task has finalised it or ctx
// expires. The returned error is the session's first failure, if any.
func (r *Recorder) Stop(ctx context.Context) error {
	if err := r.manager.Stop(); err != nil {
		return err
	}
	return r.wait(ctx, "stop")
}

// Abort discards the session and waits until the task has cleaned up.
func (r *Recorder) Abort(ctx context.Context) error {
	if err := r.manager.Abort(); err != nil {
		return err
	}
	return r.wait(ctx, "abort")
}

func (r *Recorder) wait(ctx context.Context, op string) error {
	select {
	case err := <-r.ended:
		return err
	case <-ctx.Done():
		return errors.New(fmt.Errorf("session did not finish: %w", ctx.Err())).
			Component(componentName).
			Category(errors.CategoryCancellation).
			Context("operation", op).
			Build()
	}
}

// Terminate releases the task manager worker.
func (r *Recorder) Terminate() {
	r.manager.Terminate()
}

// InputDataArrived meters data and queues it. It never blocks.
func (r *Recorder) InputDataArrived(data []byte) {
	lvl := r.meter.Update(data)
	if r.levels != nil {
		r.levels.ObserveLevel(lvl.VU, lvl.RMSDBFS, lvl.Clipping)
	}
	if r.history != nil {
		r.history.Write(data)
	}
	r.logLevel(lvl)
	r.manager.Feed(data)
}

func (r *Recorder) logLevel(lvl meter.Level) {
	if r.interval <= 0 {
		return
	}
	now := time.Now().UnixNano()
	last := r.lastLog.Load()
	if now-last < int64(r.interval) || !r.lastLog.CompareAndSwap(last, now) {
		return
	}
	r.log.Debug("input level",
		logger.Float64("vu", lvl.VU),
		logger.Float64("rms_dbfs", lvl.RMSDBFS),
		logger.Float64("peak_dbfs", lvl.PeakDBFS),
		logger.Bool("clipping", lvl.Clipping))
}

// AudioInputClosed implements capture.Delegate.
func (r *Recorder) AudioInputClosed() {
	r.closeOnce.Do(func() { close(r.inputClosed) })
}

// TaskStarted implements taskmanager.Delegate.
func (r *Recorder) TaskStarted() {
	r.active = true
	r.feedErr = nil
	if r.levels != nil {
		r.levels.SetSessionActive(true)
	}
	r.signalOpened(nil)
}

// TaskStopped implements taskmanager.Delegate.
func (r *Recorder) TaskStopped(err error) {
	err = errors.Join(r.feedErr, err)
	r.active, r.feedErr = false, nil
	if r.levels != nil {
		r.levels.SetSessionActive(false)
	}
	r.finish(err)
}

// TaskAborted implements taskmanager.Delegate.
func (r *Recorder) TaskAborted() {
	r.active, r.feedErr = false, nil
	if r.levels != nil {
		r.levels.SetSessionActive(false)
	}
	r.finish(nil)
}

// TaskFailed implements taskmanager.Delegate. A session that failed to
// start never reports TaskStopped, so it ends here.
func (r *Recorder) TaskFailed(err error) {
	if !r.active {
		r.signalOpened(err)
		r.finish(err)
		return
	}
	if r.feedErr == nil {
		r.feedErr = err
	}
}

func (r *Recorder) signalOpened(err error) {
	select {
	case r.opened <- err:
	default:
	}
}

func (r *Recorder) finish(err error) {
	select {
	case r.ended <- err:
	default:
		r.log.Warn("session result not collected", logger.Error(err))
	}
}
