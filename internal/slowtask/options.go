package slowtask

import (
	"time"

	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

// Dispatch kinds reported to an Observer.
const (
	DispatchItem      = "item"
	DispatchOutOfBand = "oob"
	DispatchFlush     = "flush"
)

// Rejection reasons reported to an Observer.
const (
	RejectFull      = "full"
	RejectOOBFull   = "oob_full"
	RejectState     = "state"
	RejectCancelled = "cancelled"
)

// Observer receives queue events. Methods are called with the queue lock
// held and must not block or call back into the queue.
type Observer interface {
	ObserveDepth(queue string, depth int)
	ObserveRejected(queue, reason string)
	ObserveProducerBlocked(queue string)
	ObserveProducerWait(queue string, waited time.Duration)
	ObserveDispatch(queue, kind string, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveDepth(string, int)                      {}
func (nopObserver) ObserveRejected(string, string)                {}
func (nopObserver) ObserveProducerBlocked(string)                 {}
func (nopObserver) ObserveProducerWait(string, time.Duration)     {}
func (nopObserver) ObserveDispatch(string, string, time.Duration) {}

// Option configures a Queue.
type Option func(*options)

type options struct {
	name     string
	log      logger.Logger
	observer Observer
}

// WithName labels log lines and observer events.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver installs an event observer. nil keeps the no-op observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}
