package slowtask

import (
	"github.com/ShoYamanishi/vurecorder/internal/errors"
)

const (
	// DefaultCapacity replaces a non-positive capacity.
	DefaultCapacity = 128

	// MaxCapacity is the largest ring New will allocate. Larger requests
	// fail with ErrResource.
	MaxCapacity = 1 << 20
)

// Sentinel errors. Errors returned by the queue wrap one of these and can be
// matched with errors.Is.
var (
	ErrState    = errors.NewStd("operation not valid in current queue state")
	ErrFull     = errors.NewStd("queue full")
	ErrResource = errors.NewStd("queue resources unavailable")
)

// Command tags a queued payload. Its meaning belongs to the producer and the
// handlers; the queue never interprets it.
type Command int

// Handler is invoked on the worker goroutine for each dispatched item.
type Handler[T any] func(cmd Command, payload T)

// Config holds the ring geometry. Out-of-range values are clamped by New.
type Config struct {
	Capacity      int `yaml:"capacity" mapstructure:"capacity"`
	HighWatermark int `yaml:"highwatermark" mapstructure:"highwatermark"`
	LowWatermark  int `yaml:"lowwatermark" mapstructure:"lowwatermark"`
}

// sanitize applies the clamping rules: capacity <= 0 becomes DefaultCapacity,
// high outside (0, capacity] becomes capacity, low outside [0, capacity)
// becomes 0.
func (c Config) sanitize() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.HighWatermark <= 0 || c.HighWatermark > c.Capacity {
		c.HighWatermark = c.Capacity
	}
	if c.LowWatermark < 0 || c.LowWatermark >= c.Capacity {
		c.LowWatermark = 0
	}
	return c
}

// State is the queue lifecycle state.
type State int

const (
	// StateError is terminal and only reached by a failed New.
	StateError State = iota
	StateClosed
	StateOpened
	// StateTerminating is terminal and only reached through Terminate.
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// PutResult distinguishes the two successful TryPut outcomes.
type PutResult int

const (
	PutOK PutResult = iota
	// PutHighWater means the item was queued and the ring is now at or above
	// the high watermark. Producers should slow down.
	PutHighWater
)

func (r PutResult) String() string {
	if r == PutHighWater {
		return "high-water"
	}
	return "ok"
}

type item[T any] struct {
	cmd     Command
	payload T
}

// Snapshot is a copy of the queue head taken by Peek. Nothing is removed.
type Snapshot[T any] struct {
	Count int

	// Head is valid when Count > 0.
	HeadCommand Command
	HeadPayload T

	HasOutOfBand     bool
	OutOfBandCommand Command
	OutOfBandPayload T
}
