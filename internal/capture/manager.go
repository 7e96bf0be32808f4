// Package capture reads signed 16-bit PCM from an audio input device with
// miniaudio (gen2brain/malgo) and hands every buffer to a Delegate.
package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

const componentName = "capture"

// ErrState is returned for operations invalid in the current state.
var ErrState = errors.NewStd("invalid capture state")

// Delegate receives captured audio.
type Delegate interface {
	// InputDataArrived runs on the audio thread. data holds interleaved
	// S16LE frames and is only valid during the call, so it must be copied
	// and the call must not block.
	InputDataArrived(data []byte)
	// AudioInputClosed is called after Close, or when the device stops on
	// its own.
	AudioInputClosed()
}

// State of a Manager.
type State int

const (
	StateInit State = iota
	StateDeviceOpened
	StateDead
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateDeviceOpened:
		return "device_opened"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithSource selects the device by ID or name substring.
func WithSource(source string) Option {
	return func(m *Manager) { m.source = source }
}

// WithBufferFrames sets the period size requested from the backend.
func WithBufferFrames(frames int) Option {
	return func(m *Manager) { m.bufferFrames = frames }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func withOpener(o opener) Option {
	return func(m *Manager) { m.open = o }
}

// Manager owns one capture device at a time.
type Manager struct {
	delegate     Delegate
	source       string
	bufferFrames int
	open         opener
	log          logger.Logger

	mu       sync.Mutex
	state    State
	dev      device
	channels int
	closing  atomic.Bool

	buffers atomic.Uint64
	bytes   atomic.Uint64
}

// NewManager returns a Manager in StateInit.
func NewManager(delegate Delegate, opts ...Option) (*Manager, error) {
	if delegate == nil {
		return nil, errors.Newf("capture delegate must not be nil").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	m := &Manager{delegate: delegate, log: GetLogger()}
	for _, opt := range opts {
		opt(m)
	}
	if m.open == nil {
		m.open = openMalgo(m.log)
	}
	return m, nil
}

// Open starts capturing. Valid only in StateInit.
func (m *Manager) Open(sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return errors.ValidationError(fmt.Sprintf("invalid capture format: %d Hz, %d channels", sampleRate, channels))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInit {
		return m.stateError("open")
	}

	m.closing.Store(false)
	dev, err := m.open(deviceParams{
		Source:       m.source,
		SampleRate:   sampleRate,
		Channels:     channels,
		BufferFrames: m.bufferFrames,
	}, m.onData, m.onStop)
	if err != nil {
		m.log.Error("failed to open capture device", logger.Error(err))
		return err
	}

	m.dev = dev
	m.channels = channels
	m.state = StateDeviceOpened
	m.log.Info("capture started",
		logger.String("device", dev.Name()),
		logger.Int("sample_rate", sampleRate),
		logger.Int("channels", channels))
	return nil
}

// Close stops the device and notifies the delegate. Valid only in
// StateDeviceOpened.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state != StateDeviceOpened {
		defer m.mu.Unlock()
		return m.stateError("close")
	}
	err := m.release()
	m.state = StateInit
	m.mu.Unlock()

	m.delegate.AudioInputClosed()
	return err
}

// Terminate closes an open device and moves to StateDead.
func (m *Manager) Terminate() {
	m.mu.Lock()
	wasOpen := m.state == StateDeviceOpened
	if wasOpen {
		if err := m.release(); err != nil {
			m.log.Warn("failed to stop capture device", logger.Error(err))
		}
	}
	m.state = StateDead
	m.mu.Unlock()

	if wasOpen {
		m.delegate.AudioInputClosed()
	}
}

// release stops and frees the device. Called with m.mu held.
func (m *Manager) release() error {
	m.closing.Store(true)
	err := m.dev.Stop()
	m.dev.Uninit()
	m.dev = nil

	m.log.Info("capture stopped",
		logger.Uint64("buffers", m.buffers.Load()),
		logger.Uint64("bytes", m.bytes.Load()))

	if err != nil {
		return errors.New(fmt.Errorf("failed to stop capture device: %w", err)).
			Component(componentName).
			Category(errors.CategoryAudioSource).
			Context("operation", "stop_device").
			Build()
	}
	return nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Channels returns the channel count of the open device, or 0.
func (m *Manager) Channels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDeviceOpened {
		return 0
	}
	return m.channels
}

// Stats returns the number of buffers and bytes delivered.
func (m *Manager) Stats() (buffers, bytes uint64) {
	return m.buffers.Load(), m.bytes.Load()
}

func (m *Manager) onData(data []byte) {
	if len(data) == 0 {
		return
	}
	m.buffers.Add(1)
	m.bytes.Add(uint64(len(data)))
	m.delegate.InputDataArrived(data)
}

// onStop runs on the audio thread, also for stops we requested.
func (m *Manager) onStop() {
	if m.closing.Load() {
		return
	}
	m.log.Warn("capture device stopped unexpectedly")
	m.delegate.AudioInputClosed()
}

func (m *Manager) stateError(op string) error {
	return errors.New(fmt.Errorf("%w: %s in state %s", ErrState, op, m.state)).
		Component(componentName).
		Category(errors.CategoryState).
		Context("operation", op).
		Build()
}
