package recorder

import (
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/ShoYamanishi/vurecorder/internal/meter"
)

const bytesPerSample = 2

// History keeps the most recent window of captured S16LE audio. When full,
// the oldest whole frames are dropped to make room.
type History struct {
	mu         sync.Mutex
	rb         *ringbuffer.RingBuffer
	frameBytes int
	sampleRate int
	discard    []byte
}

// NewHistory sizes the buffer for window at sampleRate and channels. It
// returns nil for a non-positive window.
func NewHistory(window time.Duration, sampleRate, channels int) *History {
	frameBytes := bytesPerSample * max(channels, 1)
	frames := int(window.Seconds() * float64(sampleRate))
	if frames <= 0 {
		return nil
	}
	return &History{
		rb:         ringbuffer.New(frames * frameBytes),
		frameBytes: frameBytes,
		sampleRate: sampleRate,
	}
}

// Write appends data. A trailing partial frame is ignored.
func (h *History) Write(data []byte) {
	data = data[:len(data)-len(data)%h.frameBytes]
	if len(data) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := h.rb.Capacity()
	if len(data) > capacity {
		data = data[len(data)-capacity:]
	}
	if need := len(data) - h.rb.Free(); need > 0 {
		if cap(h.discard) < need {
			h.discard = make([]byte, need)
		}
		_, _ = h.rb.Read(h.discard[:need])
	}
	_, _ = h.rb.Write(data)
}

// Samples returns a copy of the buffered samples, oldest first.
func (h *History) Samples() []int16 {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.rb.Length()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	_, _ = h.rb.Read(buf)
	_, _ = h.rb.Write(buf)
	return meter.DecodeS16LE(buf, nil)
}

// Duration returns how much audio is buffered.
func (h *History) Duration() time.Duration {
	h.mu.Lock()
	n := h.rb.Length()
	h.mu.Unlock()
	frames := n / h.frameBytes
	return time.Duration(frames) * time.Second / time.Duration(h.sampleRate)
}

// Reset drops the buffered audio.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rb.Reset()
}
