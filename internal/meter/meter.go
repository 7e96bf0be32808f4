// Package meter computes input levels for 16-bit PCM buffers: RMS, absolute
// peak, their dBFS values and a 0 to 100 VU scale.
package meter

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

const (
	fullScale = 32768.0

	// SilenceDBFS is reported for an all-zero or empty buffer.
	SilenceDBFS = -96.0

	// vuFloorDBFS maps to VU 0; the scale reaches 100 at -10 dBFS RMS.
	vuFloorDBFS = -60.0
	vuScale     = 100.0 / 50.0

	// clippingVUFloor keeps the needle near the top while samples clip.
	clippingVUFloor = 95.0
)

// Level is the reading for one buffer.
type Level struct {
	RMS      float64 `json:"rms"`
	AbsMax   int     `json:"abs_max"`
	RMSDBFS  float64 `json:"rms_dbfs"`
	PeakDBFS float64 `json:"peak_dbfs"`
	VU       float64 `json:"vu"`
	Clipping bool    `json:"clipping"`
	Samples  int     `json:"samples"`
}

// Compute returns the level of interleaved samples. Channels are not split;
// the reading covers the whole buffer.
func Compute(samples []int16) Level {
	if len(samples) == 0 {
		return Level{RMSDBFS: SilenceDBFS, PeakDBFS: SilenceDBFS}
	}

	var sum float64
	absMax := 0
	clipping := false
	for _, s := range samples {
		if s == math.MaxInt16 || s == math.MinInt16 {
			clipping = true
		}
		v := int(s)
		if v < 0 {
			v = -v
		}
		absMax = max(absMax, v)
		f := float64(s)
		sum += f * f
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	lvl := Level{
		RMS:      rms,
		AbsMax:   absMax,
		RMSDBFS:  toDBFS(rms),
		PeakDBFS: toDBFS(float64(absMax)),
		Clipping: clipping,
		Samples:  len(samples),
	}
	lvl.VU = vuFromDBFS(lvl.RMSDBFS, clipping)
	return lvl
}

// ComputeBytes decodes little-endian S16 data and returns its level. A
// trailing odd byte is ignored.
func ComputeBytes(data []byte) Level {
	return Compute(DecodeS16LE(data, nil))
}

// DecodeS16LE decodes data into dst, reusing its storage when large enough.
func DecodeS16LE(data []byte, dst []int16) []int16 {
	n := len(data) / 2
	dst = dst[:0]
	if cap(dst) < n {
		dst = make([]int16, 0, n)
	}
	for i := 0; i+1 < len(data); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(data[i:i+2])))
	}
	return dst
}

func toDBFS(v float64) float64 {
	if v <= 0 {
		return SilenceDBFS
	}
	return math.Max(20*math.Log10(v/fullScale), SilenceDBFS)
}

func vuFromDBFS(dbfs float64, clipping bool) float64 {
	vu := (dbfs - vuFloorDBFS) * vuScale
	if clipping {
		vu = math.Max(vu, clippingVUFloor)
	}
	return math.Min(math.Max(vu, 0), 100)
}

// Meter keeps the latest reading and the peak since the last Reset.
// Update is called from the capture path, Latest from readers.
type Meter struct {
	mu      sync.RWMutex
	latest  Level
	peak    Level
	updated time.Time
	clips   int
}

// Update computes the level of data and stores it.
func (m *Meter) Update(data []byte) Level {
	lvl := ComputeBytes(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = lvl
	m.updated = time.Now()
	if lvl.AbsMax > m.peak.AbsMax {
		m.peak = lvl
	}
	if lvl.Clipping {
		m.clips++
	}
	return lvl
}

// Latest returns the last reading and when it was taken.
func (m *Meter) Latest() (Level, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.updated
}

// Peak returns the loudest buffer since Reset and the number of clipped
// buffers.
func (m *Meter) Peak() (Level, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peak, m.clips
}

// Reset clears the stored readings.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest, m.peak = Level{}, Level{}
	m.updated = time.Time{}
	m.clips = 0
}
