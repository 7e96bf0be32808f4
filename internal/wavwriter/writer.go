// Package wavwriter writes 16-bit PCM capture buffers to WAV files. A
// Writer is a taskmanager.Task: every method except LastFile, CurrentFile
// and Stats runs on the task manager's worker goroutine.
package wavwriter

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/meter"
)

const (
	componentName = "wavwriter"

	bitDepth       = 16
	bytesPerSample = bitDepth / 8
	pcmFormat      = 1

	timestampLayout = "20060102-150405"
)

// ByteCounter receives the number of PCM bytes written per feed.
type ByteCounter interface {
	AddBytesWritten(n int)
}

// Stats summarises the current or last session.
type Stats struct {
	File         string  `json:"file"`
	Frames       int64   `json:"frames"`
	Seconds      float64 `json:"seconds"`
	IgnoredBytes uint64  `json:"ignored_bytes"`
}

// Writer records one WAV file per session.
type Writer struct {
	BaseFileName     string
	Dir              string
	SampleRate       int
	NumberOfChannels int

	// Bytes is optional.
	Bytes ByteCounter

	log logger.Logger
	now func() time.Time

	// Worker goroutine only.
	file    *os.File
	enc     *wav.Encoder
	format  *audio.Format
	samples []int16
	ints    []int

	mu       sync.Mutex
	path     string
	lastFile string
	frames   int64

	ignoredBytes atomic.Uint64
}

// New returns a Writer for files named <dir>/<base>-<timestamp>-<id>.wav.
func New(dir, base string, sampleRate, channels int) *Writer {
	return &Writer{
		BaseFileName:     base,
		Dir:              dir,
		SampleRate:       sampleRate,
		NumberOfChannels: channels,
		log:              logger.Global().Module("recorder").Module(componentName),
		now:              time.Now,
	}
}

func (w *Writer) validate() error {
	switch {
	case w.BaseFileName == "":
		return errors.ValidationError("base file name must not be empty")
	case w.SampleRate <= 0:
		return errors.ValidationError(fmt.Sprintf("invalid sample rate %d", w.SampleRate))
	case w.NumberOfChannels <= 0:
		return errors.ValidationError(fmt.Sprintf("invalid channel count %d", w.NumberOfChannels))
	}
	return nil
}

func (w *Writer) fileName() string {
	id := uuid.New().String()[:8]
	name := fmt.Sprintf("%s-%s-%s.wav", w.BaseFileName, w.now().Format(timestampLayout), id)
	return filepath.Join(w.Dir, name)
}

// TaskStart creates the session file and its encoder.
func (w *Writer) TaskStart() error {
	if w.file != nil {
		return errors.Newf("session already open: %s", w.path).
			Component(componentName).
			Category(errors.CategoryState).
			Build()
	}
	if err := w.validate(); err != nil {
		return err
	}
	if w.Dir != "" {
		if err := os.MkdirAll(w.Dir, 0o755); err != nil {
			return errors.New(fmt.Errorf("failed to create recording directory: %w", err)).
				Component(componentName).
				Category(errors.CategoryFileIO).
				Context("operation", "create_dir").
				Context("dir", w.Dir).
				Build()
		}
	}

	path := w.fileName()
	f, err := os.Create(path)
	if err != nil {
		return errors.FileError(fmt.Errorf("failed to create WAV file: %w", err), path, 0)
	}

	w.file = f
	w.enc = wav.NewEncoder(f, w.SampleRate, bitDepth, w.NumberOfChannels, pcmFormat)
	w.format = &audio.Format{SampleRate: w.SampleRate, NumChannels: w.NumberOfChannels}
	w.ignoredBytes.Store(0)

	w.mu.Lock()
	w.path = path
	w.frames = 0
	w.mu.Unlock()

	w.log.Info("recording started", logger.String("file", path))
	return nil
}

// TaskFeed appends S16LE data. A trailing partial frame is dropped.
func (w *Writer) TaskFeed(data []byte) error {
	if w.enc == nil {
		return errors.Newf("no open session").
			Component(componentName).
			Category(errors.CategoryState).
			Build()
	}

	frameBytes := bytesPerSample * w.NumberOfChannels
	usable := len(data) - len(data)%frameBytes
	if usable == 0 {
		return nil
	}

	w.samples = meter.DecodeS16LE(data[:usable], w.samples)
	if cap(w.ints) < len(w.samples) {
		w.ints = make([]int, len(w.samples))
	}
	w.ints = w.ints[:len(w.samples)]
	for i, s := range w.samples {
		w.ints[i] = int(s)
	}

	buf := &audio.IntBuffer{Data: w.ints, Format: w.format, SourceBitDepth: bitDepth}
	if err := w.enc.Write(buf); err != nil {
		return errors.New(fmt.Errorf("failed to write to WAV encoder: %w", err)).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("operation", "write").
			Context("file_path", w.path).
			Build()
	}

	w.mu.Lock()
	w.frames += int64(usable / frameBytes)
	w.mu.Unlock()

	if w.Bytes != nil {
		w.Bytes.AddBytesWritten(usable)
	}
	return nil
}

// TaskStop finalises the header and closes the file.
func (w *Writer) TaskStop() error {
	if w.enc == nil {
		return nil
	}
	path := w.path
	begin := time.Now()

	w.mu.Lock()
	empty := w.frames == 0
	w.mu.Unlock()

	// The encoder writes its header on the first Write.
	var hdrErr error
	if empty {
		hdrErr = w.enc.Write(&audio.IntBuffer{Format: w.format, SourceBitDepth: bitDepth})
	}
	encErr := w.enc.Close()
	closeErr := w.file.Close()
	w.enc, w.file = nil, nil

	if err := errors.Join(hdrErr, encErr, closeErr); err != nil {
		return errors.New(fmt.Errorf("failed to finalize WAV file: %w", err)).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Priority(errors.PriorityHigh).
			Timing("finalize_header", time.Since(begin)).
			Context("file_path", path).
			Build()
	}

	w.mu.Lock()
	w.lastFile = path
	frames := w.frames
	w.mu.Unlock()

	w.log.Info("recording finished",
		logger.String("file", path),
		logger.Int64("frames", frames),
		logger.Uint64("ignored_bytes", w.ignoredBytes.Load()))
	return nil
}

// TaskAbort closes and removes the partial file.
func (w *Writer) TaskAbort() {
	if w.file == nil {
		return
	}
	path := w.path

	_ = w.file.Close()
	w.enc, w.file = nil, nil

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.log.Warn("failed to remove aborted recording", logger.String("file", path), logger.Error(err))
	}

	w.mu.Lock()
	w.path = ""
	w.mu.Unlock()

	w.log.Info("recording aborted", logger.String("file", path))
}

// TaskIgnore counts discarded bytes.
func (w *Writer) TaskIgnore(data []byte) {
	w.ignoredBytes.Add(uint64(len(data)))
}

// LastFile returns the path of the last finished recording.
func (w *Writer) LastFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastFile
}

// CurrentFile returns the path being written, or "".
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Stats returns the frame count of the current or last session.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Stats{File: w.path, Frames: w.frames, IgnoredBytes: w.ignoredBytes.Load()}
	if w.SampleRate > 0 {
		st.Seconds = float64(w.frames) / float64(w.SampleRate)
	}
	return st
}
