package waveform

import (
	"fmt"
	"os"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/observability/metrics"
)

// DefaultCacheTTL is used when NewRenderer is given a non-positive TTL.
const DefaultCacheTTL = 10 * time.Minute

// Renderer caches plots per file and size. A file rewritten since it was
// plotted gets a new key, so stale plots simply expire.
type Renderer struct {
	cache    *cache.Cache
	recorder metrics.Recorder
	log      logger.Logger
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithRecorder records plot operations and durations.
func WithRecorder(r metrics.Recorder) RendererOption {
	return func(rd *Renderer) { rd.recorder = r }
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) RendererOption {
	return func(rd *Renderer) {
		if l != nil {
			rd.log = l
		}
	}
}

// NewRenderer creates a Renderer whose entries live for ttl.
func NewRenderer(ttl time.Duration, opts ...RendererOption) *Renderer {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	r := &Renderer{
		cache: cache.New(ttl, ttl*2),
		log:   logger.Global().Module(componentName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plot returns the cached plot for path or computes it.
func (r *Renderer) Plot(path string, width, height int) (*Plot, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.FileError(fmt.Errorf("failed to stat WAV file: %w", err), path, 0)
	}
	key := fmt.Sprintf("%s|%d|%d|%d|%d", path, fi.Size(), fi.ModTime().UnixNano(), width, height)

	if cached, found := r.cache.Get(key); found {
		if p, ok := cached.(*Plot); ok {
			return p, nil
		}
	}

	start := time.Now()
	p, err := ComputePeakAndPlots(path, width, height)
	if r.recorder != nil {
		r.recorder.RecordDuration(metrics.OpPlot, time.Since(start).Seconds())
	}
	if err != nil {
		r.record(metrics.StatusError)
		r.log.Warn("plot failed", logger.String("file", path), logger.Error(err))
		return nil, err
	}
	r.record(metrics.StatusSuccess)

	r.cache.Set(key, p, cache.DefaultExpiration)
	r.log.Debug("plot computed",
		logger.String("file", path),
		logger.Int("samples", p.Length),
		logger.Duration("took", time.Since(start)))
	return p, nil
}

// Len returns the number of cached plots.
func (r *Renderer) Len() int {
	return r.cache.ItemCount()
}

// Purge drops every cached plot.
func (r *Renderer) Purge() {
	r.cache.Flush()
}

func (r *Renderer) record(status string) {
	if r.recorder != nil {
		r.recorder.RecordOperation(metrics.OpPlot, status)
	}
}
