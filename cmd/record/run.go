package record

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ShoYamanishi/vurecorder/internal/capture"
	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/diskmanager"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/httpserver"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/observability"
	"github.com/ShoYamanishi/vurecorder/internal/recorder"
	"github.com/ShoYamanishi/vurecorder/internal/slowtask"
	"github.com/ShoYamanishi/vurecorder/internal/taskmanager"
	"github.com/ShoYamanishi/vurecorder/internal/waveform"
	"github.com/ShoYamanishi/vurecorder/internal/wavwriter"
)

const (
	stopTimeout     = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// source is the part of capture.Manager used here.
type source interface {
	Open(sampleRate, channels int) error
	Close() error
	Terminate()
}

// newSource is replaced in tests.
var newSource = func(d capture.Delegate, audio conf.AudioSettings) (source, error) {
	return capture.NewManager(d,
		capture.WithSource(audio.Source),
		capture.WithBufferFrames(audio.BufferFrames))
}

// run records one session and returns the path of the finished file.
func run(ctx context.Context, settings *conf.Settings, duration time.Duration) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.Global().Module("main").Module("record")

	m, err := observability.NewMetrics()
	if err != nil {
		return "", err
	}

	audio := settings.Audio
	minFree := uint64(settings.Recording.MinFreeMB) * 1024 * 1024
	if err := diskmanager.CheckFreeSpace(settings.Recording.Path, minFree); err != nil {
		return "", err
	}

	in, err := openIntegrations(ctx, settings, log)
	if err != nil {
		return "", err
	}
	defer in.Close()

	history := recorder.NewHistory(time.Duration(settings.Recording.HistorySeconds)*time.Second, audio.SampleRate, audio.Channels)

	writer := wavwriter.New(settings.Recording.Path, settings.Recording.BaseName, audio.SampleRate, audio.Channels)
	writer.Bytes = m.Recorder

	rec, err := recorder.New(writer, settings.Queue,
		recorder.WithLevelObserver(m.Recorder),
		recorder.WithMeterInterval(settings.Recording.MeterInterval),
		recorder.WithHistory(history),
		recorder.WithManagerOptions(
			taskmanager.WithRecorder(m.Recorder),
			taskmanager.WithBufferSizeHint(audio.BufferFrames*audio.Channels*2),
			taskmanager.WithQueueOptions(slowtask.WithObserver(m.Queue)),
		))
	if err != nil {
		return "", err
	}
	defer rec.Terminate()

	if settings.Telemetry.Enabled {
		deps := httpserver.Deps{
			Sessions:       rec.Manager(),
			Levels:         rec.Meter(),
			Recordings:     writer,
			Plotter:        waveform.NewRenderer(settings.Plot.CacheTTL, waveform.WithRecorder(m.Recorder)),
			DiskUsage:      func() (diskmanager.Usage, error) { return diskmanager.GetUsage(settings.Recording.Path) },
			MetricsHandler: m.Handler(),
			HTTPMetrics:    m.HTTP,
		}
		if history != nil {
			deps.History = history
		}
		if in.catalog != nil {
			deps.Catalog = in.catalog
		}
		srv := httpserver.New(deps, nil)
		if err := srv.Start(settings.Telemetry.Listen); err != nil {
			return "", err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn("http server shutdown failed", logger.Error(err))
			}
		}()
	}

	src, err := newSource(rec, audio)
	if err != nil {
		return "", err
	}
	defer src.Terminate()

	started := time.Now()
	if err := rec.Start(); err != nil {
		in.failed(err)
		return "", err
	}
	if err := src.Open(audio.SampleRate, audio.Channels); err != nil {
		actx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if abortErr := rec.Abort(actx); abortErr != nil {
			log.Warn("failed to abort session", logger.Error(abortErr))
		}
		in.failed(err)
		return "", err
	}
	wctx, wcancel := context.WithTimeout(ctx, stopTimeout)
	err = rec.WaitStarted(wctx)
	wcancel()
	if err != nil {
		if cerr := src.Close(); cerr != nil && !errors.Is(cerr, capture.ErrState) {
			log.Warn("failed to close capture device", logger.Error(cerr))
		}
		sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if stopErr := rec.Stop(sctx); stopErr != nil && !errors.Is(stopErr, err) {
			log.Warn("failed to stop session", logger.Error(stopErr))
		}
		in.failed(err)
		return "", err
	}
	in.started(writer.CurrentFile(), rec.Meter())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	log.Info("recording", logger.String("file", writer.CurrentFile()))
	select {
	case <-ctx.Done():
	case <-rec.InputClosed():
		log.Warn("capture device stopped unexpectedly")
	}

	if err := src.Close(); err != nil && !errors.Is(err, capture.ErrState) {
		log.Warn("failed to close capture device", logger.Error(err))
	}

	sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := rec.Stop(sctx); err != nil {
		in.failed(err)
		return "", err
	}

	st := writer.Stats()
	st.File = writer.LastFile()
	peak, clipped := rec.Meter().Peak()
	in.finished(session{started: started, stats: st, peak: peak, clipped: clipped})

	snap := rec.Manager().Snapshot()
	log.Info("recording saved",
		logger.String("file", writer.LastFile()),
		logger.Int64("frames", st.Frames),
		logger.Float64("seconds", st.Seconds),
		logger.Uint64("dropped_buffers", snap.Dropped))
	return writer.LastFile(), nil
}
