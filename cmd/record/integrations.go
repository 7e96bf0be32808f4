package record

import (
	"context"
	"sync"
	"time"

	"github.com/ShoYamanishi/vurecorder/internal/catalog"
	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/diskmanager"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/meter"
	"github.com/ShoYamanishi/vurecorder/internal/mqtt"
	"github.com/ShoYamanishi/vurecorder/internal/notification"
	"github.com/ShoYamanishi/vurecorder/internal/wavwriter"
)

const (
	mqttConnectTimeout = 10 * time.Second
	publishTimeout     = 5 * time.Second
)

// session summarises a finished recording for the integrations.
type session struct {
	started time.Time
	stats   wavwriter.Stats
	peak    meter.Level
	clipped int
}

// integrations are the optional consumers of session events: the catalog,
// MQTT, push notifications and retention cleanup. Their failures after
// setup are logged and never fail the recording.
type integrations struct {
	settings *conf.Settings
	log      logger.Logger

	catalog  *catalog.Catalog
	mqtt     *mqtt.Client
	pub      *mqtt.Publisher
	notifier *notification.Notifier
	cleaner  *diskmanager.Cleaner

	levelsCancel context.CancelFunc
	wg           sync.WaitGroup
}

// openIntegrations sets up every enabled integration. A broken catalog or
// notification config is an error; an unreachable broker is not.
func openIntegrations(ctx context.Context, s *conf.Settings, log logger.Logger) (*integrations, error) {
	in := &integrations{settings: s, log: log}

	if s.Catalog.Enabled {
		c, err := catalog.Open(&s.Catalog)
		if err != nil {
			return nil, err
		}
		in.catalog = c
	}

	if s.Notify.Enabled {
		n, err := notification.New(&s.Notify, nil)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.notifier = n
	}

	if s.MQTT.Enabled {
		in.mqtt = mqtt.NewClient(mqtt.ConfigFromSettings(&s.MQTT), nil)
		cctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		if err := in.mqtt.Connect(cctx); err != nil {
			log.Warn("mqtt broker unavailable, events will not be published", logger.Error(err))
		}
		cancel()
		in.pub = mqtt.NewPublisher(in.mqtt, s.MQTT.Topic, s.MQTT.LevelInterval, nil)
	}

	r := s.Recording.Retention
	policy := diskmanager.Policy{MaxAge: r.MaxAge, MaxUsagePercent: r.MaxUsage, MinKeep: r.MinKeep, MaxDeletions: r.MaxDeletions}
	if policy.Enabled() {
		opts := []diskmanager.Option{}
		if in.catalog != nil {
			opts = append(opts, diskmanager.WithDeleteHook(in.forget))
		}
		in.cleaner = diskmanager.NewCleaner(policy, opts...)
	}
	return in, nil
}

// forget drops a deleted recording from the catalog.
func (in *integrations) forget(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if _, err := in.catalog.DeleteByPath(ctx, path); err != nil {
		in.log.Warn("failed to remove recording from catalog", logger.String("file", path), logger.Error(err))
	}
}

// started announces a session and starts level publishing.
func (in *integrations) started(file string, levels mqtt.Levels) {
	if in.pub == nil {
		return
	}
	in.publish(mqtt.SessionEvent{Event: mqtt.EventStarted, File: file})

	ctx, cancel := context.WithCancel(context.Background())
	in.levelsCancel = cancel
	in.wg.Go(func() { in.pub.RunLevels(ctx, levels) })
}

// finished records, announces and cleans up after a saved session.
func (in *integrations) finished(s session) {
	in.stopLevels()
	st := s.stats

	in.publish(mqtt.SessionEvent{
		Event:          mqtt.EventFinished,
		File:           st.File,
		Frames:         st.Frames,
		Seconds:        st.Seconds,
		PeakDBFS:       s.peak.PeakDBFS,
		ClippedBuffers: s.clipped,
	})

	if in.catalog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := in.catalog.Add(ctx, &catalog.Recording{
			Path:           st.File,
			BaseName:       in.settings.Recording.BaseName,
			SampleRate:     in.settings.Audio.SampleRate,
			Channels:       in.settings.Audio.Channels,
			Frames:         st.Frames,
			Seconds:        st.Seconds,
			PeakDBFS:       s.peak.PeakDBFS,
			RMSDBFS:        s.peak.RMSDBFS,
			ClippedBuffers: s.clipped,
			IgnoredBytes:   st.IgnoredBytes,
			StartedAt:      s.started,
			FinishedAt:     time.Now(),
		})
		cancel()
		if err != nil {
			in.log.Warn("failed to catalog recording", logger.String("file", st.File), logger.Error(err))
		}
	}

	if in.notifier != nil {
		if err := in.notifier.SessionFinished(st.File, st.Seconds); err != nil {
			in.log.Warn("failed to send notification", logger.Error(err))
		}
	}

	if in.cleaner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		_, err := in.cleaner.Run(ctx, in.settings.Recording.Path, in.settings.Recording.BaseName)
		cancel()
		if err != nil {
			in.log.Warn("retention cleanup failed", logger.Error(err))
		}
	}
}

// failed announces a session that ended with err.
func (in *integrations) failed(err error) {
	in.stopLevels()
	in.publish(mqtt.SessionEvent{Event: mqtt.EventFailed, Error: err.Error()})
	if in.notifier != nil {
		if nerr := in.notifier.SessionFailed(err); nerr != nil {
			in.log.Warn("failed to send notification", logger.Error(nerr))
		}
	}
}

func (in *integrations) publish(ev mqtt.SessionEvent) {
	if in.pub == nil || !in.mqtt.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := in.pub.PublishSession(ctx, ev); err != nil {
		in.log.Warn("failed to publish session event", logger.String("event", ev.Event), logger.Error(err))
	}
}

func (in *integrations) stopLevels() {
	if in.levelsCancel != nil {
		in.levelsCancel()
		in.levelsCancel = nil
	}
	in.wg.Wait()
}

// Close stops level publishing and releases connections.
func (in *integrations) Close() {
	in.stopLevels()
	if in.mqtt != nil {
		in.mqtt.Disconnect()
	}
	if in.catalog != nil {
		if err := in.catalog.Close(); err != nil {
			in.log.Warn("failed to close catalog", logger.Error(err))
		}
	}
}
