package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/meter"
)

// Session event names.
const (
	EventStarted  = "started"
	EventFinished = "finished"
	EventFailed   = "failed"
)

// Sender is the part of Client the Publisher needs.
type Sender interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
}

// Levels is a meter reading source.
type Levels interface {
	Latest() (meter.Level, time.Time)
}

// SessionEvent is published to <topic>/session.
type SessionEvent struct {
	Event          string    `json:"event"`
	File           string    `json:"file,omitempty"`
	Frames         int64     `json:"frames"`
	Seconds        float64   `json:"seconds"`
	PeakDBFS       float64   `json:"peak_dbfs"`
	ClippedBuffers int       `json:"clipped_buffers"`
	Error          string    `json:"error,omitempty"`
	Time           time.Time `json:"time"`
}

// LevelEvent is published to <topic>/level.
type LevelEvent struct {
	VU       float64   `json:"vu"`
	RMSDBFS  float64   `json:"rms_dbfs"`
	PeakDBFS float64   `json:"peak_dbfs"`
	Clipping bool      `json:"clipping"`
	Time     time.Time `json:"time"`
}

// Publisher turns recorder activity into JSON messages.
type Publisher struct {
	sender   Sender
	topic    string
	interval time.Duration
	now      func() time.Time
	log      logger.Logger
}

// NewPublisher publishes under topic. Level events are sent at most once per
// levelInterval; zero disables them.
func NewPublisher(s Sender, topic string, levelInterval time.Duration, log logger.Logger) *Publisher {
	if log == nil {
		log = GetLogger()
	}
	return &Publisher{
		sender:   s,
		topic:    strings.TrimSuffix(topic, "/"),
		interval: levelInterval,
		now:      time.Now,
		log:      log,
	}
}

// SessionTopic returns <topic>/session.
func (p *Publisher) SessionTopic() string { return p.topic + "/session" }

// LevelTopic returns <topic>/level.
func (p *Publisher) LevelTopic() string { return p.topic + "/level" }

// PublishSession sends ev, stamping it with the current time when unset.
func (p *Publisher) PublishSession(ctx context.Context, ev SessionEvent) error {
	if ev.Time.IsZero() {
		ev.Time = p.now()
	}
	return p.publish(ctx, p.SessionTopic(), ev)
}

// RunLevels publishes the latest meter reading every interval until ctx
// ends. Readings that have not changed since the last tick are skipped, as
// are ticks while the broker is unreachable.
func (p *Publisher) RunLevels(ctx context.Context, levels Levels) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		lvl, at := levels.Latest()
		if at.IsZero() || !at.After(last) || !p.sender.IsConnected() {
			continue
		}
		last = at

		ev := LevelEvent{VU: lvl.VU, RMSDBFS: lvl.RMSDBFS, PeakDBFS: lvl.PeakDBFS, Clipping: lvl.Clipping, Time: at}
		if err := p.publish(ctx, p.LevelTopic(), ev); err != nil {
			p.log.Debug("level publish failed", logger.Error(err))
		}
	}
}

func (p *Publisher) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.New(fmt.Errorf("failed to marshal %s event: %w", topic, err)).
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Build()
	}
	return p.sender.Publish(ctx, topic, payload)
}
