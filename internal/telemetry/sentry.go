// Package telemetry provides opt-in error reporting to Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

// DefaultFlushTimeout bounds Close.
const DefaultFlushTimeout = 2 * time.Second

var (
	initMu      sync.Mutex
	initialized bool
)

// Option adjusts the Sentry client options before Init.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, e.g. with a MockTransport.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// InitSentry initializes the Sentry SDK and installs the error reporter.
// Reporting is opt-in: with Enabled unset nothing is initialized.
func InitSentry(settings *conf.SentrySettings, release string, opts ...Option) error {
	log := GetLogger()
	if !settings.Enabled {
		log.Debug("sentry telemetry is disabled")
		return nil
	}

	options := sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       settings.SampleRate,
		Debug:            settings.Debug,
		AttachStacktrace: false,
		Environment:      settings.Environment,
		ServerName:       "",
		Release:          "vurecorder@" + release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetContext("platform", map[string]any{
			"go_version": runtime.Version(),
			"num_cpu":    runtime.NumCPU(),
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	initMu.Lock()
	initialized = true
	initMu.Unlock()

	log.Info("sentry telemetry initialized",
		logger.String("environment", settings.Environment),
		logger.Float64("sample_rate", settings.SampleRate))
	return nil
}

// Enabled reports whether InitSentry installed the reporter.
func Enabled() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// Close flushes pending events and removes the error reporter.
func Close(timeout time.Duration) bool {
	initMu.Lock()
	defer initMu.Unlock()
	if !initialized {
		return true
	}
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}

	errors.SetTelemetryReporter(nil)
	initialized = false
	flushed := sentry.Flush(timeout)
	if !flushed {
		GetLogger().Warn("sentry flush timed out", logger.Duration("timeout", timeout))
	}
	return flushed
}

// applyPrivacyFilters strips host and user identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
