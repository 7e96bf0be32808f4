// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/slowtask"
)

var validLogLevels = []string{"trace", "debug", "info", "warn", "warning", "error"}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct. Every problem is
// collected; the returned error wraps a ValidationError.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateQueueSettings(&settings.Queue)...)
	ve.Errors = append(ve.Errors, validateAudioSettings(&settings.Audio)...)
	ve.Errors = append(ve.Errors, validateRecordingSettings(&settings.Recording)...)
	ve.Errors = append(ve.Errors, validatePlotSettings(&settings.Plot)...)
	ve.Errors = append(ve.Errors, validateCatalogSettings(&settings.Catalog)...)
	ve.Errors = append(ve.Errors, validateMQTTSettings(&settings.MQTT)...)
	ve.Errors = append(ve.Errors, validateNotifySettings(&settings.Notify)...)
	ve.Errors = append(ve.Errors, validateLoggingSettings(settings)...)
	ve.Errors = append(ve.Errors, validateTelemetrySettings(&settings.Telemetry)...)
	ve.Errors = append(ve.Errors, validateSentrySettings(&settings.Sentry)...)

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

// validateQueueSettings rejects geometry the queue would silently clamp.
func validateQueueSettings(q *slowtask.Config) []string {
	var errs []string
	if q.Capacity <= 0 || q.Capacity > slowtask.MaxCapacity {
		errs = append(errs, fmt.Sprintf("queue.capacity must be between 1 and %d, got %d", slowtask.MaxCapacity, q.Capacity))
		return errs
	}
	if q.HighWatermark <= 0 || q.HighWatermark > q.Capacity {
		errs = append(errs, fmt.Sprintf("queue.highwatermark must be in (0, %d], got %d", q.Capacity, q.HighWatermark))
	}
	if q.LowWatermark < 0 || q.LowWatermark >= q.Capacity {
		errs = append(errs, fmt.Sprintf("queue.lowwatermark must be in [0, %d), got %d", q.Capacity, q.LowWatermark))
	}
	return errs
}

func validateAudioSettings(a *AudioSettings) []string {
	var errs []string
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		errs = append(errs, fmt.Sprintf("audio.samplerate must be between 8000 and 192000, got %d", a.SampleRate))
	}
	if a.Channels != 1 && a.Channels != 2 {
		errs = append(errs, fmt.Sprintf("audio.channels must be 1 or 2, got %d", a.Channels))
	}
	if a.BufferFrames < 0 {
		errs = append(errs, "audio.bufferframes must not be negative")
	}
	return errs
}

func validateRecordingSettings(r *RecordingSettings) []string {
	var errs []string
	if r.Path == "" {
		errs = append(errs, "recording.path must not be empty")
	}
	if r.BaseName == "" || strings.ContainsAny(r.BaseName, `/\`) {
		errs = append(errs, fmt.Sprintf("recording.basename must be a plain file name, got %q", r.BaseName))
	}
	if r.MeterInterval < 10*time.Millisecond {
		errs = append(errs, fmt.Sprintf("recording.meterinterval must be at least 10ms, got %s", r.MeterInterval))
	}
	if r.MinFreeMB < 0 {
		errs = append(errs, "recording.minfreemb must not be negative")
	}
	if r.HistorySeconds < 0 || r.HistorySeconds > 600 {
		errs = append(errs, fmt.Sprintf("recording.historyseconds must be between 0 and 600, got %d", r.HistorySeconds))
	}
	if r.Retention.MaxAge < 0 {
		errs = append(errs, "recording.retention.maxage must not be negative")
	}
	if r.Retention.MaxUsage < 0 || r.Retention.MaxUsage > 100 {
		errs = append(errs, fmt.Sprintf("recording.retention.maxusage must be a percentage, got %g", r.Retention.MaxUsage))
	}
	if r.Retention.MinKeep < 0 {
		errs = append(errs, "recording.retention.minkeep must not be negative")
	}
	return errs
}

func validateCatalogSettings(c *CatalogSettings) []string {
	if !c.Enabled {
		return nil
	}
	var errs []string
	switch strings.ToLower(c.Type) {
	case "sqlite":
		if c.Path == "" {
			errs = append(errs, "catalog.path is required for sqlite")
		}
	case "mysql":
		if c.MySQL.Host == "" || c.MySQL.Database == "" {
			errs = append(errs, "catalog.mysql.host and catalog.mysql.database are required for mysql")
		}
		if c.MySQL.Port <= 0 || c.MySQL.Port > 65535 {
			errs = append(errs, fmt.Sprintf("catalog.mysql.port must be a valid port, got %d", c.MySQL.Port))
		}
	default:
		errs = append(errs, fmt.Sprintf("catalog.type must be sqlite or mysql, got %q", c.Type))
	}
	return errs
}

func validateMQTTSettings(m *MQTTSettings) []string {
	if !m.Enabled {
		return nil
	}
	var errs []string
	if m.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if m.Topic == "" || strings.ContainsAny(m.Topic, "#+") {
		errs = append(errs, fmt.Sprintf("mqtt.topic must be a plain topic prefix, got %q", m.Topic))
	}
	if m.LevelInterval < 0 {
		errs = append(errs, "mqtt.levelinterval must not be negative")
	}
	return errs
}

func validateNotifySettings(n *NotifySettings) []string {
	if !n.Enabled {
		return nil
	}
	var errs []string
	if len(n.URLs) == 0 {
		errs = append(errs, "notify.urls must list at least one service URL when notify is enabled")
	}
	if n.Timeout <= 0 {
		errs = append(errs, "notify.timeout must be positive")
	}
	return errs
}

func validatePlotSettings(p *PlotSettings) []string {
	var errs []string
	if p.Width <= 0 || p.Height <= 0 {
		errs = append(errs, fmt.Sprintf("plot size must be positive, got %dx%d", p.Width, p.Height))
	}
	if p.CacheTTL < 0 {
		errs = append(errs, "plot.cachettl must not be negative")
	}
	return errs
}

func validateLoggingSettings(s *Settings) []string {
	var errs []string
	check := func(key, level string) {
		if level == "" {
			return
		}
		for _, l := range validLogLevels {
			if strings.EqualFold(level, l) {
				return
			}
		}
		errs = append(errs, fmt.Sprintf("%s: unknown log level %q", key, level))
	}

	check("logging.default_level", s.Logging.DefaultLevel)
	if s.Logging.Console != nil {
		check("logging.console.level", s.Logging.Console.Level)
	}
	if s.Logging.FileOutput != nil {
		check("logging.file_output.level", s.Logging.FileOutput.Level)
	}
	for module, level := range s.Logging.ModuleLevels {
		check("logging.module_levels."+module, level)
	}
	if s.Logging.Timezone != "" {
		if _, err := time.LoadLocation(s.Logging.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("logging.timezone: %v", err))
		}
	}
	return errs
}

func validateTelemetrySettings(t *TelemetrySettings) []string {
	if !t.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(t.Listen); err != nil {
		return []string{fmt.Sprintf("telemetry.listen must be host:port, got %q", t.Listen)}
	}
	return nil
}

func validateSentrySettings(s *SentrySettings) []string {
	var errs []string
	if s.Enabled && s.DSN == "" {
		errs = append(errs, "sentry.dsn is required when sentry is enabled")
	}
	if s.SampleRate < 0 || s.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("sentry.samplerate must be between 0 and 1, got %g", s.SampleRate))
	}
	return errs
}
