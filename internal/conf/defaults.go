// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("queue.capacity", 128)
	v.SetDefault("queue.highwatermark", 96)
	v.SetDefault("queue.lowwatermark", 16)

	v.SetDefault("audio.source", "")
	v.SetDefault("audio.samplerate", 48000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.bufferframes", 1024)

	v.SetDefault("recording.path", "recordings")
	v.SetDefault("recording.basename", "recording")
	v.SetDefault("recording.meterinterval", 200*time.Millisecond)
	v.SetDefault("recording.minfreemb", 100)
	v.SetDefault("recording.historyseconds", 10)
	v.SetDefault("recording.retention.maxage", time.Duration(0))
	v.SetDefault("recording.retention.maxusage", 0.0)
	v.SetDefault("recording.retention.minkeep", 10)
	v.SetDefault("recording.retention.maxdeletions", 1000)

	v.SetDefault("plot.width", 120)
	v.SetDefault("plot.height", 24)
	v.SetDefault("plot.cachettl", 10*time.Minute)

	v.SetDefault("catalog.enabled", false)
	v.SetDefault("catalog.type", "sqlite")
	v.SetDefault("catalog.path", "recordings/catalog.db")
	v.SetDefault("catalog.mysql.host", "localhost")
	v.SetDefault("catalog.mysql.port", 3306)
	v.SetDefault("catalog.mysql.username", "")
	v.SetDefault("catalog.mysql.password", "")
	v.SetDefault("catalog.mysql.database", "vurecorder")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "vurecorder")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "vurecorder")
	v.SetDefault("mqtt.levelinterval", 5*time.Second)
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.urls", []string{})
	v.SetDefault("notify.onfinish", false)
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.module_levels", map[string]string{})

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "127.0.0.1:8090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.samplerate", 1.0)
	v.SetDefault("sentry.debug", false)
}
