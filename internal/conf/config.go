// conf/config.go settings for the recorder
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/slowtask"
)

const (
	componentName = "conf"

	// EnvPrefix prefixes environment overrides, e.g. VURECORDER_AUDIO_SAMPLERATE.
	EnvPrefix = "VURECORDER"

	configName = "config"
	configType = "yaml"
	appDir     = "vurecorder"
)

// Settings is the root of config.yaml.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Queue     slowtask.Config      `yaml:"queue" mapstructure:"queue"`
	Audio     AudioSettings        `yaml:"audio" mapstructure:"audio"`
	Recording RecordingSettings    `yaml:"recording" mapstructure:"recording"`
	Plot      PlotSettings         `yaml:"plot" mapstructure:"plot"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Catalog   CatalogSettings      `yaml:"catalog" mapstructure:"catalog"`
	MQTT      MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Notify    NotifySettings       `yaml:"notify" mapstructure:"notify"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	Sentry    SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
}

// AudioSettings selects the capture device and format.
type AudioSettings struct {
	Source       string `yaml:"source" mapstructure:"source"`             // device ID or name substring, "" for default
	SampleRate   int    `yaml:"samplerate" mapstructure:"samplerate"`     // Hz
	Channels     int    `yaml:"channels" mapstructure:"channels"`         // 1 or 2
	BufferFrames int    `yaml:"bufferframes" mapstructure:"bufferframes"` // period size requested from the backend
}

// RecordingSettings controls where WAV files go and how long they stay.
type RecordingSettings struct {
	Path           string            `yaml:"path" mapstructure:"path"`
	BaseName       string            `yaml:"basename" mapstructure:"basename"`
	MeterInterval  time.Duration     `yaml:"meterinterval" mapstructure:"meterinterval"`   // how often the level is logged
	MinFreeMB      int               `yaml:"minfreemb" mapstructure:"minfreemb"`           // refuse to start below this, 0 disables
	HistorySeconds int               `yaml:"historyseconds" mapstructure:"historyseconds"` // live waveform window, 0 disables
	Retention      RetentionSettings `yaml:"retention" mapstructure:"retention"`
}

// RetentionSettings removes old recordings after each session.
type RetentionSettings struct {
	MaxAge       time.Duration `yaml:"maxage" mapstructure:"maxage"`     // 0 disables the age pass
	MaxUsage     float64       `yaml:"maxusage" mapstructure:"maxusage"` // percent, 0 disables the usage pass
	MinKeep      int           `yaml:"minkeep" mapstructure:"minkeep"`
	MaxDeletions int           `yaml:"maxdeletions" mapstructure:"maxdeletions"`
}

// CatalogSettings selects the database indexing finished recordings.
type CatalogSettings struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Type    string        `yaml:"type" mapstructure:"type"` // sqlite or mysql
	Path    string        `yaml:"path" mapstructure:"path"` // sqlite file
	MySQL   MySQLSettings `yaml:"mysql" mapstructure:"mysql"`
}

// MySQLSettings is the catalog's MySQL connection.
type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// MQTTSettings controls session and level events published to a broker.
type MQTTSettings struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Broker        string        `yaml:"broker" mapstructure:"broker"`
	ClientID      string        `yaml:"clientid" mapstructure:"clientid"`
	Username      string        `yaml:"username" mapstructure:"username"`
	Password      string        `yaml:"password" mapstructure:"password"`
	Topic         string        `yaml:"topic" mapstructure:"topic"` // prefix, events go to <topic>/session and <topic>/level
	LevelInterval time.Duration `yaml:"levelinterval" mapstructure:"levelinterval"`
	Retain        bool          `yaml:"retain" mapstructure:"retain"`
}

// NotifySettings controls push notifications sent through shoutrrr URLs.
type NotifySettings struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	URLs     []string      `yaml:"urls" mapstructure:"urls"`
	OnFinish bool          `yaml:"onfinish" mapstructure:"onfinish"` // failures are always sent
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PlotSettings are the defaults of the plot command and endpoint.
type PlotSettings struct {
	Width    int           `yaml:"width" mapstructure:"width"`
	Height   int           `yaml:"height" mapstructure:"height"`
	CacheTTL time.Duration `yaml:"cachettl" mapstructure:"cachettl"`
}

// TelemetrySettings controls the HTTP status and metrics endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// SentrySettings controls error reporting.
type SentrySettings struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	DSN         string  `yaml:"dsn" mapstructure:"dsn"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
	SampleRate  float64 `yaml:"samplerate" mapstructure:"samplerate"`
	Debug       bool    `yaml:"debug" mapstructure:"debug"`
}

// ConfigPaths returns the directories searched for config.yaml, most
// specific first.
func ConfigPaths() []string {
	paths := []string{"."}
	home, err := os.UserHomeDir()
	if err == nil {
		if runtime.GOOS == "windows" {
			paths = append(paths, filepath.Join(home, "AppData", "Roaming", appDir))
		} else {
			paths = append(paths, filepath.Join(home, ".config", appDir))
		}
	}
	if runtime.GOOS != "windows" {
		paths = append(paths, filepath.Join("/etc", appDir))
	}
	return paths
}

// NewViper returns a viper instance with defaults, search paths and
// environment overrides registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	for _, p := range ConfigPaths() {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultConfig(v)
	return v
}

// Load reads the config file into v and returns validated settings. An
// explicit path must exist; without one a missing config.yaml means
// defaults.
func Load(v *viper.Viper, path string) (*Settings, error) {
	if path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("error reading config file: %w", err)).
				Component(componentName).
				Category(errors.CategoryConfiguration).
				Context("config_path", path).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// UsedConfigFile returns the file v read, or "" when running on defaults.
func UsedConfigFile(v *viper.Viper) string {
	return v.ConfigFileUsed()
}

// Defaults returns the built-in settings.
func Defaults() (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling defaults: %w", err)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return settings, nil
}

// WriteDefault writes the built-in settings to path as YAML. An existing
// file is only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.Newf("config file already exists: %s", path).
				Component(componentName).
				Category(errors.CategoryConfiguration).
				Context("config_path", path).
				Build()
		}
	}

	settings, err := Defaults()
	if err != nil {
		return err
	}
	return SaveYAMLConfig(path, settings)
}

// SaveYAMLConfig writes settings to configPath through a temporary file in
// the same directory so readers never see a partial file.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(fmt.Errorf("error marshaling settings to YAML: %w", err)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.FileError(fmt.Errorf("error creating config directory: %w", err), dir, 0)
	}

	tmp, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return errors.FileError(fmt.Errorf("error creating temporary file: %w", err), dir, 0)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.FileError(fmt.Errorf("error writing temporary file: %w", err), tmpName, 0)
	}
	if err := tmp.Close(); err != nil {
		return errors.FileError(fmt.Errorf("error closing temporary file: %w", err), tmpName, 0)
	}
	if err := os.Rename(tmpName, configPath); err != nil {
		return errors.FileError(fmt.Errorf("error replacing config file: %w", err), configPath, int64(len(data)))
	}
	return nil
}
