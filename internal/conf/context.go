package conf

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ShoYamanishi/vurecorder/internal/buildinfo"
)

// Context is shared by the CLI commands. Flags are bound to Viper when the
// commands are built; Settings is filled by LoadSettings once they are parsed.
type Context struct {
	Viper      *viper.Viper
	ConfigFile string
	Settings   *Settings
	Build      *buildinfo.Context
}

// NewContext returns a Context with a fresh Viper instance.
func NewContext(build *buildinfo.Context) *Context {
	return &Context{Viper: NewViper(), Build: build}
}

// LoadSettings reads ConfigFile (or the search paths) with flag overrides
// applied and stores the result in Settings.
func (c *Context) LoadSettings() error {
	settings, err := Load(c.Viper, c.ConfigFile)
	if err != nil {
		return err
	}
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	c.Settings = settings
	return nil
}

// BindFlag binds a command flag to a settings key so the flag overrides the
// file and environment when set.
func (c *Context) BindFlag(key string, flag *pflag.Flag) error {
	return c.Viper.BindPFlag(key, flag)
}
