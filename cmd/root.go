// Package cmd builds the vurecorder command line.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShoYamanishi/vurecorder/cmd/config"
	"github.com/ShoYamanishi/vurecorder/cmd/devices"
	"github.com/ShoYamanishi/vurecorder/cmd/plot"
	"github.com/ShoYamanishi/vurecorder/cmd/record"
	"github.com/ShoYamanishi/vurecorder/cmd/recordings"
	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/telemetry"
)

const sentryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(ctx *conf.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vurecorder",
		Short:         "Audio recorder with level metering",
		Version:       ctx.Build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}

	configCmd := config.Command(ctx)
	subcommands := []*cobra.Command{
		record.Command(ctx),
		plot.Command(ctx),
		recordings.Command(ctx),
		devices.Command(ctx),
		configCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Writing a default config must work even when the current one is broken.
		if cmd.Parent() == configCmd || cmd == configCmd {
			return nil
		}
		return initialize(ctx)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		telemetry.Close(sentryFlushTimeout)
		_ = logger.Global().Flush()
	}

	return rootCmd
}

// initialize loads the settings and sets up logging and error telemetry
// before any subcommand runs.
func initialize(ctx *conf.Context) error {
	if err := ctx.LoadSettings(); err != nil {
		return err
	}

	cl, err := logger.NewCentralLogger(&ctx.Settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger.SetGlobal(cl)

	log := logger.Global().Module("main")
	if file := conf.UsedConfigFile(ctx.Viper); file != "" {
		log.Info("loaded config", logger.String("file", file))
	} else {
		log.Debug("no config file found, using defaults")
	}

	return telemetry.InitSentry(&ctx.Settings.Sentry, ctx.Build.GetVersion())
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *conf.Context) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config file (default: search ./config.yaml, ~/.config/vurecorder, /etc/vurecorder)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("log-level", "", "Console log level: trace, debug, info, warn, error")

	if err := ctx.BindFlag("debug", flags.Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := ctx.BindFlag("logging.console.level", flags.Lookup("log-level")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
