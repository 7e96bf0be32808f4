// Package record implements the record command.
package record

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShoYamanishi/vurecorder/internal/conf"
)

// Command creates the record command, which captures audio into a WAV file
// until interrupted or until --duration has passed.
func Command(ctx *conf.Context) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record audio to a WAV file",
		Long:  "Capture audio from the configured device into a new WAV file. Stop with Ctrl-C or --duration.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := run(cmd.Context(), ctx.Settings, duration)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 records until interrupted)")
	if err := setupFlags(cmd, ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

// setupFlags configures flags specific to the record command.
func setupFlags(cmd *cobra.Command, ctx *conf.Context) error {
	flags := cmd.Flags()
	flags.String("source", "", "Capture device ID or name substring (\"sysdefault\" for the default)")
	flags.Int("samplerate", 0, "Sample rate in Hz")
	flags.Int("channels", 0, "Number of channels, 1 or 2")
	flags.StringP("output", "o", "", "Directory for recordings")
	flags.String("basename", "", "File name prefix for recordings")
	flags.Bool("telemetry", false, "Serve status and Prometheus metrics over HTTP")
	flags.String("listen", "", "Listen address of the telemetry endpoint")
	flags.Int("min-free-mb", 0, "Refuse to record with less free space than this (MiB)")
	flags.Bool("catalog", false, "Index finished recordings in the catalog database")
	flags.Bool("mqtt", false, "Publish session and level events over MQTT")
	flags.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	flags.Bool("notify", false, "Send push notifications to the configured service URLs")

	bindings := map[string]string{
		"source":      "audio.source",
		"samplerate":  "audio.samplerate",
		"channels":    "audio.channels",
		"output":      "recording.path",
		"basename":    "recording.basename",
		"telemetry":   "telemetry.enabled",
		"listen":      "telemetry.listen",
		"min-free-mb": "recording.minfreemb",
		"catalog":     "catalog.enabled",
		"mqtt":        "mqtt.enabled",
		"mqtt-broker": "mqtt.broker",
		"notify":      "notify.enabled",
	}
	for name, key := range bindings {
		if err := ctx.BindFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}
