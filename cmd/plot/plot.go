// Package plot implements the plot command.
package plot

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/waveform"
)

// Command creates the plot command for drawing a WAV file as text.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plot [input.wav]",
		Short: "Plot the waveform of a WAV file",
		Long:  "Plot the waveform of a 16-bit PCM WAV file as text, one column per slice of samples.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := ctx.Settings.Plot
			p, err := waveform.ComputePeakAndPlots(args[0], settings.Width, settings.Height)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d samples, peak %d\n", args[0], p.Length, p.Peak)
			return p.WriteText(out)
		},
	}

	if err := setupFlags(cmd, ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

// setupFlags configures flags specific to the plot command.
func setupFlags(cmd *cobra.Command, ctx *conf.Context) error {
	cmd.Flags().IntP("width", "W", 0, "Plot width in columns")
	cmd.Flags().IntP("height", "H", 0, "Plot height in rows")

	if err := ctx.BindFlag("plot.width", cmd.Flags().Lookup("width")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := ctx.BindFlag("plot.height", cmd.Flags().Lookup("height")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
