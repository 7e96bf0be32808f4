// Package devices implements the devices command.
package devices

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ShoYamanishi/vurecorder/internal/capture"
	"github.com/ShoYamanishi/vurecorder/internal/conf"
)

// Command creates the devices command.
func Command(ctx *conf.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Long:  "List the capture devices of the platform audio backend. Use a name or ID with record --source.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := capture.Devices()
			if err != nil {
				return err
			}
			return printDevices(cmd, list, ctx.Settings.Audio.Source)
		},
	}
}

func printDevices(cmd *cobra.Command, list []capture.DeviceInfo, selected string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tID\tDEFAULT")
	for _, d := range list {
		def := ""
		if d.IsDefault {
			def = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.Index, d.Name, d.ID, def)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if selected != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nconfigured source: %q\n", selected)
	}
	return nil
}
