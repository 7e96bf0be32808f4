// Package recordings implements the recordings command.
package recordings

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShoYamanishi/vurecorder/internal/catalog"
	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/diskmanager"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
)

const timeLayout = "2006-01-02 15:04:05"

// Command creates the recordings command and its list and prune children.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List and prune recordings",
	}
	cmd.AddCommand(listCommand(ctx), pruneCommand(ctx))
	return cmd
}

func listCommand(ctx *conf.Context) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings, newest first",
		Long:  "List recordings from the catalog when it is enabled, otherwise from the recording directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := ctx.Settings
			if s.Catalog.Enabled {
				return listCatalog(cmd, &s.Catalog, limit)
			}
			return listDirectory(cmd, &s.Recording, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of recordings to show (0 for all)")
	return cmd
}

func listCatalog(cmd *cobra.Command, s *conf.CatalogSettings, limit int) error {
	c, err := catalog.Open(s)
	if err != nil {
		return err
	}
	defer c.Close()

	recs, err := c.List(cmd.Context(), limit, 0)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSECONDS\tPEAK DBFS\tCLIPPED\tPATH")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%d\t%s\n",
			r.StartedAt.Local().Format(timeLayout), r.Seconds, r.PeakDBFS, r.ClippedBuffers, r.Path)
	}
	return w.Flush()
}

func listDirectory(cmd *cobra.Command, s *conf.RecordingSettings, limit int) error {
	files, err := diskmanager.ListRecordings(s.Path, s.BaseName)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODIFIED\tSIZE\tPATH")
	for i := len(files) - 1; i >= 0; i-- {
		if limit > 0 && len(files)-1-i >= limit {
			break
		}
		f := files[i]
		fmt.Fprintf(w, "%s\t%d\t%s\n", f.ModTime.Local().Format(timeLayout), f.Size, f.Path)
	}
	return w.Flush()
}

func pruneCommand(ctx *conf.Context) *cobra.Command {
	var maxAge time.Duration
	var maxUsage float64
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy now",
		Long:  "Delete old recordings according to recording.retention. Flags override the configured limits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := ctx.Settings
			r := s.Recording.Retention
			policy := diskmanager.Policy{MaxAge: r.MaxAge, MaxUsagePercent: r.MaxUsage, MinKeep: r.MinKeep, MaxDeletions: r.MaxDeletions}
			if cmd.Flags().Changed("max-age") {
				policy.MaxAge = maxAge
			}
			if cmd.Flags().Changed("max-usage") {
				policy.MaxUsagePercent = maxUsage
			}
			if !policy.Enabled() {
				return errors.ValidationError("no retention limit configured; set recording.retention or pass --max-age / --max-usage")
			}
			return prune(cmd, s, policy)
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Delete recordings older than this")
	cmd.Flags().Float64Var(&maxUsage, "max-usage", 0, "Delete oldest recordings while disk usage is above this percentage")
	return cmd
}

func prune(cmd *cobra.Command, s *conf.Settings, policy diskmanager.Policy) error {
	var opts []diskmanager.Option
	if s.Catalog.Enabled {
		c, err := catalog.Open(&s.Catalog)
		if err != nil {
			return err
		}
		defer c.Close()
		opts = append(opts, diskmanager.WithDeleteHook(func(path string) {
			_, _ = c.DeleteByPath(context.Background(), path)
		}))
	}

	res, err := diskmanager.NewCleaner(policy, opts...).Run(cmd.Context(), s.Recording.Path, s.Recording.BaseName)
	for _, p := range res.Deleted {
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", p)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d recordings deleted, %d bytes freed\n", len(res.Deleted), res.FreedBytes)
	return nil
}
