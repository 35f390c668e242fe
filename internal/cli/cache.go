package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newClearCacheCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Empty the TCIA cache of the Orthanc plugin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := g.connect(false)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := s.Orthanc.ClearCache(cmd.Context()); err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "TCIA cache cleared")
			return nil
		},
	}
}

func newHistoryCmd(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the recorded import jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := g.connect(true)
			if err != nil {
				return err
			}
			defer cleanup()

			jobs, err := s.Tracker.History(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tKIND\tSTATUS\tSERVER\tSERIES\tSUBMITTED")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					job.ID, job.Kind, job.Status, job.ServerState,
					job.CompletedSeries, job.SeriesCount, job.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of jobs to list")

	return cmd
}
