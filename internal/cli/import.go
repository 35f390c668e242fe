package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/services/tracker"
	"tciasync-desktop/internal/session"

	"github.com/spf13/cobra"
)

func newImportCmd(g *globals) *cobra.Command {
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "import CART.csv",
		Short: "Submit an NBIA cart for import",
		Long: `Submit an NBIA spreadsheet cart to the TCIA plugin.

With --watch the job is refreshed until the server reports it finished, and
the series found in the archive are counted per patient.`,
		Example: `  tciactl import ~/Downloads/manifest.csv --watch --interval 10s`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := g.connect(true)
			if err != nil {
				return err
			}
			defer cleanup()

			jobID, err := s.Importer.ImportSpreadsheet(cmd.Context(), args[0])
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s\n", jobID)

			if !watch {
				return nil
			}
			return watchJob(cmd.Context(), s, interval, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Refresh the job until it finishes")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Delay between refreshes with --watch")

	return cmd
}

// watchJob refreshes the tracked job until Orthanc reports a final state
func watchJob(ctx context.Context, s *session.Session, interval time.Duration, out io.Writer) error {
	for {
		status, err := s.Tracker.Refresh(ctx)
		if err != nil {
			return userError(err)
		}
		printProgress(out, status)

		switch {
		case status.State == tracker.StateFailed:
			return fmt.Errorf("job %s failed: %s", status.JobID, failureReason(status))
		case status.ServerState == models.JobStateSuccess:
			printSummary(out, status)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func failureReason(status tracker.Status) string {
	if status.ErrorDescription != "" {
		return status.ErrorDescription
	}
	if status.LastError != "" {
		return status.LastError
	}
	return status.ServerState
}

func printProgress(out io.Writer, status tracker.Status) {
	fmt.Fprintf(out, "%s %d%%  %d/%d series in the archive\n",
		status.ServerState, status.Progress, status.CompletedSeries, status.SeriesCount)
}

func printSummary(out io.Writer, status tracker.Status) {
	fmt.Fprintf(out, "Job %s (%s): %s\n", status.JobID, status.Kind, status.State)
	for _, p := range status.Patients {
		line := fmt.Sprintf("  %s / %s: %d/%d series, %d instances, %d bytes",
			p.Collection, p.PatientID, p.CompletedSeries, len(p.SeriesInstanceUIDs), p.InstancesCount, p.Size)
		if p.Error != "" {
			line += " (" + p.Error + ")"
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "Total: %d/%d series, %d instances, %d bytes\n",
		status.CompletedSeries, status.SeriesCount, status.InstancesCount, status.Size)
}
