package cli

import (
	"fmt"

	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/services/tracker"

	"github.com/spf13/cobra"
)

func newStatusCmd(g *globals) *cobra.Command {
	var kind string
	var format string

	cmd := &cobra.Command{
		Use:     "status JOB_ID",
		Short:   "Reconcile an import job against the archive",
		Example: `  tciactl status 4f6b7c1e-0d5a-4c3e-9b1f-2a9e6c3d8e10 --format csv > report.csv`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := g.connect(false)
			if err != nil {
				return err
			}
			defer cleanup()

			s.Tracker.Track(args[0], kind)
			status, err := s.Tracker.Refresh(cmd.Context())
			if err != nil && status.JobID == "" {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			if format == "text" {
				printSummary(out, status)
				return userError(err)
			}

			report, renderErr := tracker.RenderReport(status, format)
			if renderErr != nil {
				return renderErr
			}
			fmt.Fprint(out, report)
			if format == "json" {
				fmt.Fprintln(out)
			}
			return userError(err)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", models.ImportTypeSpreadsheet, "Import type of the job")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json, csv or yaml")

	return cmd
}
