package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCollectionsCmd(g *globals) *cobra.Command {
	var filter string
	var facets bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "collections",
		Short: "List the TCIA collections",
		Example: `  # Collections whose name starts with LIDC
  tciactl collections --filter 'LIDC*'

  # Wait for modalities and body parts
  tciactl collections --facets`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := g.connect(false)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if err := s.Catalog.Load(ctx); err != nil {
				return userError(err)
			}
			if facets {
				if err := s.Catalog.Wait(ctx); err != nil {
					return err
				}
			}

			collections := s.Catalog.Filter(filter)
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(collections)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			if facets {
				fmt.Fprintln(w, "COLLECTION\tMODALITIES\tBODY PARTS")
				for _, c := range collections {
					fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Modalities, c.BodyParts)
				}
			} else {
				fmt.Fprintln(w, "COLLECTION")
				for _, c := range collections {
					fmt.Fprintln(w, c.Name)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Glob pattern on the collection name (* and ?)")
	cmd.Flags().BoolVar(&facets, "facets", false, "Also resolve modalities and body parts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}
