// Package importer provides the import command.
package importer

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/philipwilson/trees/internal/app"
	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/reconcile"
)

// Command creates the import command.
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import JSON, CSV or GPX files into the record store",
		Long: `Import reconciles each file into the store. Every file becomes new records:
identifiers already in the store are remapped, declared groups are created
fresh and invalid records are skipped and reported.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				out := cmd.OutOrStdout()
				var failed int
				for _, path := range args {
					summary, err := c.Reconciler.ImportFile(cmd.Context(), path)
					c.Notifier.ImportFinished(path, summary, err)
					if err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
						continue
					}
					if asJSON {
						enc := json.NewEncoder(out)
						enc.SetIndent("", "  ")
						if err := enc.Encode(summary); err != nil {
							return err
						}
						continue
					}
					printSummary(cmd, path, summary)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d file(s) failed to import", failed, len(args))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print summaries as JSON")
	return cmd
}

func printSummary(cmd *cobra.Command, path string, s *reconcile.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s): %d imported, %d skipped, %d remapped, %d minted\n",
		path, s.Format, s.Imported, s.Skipped, s.Remapped, s.Minted)
	if s.GroupsCreated > 0 || s.PhotosImported > 0 || s.PhotosSkipped > 0 {
		fmt.Fprintf(out, "  groups created %d, photos %d imported, %d skipped\n",
			s.GroupsCreated, s.PhotosImported, s.PhotosSkipped)
	}
	for _, sk := range s.SkippedRecords {
		fmt.Fprintf(out, "  skipped #%d %s: %s\n", sk.Index, sk.OriginalID, sk.Reason)
	}
}
