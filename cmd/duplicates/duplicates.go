// Package duplicates provides commands to list and resolve duplicate
// records.
package duplicates

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/philipwilson/trees/internal/app"
	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/duplicates"
)

// Command creates the duplicates command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Find and resolve records at the same place with the same species",
	}
	cmd.AddCommand(listCommand(settings), resolveCommand(settings))
	return cmd
}

func resolver(c *app.Companion) *duplicates.Resolver {
	return duplicates.NewResolver(c.Store, c.Photos, c.Logger.Module("main"),
		duplicates.WithCanonicalizer(c.Catalog))
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List duplicate sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				sets, err := resolver(c).Sets(cmd.Context(), datastore.RecordFilter{})
				if err != nil {
					return err
				}
				printSets(cmd.OutOrStdout(), sets)
				return nil
			})
		},
	}
}

func printSets(w io.Writer, sets []duplicates.Set) {
	if len(sets) == 0 {
		fmt.Fprintln(w, "no duplicates")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, set := range sets {
		fmt.Fprintf(tw, "set %d\t%.4f, %.4f\t%s\n", i+1, set.Key.Lat, set.Key.Lon, set.Key.Species)
		for _, m := range set.Members {
			fmt.Fprintf(tw, "  %s\t%s\tnotes %d\tphotos %d\n",
				m.ID, m.CreatedAt.Local().Format(time.DateTime), len(m.Notes), len(m.Photos))
		}
	}
	_ = tw.Flush()
}

func resolveCommand(settings *conf.Settings) *cobra.Command {
	var (
		strategy string
		ids      []string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Delete selected duplicates",
		Long: `Resolve deletes either the records named with --id or, with --strategy,
every member of each set except the oldest (keep-oldest) or the newest
(keep-newest). Records are never merged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				r := resolver(c)

				var sel *duplicates.Selection
				switch {
				case len(ids) > 0:
					sel = duplicates.NewSelection(ids...)
				case strategy != "":
					sets, err := r.Sets(cmd.Context(), datastore.RecordFilter{})
					if err != nil {
						return err
					}
					var ok bool
					if sel, ok = duplicates.SelectByStrategy(sets, strategy); !ok {
						return fmt.Errorf("unknown strategy %q (use %s or %s)",
							strategy, duplicates.StrategyKeepOldest, duplicates.StrategyKeepNewest)
					}
				default:
					return fmt.Errorf("either --id or --strategy is required")
				}

				out := cmd.OutOrStdout()
				if dryRun {
					fmt.Fprintf(out, "would delete %d record(s): %s\n", sel.Len(), strings.Join(sel.IDs(), ", "))
					return nil
				}
				result, err := r.Commit(cmd.Context(), sel)
				if result != nil {
					fmt.Fprintf(out, "deleted %d record(s), %d photo(s)\n", result.Deleted, result.BlobsDeleted)
					if len(result.Missing) > 0 {
						fmt.Fprintf(out, "not found: %s\n", strings.Join(result.Missing, ", "))
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "keep-oldest or keep-newest")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Record id to delete (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be deleted")
	return cmd
}
