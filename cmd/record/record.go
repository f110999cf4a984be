// Package record provides commands to inspect and edit stored records.
package record

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/philipwilson/trees/internal/app"
	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/export"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/photostore"
)

// Command creates the record command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect and edit records",
	}
	cmd.AddCommand(
		listCommand(settings),
		showCommand(settings),
		noteCommand(settings),
		deleteCommand(settings),
	)
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var (
		species   string
		group     string
		ungrouped bool
		since     string
		until     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := datastore.RecordFilter{Species: species, Ungrouped: ungrouped, Limit: limit}
			if group != "" {
				filter.GroupID = &group
			}
			now := time.Now()
			var err error
			if since != "" {
				if filter.Since, err = export.ParseTime(since, now); err != nil {
					return err
				}
			}
			if until != "" {
				if filter.Until, err = export.ParseTime(until, now); err != nil {
					return err
				}
			}

			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				records, err := c.Store.ListRecords(cmd.Context(), filter)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tLAT\tLON\tSPECIES\tVARIETY")
				for i := range records {
					r := &records[i]
					fmt.Fprintf(tw, "%s\t%s\t%.6f\t%.6f\t%s\t%s\n", r.ID,
						r.CreatedAt.Local().Format(time.DateTime), r.Latitude, r.Longitude,
						r.Species, deref(r.Variety))
				}
				return tw.Flush()
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&species, "species", "", "Only records of this species")
	f.StringVar(&group, "group", "", "Only records in this group")
	f.BoolVar(&ungrouped, "ungrouped", false, "Only records without a group")
	f.StringVar(&since, "since", "", "Only records created at or after this time")
	f.StringVar(&until, "until", "", "Only records created before this time")
	f.IntVar(&limit, "limit", 0, "Maximum number of records")
	cmd.MarkFlagsMutuallyExclusive("group", "ungrouped")
	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a record with its notes and photos as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				rec, err := c.Store.GetRecord(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			})
		},
	}
}

func noteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "note ID TEXT",
		Short: "Add a dated note to a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				_, err := c.Store.AddNote(cmd.Context(), args[0], args[1])
				return err
			})
		},
	}
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete records and their photos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				keys, err := c.Store.DeleteRecords(cmd.Context(), args)
				if err != nil {
					return err
				}
				if err := photostore.DeleteAll(cmd.Context(), c.Photos, keys); err != nil {
					c.Log.Warn("failed to remove photo blobs",
						logger.Int("count", len(keys)),
						logger.Error(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d photo(s)\n", len(keys))
				return nil
			})
		},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
