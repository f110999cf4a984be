// Package group provides commands to manage record groups.
package group

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/philipwilson/trees/internal/app"
	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/datastore"
)

// Command creates the group command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage record groups",
	}
	cmd.AddCommand(
		listCommand(settings),
		createCommand(settings),
		renameCommand(settings),
		deleteCommand(settings),
		assignCommand(settings),
	)
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups with their record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				groups, err := c.Store.ListGroups(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tRECORDS\tCREATED")
				for _, g := range groups {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", g.ID, g.Name, g.RecordCount,
						g.CreatedAt.Local().Format(time.DateOnly))
				}
				return tw.Flush()
			})
		},
	}
}

func createCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				g := &datastore.Group{Name: args[0]}
				if err := c.Store.CreateGroup(cmd.Context(), g); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), g.ID)
				return nil
			})
		},
	}
}

func renameCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				_, err := c.Store.RenameGroup(cmd.Context(), args[0], args[1])
				return err
			})
		},
	}
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a group, leaving its records ungrouped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				return c.Store.DeleteGroup(cmd.Context(), args[0])
			})
		},
	}
}

func assignCommand(settings *conf.Settings) *cobra.Command {
	var ungroup bool

	cmd := &cobra.Command{
		Use:   "assign RECORD_ID [GROUP_ID]",
		Short: "Move a record into a group, or out of any group with --ungroup",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var groupID *string
			switch {
			case ungroup && len(args) == 2:
				return fmt.Errorf("--ungroup takes no GROUP_ID")
			case !ungroup && len(args) == 1:
				return fmt.Errorf("GROUP_ID is required unless --ungroup is set")
			case len(args) == 2:
				groupID = &args[1]
			}
			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				return c.Store.AssignGroup(cmd.Context(), args[0], groupID)
			})
		},
	}
	cmd.Flags().BoolVar(&ungroup, "ungroup", false, "Remove the record from its group")
	return cmd
}
