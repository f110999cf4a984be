// Package queue provides commands to inspect and drain the pending
// transfer queue on the capture device.
package queue

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/philipwilson/trees/internal/app"
	"github.com/philipwilson/trees/internal/conf"
)

// Command creates the queue command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the pending transfer queue",
	}
	cmd.AddCommand(listCommand(settings), retryCommand(settings), clearCommand(settings))
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued records, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCapture(settings, func(c *app.Capture) error {
				pending := c.Queue.Snapshot()
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCAPTURED\tLAT\tLON\tSPECIES")
				for _, r := range pending {
					fmt.Fprintf(tw, "%s\t%s\t%.6f\t%.6f\t%s\n",
						r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Latitude, r.Longitude, r.Species)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d pending\n", len(pending), c.Queue.Capacity())
				return nil
			})
		},
	}
}

func retryCommand(settings *conf.Settings) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-attempt delivery of every queued record once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCapture(settings, func(c *app.Capture) error {
				connectCtx, cancel := context.WithTimeout(cmd.Context(), wait)
				defer cancel()
				if err := c.Connect(connectCtx, wait); err != nil {
					return err
				}
				for !c.Monitor.Reachable() && connectCtx.Err() == nil {
					time.Sleep(100 * time.Millisecond)
				}

				result := c.Sender.RetryPending(cmd.Context())
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "attempted %d, delivered %d, remaining %d\n",
					result.Attempted, result.Delivered, result.Remaining)
				for _, err := range result.Errors {
					fmt.Fprintf(out, "  %v\n", err)
				}
				if !c.Monitor.Reachable() {
					fmt.Fprintln(out, "companion unreachable")
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "How long to wait for the companion")
	return cmd
}

func clearCommand(settings *conf.Settings) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithCapture(settings, func(c *app.Capture) error {
				n := c.Queue.Len()
				if !force && n > 0 {
					return fmt.Errorf("%d undelivered record(s) would be lost, rerun with --force", n)
				}
				if err := c.Queue.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d record(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Discard undelivered records")
	return cmd
}
