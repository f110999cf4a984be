// Package capture provides the capture-device commands: sending a newly
// captured record and running the delivery loop.
package capture

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/philipwilson/trees/internal/app"
	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/transfer"
)

const probeInterval = 15 * time.Second

// Command creates the capture command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture-device operations",
	}
	cmd.AddCommand(sendCommand(settings), runCommand(settings))
	return cmd
}

func sendCommand(settings *conf.Settings) *cobra.Command {
	var (
		rec       transfer.TransferRecord
		altitude  float64
		variety   string
		rootstock string
		wait      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a captured record to the companion, queueing it when unreachable",
		Example: `  treetrack capture send --lat 51.4816 --lon -0.1910 --accuracy 4 \
    --species Apple --variety "Cox's Orange Pippin" --note "north fence"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := datastore.ValidatePosition(rec.Latitude, rec.Longitude, rec.HorizontalAccuracy); err != nil {
				return err
			}
			if cmd.Flags().Changed("altitude") {
				rec.Altitude = &altitude
			}
			if variety != "" {
				rec.Variety = &variety
			}
			if rootstock != "" {
				rec.Rootstock = &rootstock
			}
			rec.CreatedAt = time.Now().UTC()

			return app.WithCapture(settings, func(c *app.Capture) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), wait)
				defer cancel()
				// A transport that cannot connect leaves the monitor
				// unreachable and Send queues the record.
				if err := c.Connect(ctx, probeInterval); err != nil {
					c.Log.Warn("transport not connected, record will be queued", logger.Error(err))
				}
				waitReachable(ctx, c.Monitor)

				result := c.Sender.Send(cmd.Context(), rec)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s via %s\n", result.RecordID, result.Status, c.Transport.Name())
				if result.Cause != nil {
					fmt.Fprintf(out, "  reason: %v\n", result.Cause)
				}
				if result.PersistErr != nil {
					return result.PersistErr
				}
				fmt.Fprintf(out, "  pending: %d\n", c.Queue.Len())
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.Float64Var(&rec.Latitude, "lat", 0, "Latitude in degrees")
	f.Float64Var(&rec.Longitude, "lon", 0, "Longitude in degrees")
	f.Float64Var(&rec.HorizontalAccuracy, "accuracy", 0, "Horizontal accuracy in meters")
	f.Float64Var(&altitude, "altitude", 0, "Altitude in meters")
	f.StringVar(&rec.Species, "species", "", "Species label")
	f.StringVar(&variety, "variety", "", "Variety label")
	f.StringVar(&rootstock, "rootstock", "", "Rootstock label")
	f.StringVar(&rec.Note, "note", "", "Note text")
	f.DurationVar(&wait, "wait", 5*time.Second, "How long to wait for the companion before queueing")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")

	return cmd
}

func runCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Deliver queued records whenever the companion is reachable",
		Long: `Run keeps the transport connected and retries the pending queue when the
companion becomes reachable, on every retry interval, and until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return app.WithCapture(settings, func(c *app.Capture) error {
				if err := c.Connect(ctx, probeInterval); err != nil {
					return err
				}
				if err := c.Sender.Start(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "delivering via %s, %d pending\n", c.Transport.Name(), c.Queue.Len())
				<-ctx.Done()
				return nil
			})
		},
	}
}

// waitReachable blocks until mon reports reachable or ctx ends.
func waitReachable(ctx context.Context, mon *transfer.Monitor) {
	if mon.Reachable() {
		return
	}
	ready := make(chan struct{}, 1)
	unsubscribe := mon.Subscribe(func(reachable bool) {
		if reachable {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()
	if mon.Reachable() {
		return
	}
	select {
	case <-ready:
	case <-ctx.Done():
	}
}
