// Package serve provides the companion server command.
package serve

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/philipwilson/trees/internal/app"
	"github.com/philipwilson/trees/internal/conf"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the companion: HTTP API, transfer receiver and import inbox",
		Long: `Serve runs the companion role until interrupted. It accepts transfers from
the capture device over HTTP and MQTT, serves the record API and imports
files dropped into the inbox directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.WithCompanion(ctx, settings, func(c *app.Companion) error {
				return app.Serve(ctx, c)
			})
		},
	}

	cmd.Flags().String("listen", "", "Listen address of the HTTP API (host:port)")
	_ = viper.BindPFlag("webserver.listen", cmd.Flags().Lookup("listen"))

	return cmd
}
