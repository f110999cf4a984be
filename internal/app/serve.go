package app

import (
	"context"

	"github.com/philipwilson/trees/internal/api"
	"github.com/philipwilson/trees/internal/inbox"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/publish"
	"github.com/philipwilson/trees/internal/transfer"
)

// Serve runs the companion until ctx is cancelled: the HTTP API, the MQTT
// transfer receiver and the inbox watcher, each when enabled.
func Serve(ctx context.Context, c *Companion) error {
	settings := c.Settings
	log := c.Log

	publisher, err := publish.NewFromSettings(settings, c.Logger.Module("main"))
	if err != nil {
		return err
	}

	var stops []func()
	defer func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}()

	if settings.WebServer.Enabled {
		server, err := api.New(settings,
			api.WithLogger(c.Logger.Module("main")),
			api.WithDataStore(c.Store),
			api.WithPhotoStore(c.Photos),
			api.WithReconciler(c.Reconciler),
			api.WithCatalog(c.Catalog),
			api.WithPublisher(publisher),
			api.WithMetrics(c.Metrics),
			api.WithLogTail(c.Logger.Tail()),
		)
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}
		stops = append(stops, func() {
			if err := server.Shutdown(); err != nil {
				log.Error("http server shutdown failed", logger.Error(err))
			}
		})
	}

	if settings.MQTT.Enabled {
		receiver := transfer.NewMQTTReceiver(transfer.MQTTConfigFromSettings(settings), c.Reconciler,
			c.Logger.Module("main"), c.Metrics.Transfer)
		if err := receiver.Start(ctx); err != nil {
			// the HTTP endpoint still accepts transfers
			log.Error("mqtt receiver unavailable", logger.Error(err))
		} else {
			stops = append(stops, receiver.Stop)
		}
	}

	if settings.Import.Inbox.Enabled {
		watcher := inbox.New(settings.Import.Inbox.Path, c.Reconciler, c.Logger.Module("main"),
			inbox.WithResultFunc(c.Notifier.ImportFinished))
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		stops = append(stops, func() {
			if err := watcher.Stop(); err != nil {
				log.Warn("inbox watcher stop failed", logger.Error(err))
			}
		})
	}

	log.Info("companion running",
		logger.Bool("http", settings.WebServer.Enabled),
		logger.Bool("mqtt", settings.MQTT.Enabled),
		logger.Bool("inbox", settings.Import.Inbox.Enabled),
		logger.Int("publish_targets", len(publisher.Targets())))

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
