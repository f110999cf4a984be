// Package app assembles the long-lived components both device roles share:
// logging, metrics, the record store, the photo store and the reconciler on
// the companion side, and the pending queue with its sender on the capture
// side.
package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/philipwilson/trees/internal/buildinfo"
	"github.com/philipwilson/trees/internal/catalog"
	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/notify"
	"github.com/philipwilson/trees/internal/observability"
	"github.com/philipwilson/trees/internal/observability/metrics"
	"github.com/philipwilson/trees/internal/photostore"
	"github.com/philipwilson/trees/internal/reconcile"
	"github.com/philipwilson/trees/internal/transfer"
)

// Transport names accepted in transfer.transport.
const (
	TransportMQTT = "mqtt"
	TransportHTTP = "http"
)

// Base holds what every command needs: settings, logging, metrics,
// telemetry and notifications.
type Base struct {
	Settings *conf.Settings
	Logger   *logger.CentralLogger
	Log      logger.Logger
	Metrics  *observability.Metrics
	Notifier *notify.Notifier
}

// NewBase sets up logging, metrics, Sentry and the notifier from settings.
func NewBase(settings *conf.Settings) (*Base, error) {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, err
	}
	log := central.Module("main")

	m, err := observability.NewMetrics()
	if err != nil {
		_ = central.Close()
		return nil, err
	}

	if settings.Telemetry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.DSN, buildinfo.Get().Release()); err != nil {
			log.Warn("error reporting disabled", logger.Error(err))
		}
	}

	notifier, err := notify.New(&settings.Notify, central.Module("main"))
	if err != nil {
		// notifications are optional; a bad URL must not stop the device
		log.Warn("notifications disabled", logger.Error(err))
		notifier = nil
	}

	return &Base{
		Settings: settings,
		Logger:   central,
		Log:      log,
		Metrics:  m,
		Notifier: notifier,
	}, nil
}

// Close flushes notifications, telemetry and log output.
func (b *Base) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Notifier.Close(ctx); err != nil {
		b.Log.Warn("pending notifications dropped", logger.Error(err))
	}
	if b.Settings.Telemetry.Enabled {
		errors.FlushSentry(2 * time.Second)
	}
	return b.Logger.Close()
}

// Companion is the phone side: the record store and everything that
// writes to it.
type Companion struct {
	*Base
	Store      datastore.Interface
	Photos     photostore.Store
	Catalog    *catalog.Catalog
	Reconciler *reconcile.Reconciler
}

// OpenCompanion opens the configured store and photo backend.
func OpenCompanion(ctx context.Context, base *Base) (*Companion, error) {
	settings := base.Settings

	store, err := datastore.New(settings, base.Logger.Module("main"))
	if err != nil {
		return nil, err
	}
	if err := store.Open(); err != nil {
		return nil, err
	}
	if ds, ok := store.(interface {
		SetMetrics(*metrics.DatastoreMetrics)
	}); ok {
		ds.SetMetrics(base.Metrics.Datastore)
	}

	photos, err := photostore.New(ctx, settings, base.Logger.Module("main"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cat, err := catalog.Load(settings.Catalog.Path)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rec := reconcile.NewFromSettings(settings, store, photos, base.Logger.Module("main"),
		reconcile.WithMetrics(base.Metrics.Import))

	base.Log.Debug("companion store opened",
		logger.String("store", settings.Store.Type),
		logger.String("photos", string(photos.Driver())),
		logger.Int("catalog_species", cat.Len()))

	return &Companion{
		Base:       base,
		Store:      store,
		Photos:     photos,
		Catalog:    cat,
		Reconciler: rec,
	}, nil
}

// Close closes the store.
func (c *Companion) Close() error {
	return c.Store.Close()
}

// Capture is the wrist side: the persisted queue, a transport and the
// sender that moves records between them.
type Capture struct {
	*Base
	Queue     *transfer.Queue
	Monitor   *transfer.Monitor
	Sender    *transfer.Sender
	Transport transfer.Transport

	mqtt   *transfer.MQTTTransport
	http   *transfer.HTTPTransport
	cancel context.CancelFunc
}

// OpenCapture loads the pending queue and builds the configured transport.
// Connect starts reachability tracking.
func OpenCapture(base *Base) (*Capture, error) {
	settings := base.Settings
	log := base.Logger.Module("main")

	queue := transfer.NewQueue(settings.Transfer.QueuePath, settings.Transfer.Capacity, log)
	queue.SetMetrics(base.Metrics.Transfer)
	queue.OnDrop(base.Notifier.QueueDropped)
	if err := queue.Load(); err != nil {
		return nil, err
	}

	c := &Capture{Base: base, Queue: queue, Monitor: transfer.NewMonitor(false)}
	switch settings.Transfer.Transport {
	case TransportHTTP, "":
		if settings.Companion.URL == "" {
			return nil, errors.Newf("companion.url is required for the http transport").
				Component("app").
				Category(errors.CategoryConfiguration).
				Build()
		}
		c.http = transfer.NewHTTPTransport(settings.Companion.URL, settings.Companion.Timeout, log)
		c.Transport = c.http
	case TransportMQTT:
		c.mqtt = transfer.NewMQTTTransport(transfer.MQTTConfigFromSettings(settings), c.Monitor, log)
		c.Transport = c.mqtt
	default:
		return nil, errors.Newf("unsupported transport %q", settings.Transfer.Transport).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	opts := []transfer.SenderOption{
		transfer.WithRetryInterval(settings.Transfer.RetryInterval),
		transfer.WithSenderMetrics(base.Metrics.Transfer),
	}
	if settings.Transfer.RetryRate > 0 {
		opts = append(opts, transfer.WithRetryRate(rate.Limit(settings.Transfer.RetryRate), settings.Transfer.RetryBurst))
	}
	if settings.Transfer.SendTimeout > 0 {
		opts = append(opts, transfer.WithSendTimeout(settings.Transfer.SendTimeout))
	}
	c.Sender = transfer.NewSender(queue, c.Transport, c.Monitor, log, opts...)
	return c, nil
}

// Connect starts the transport session and reachability tracking. For MQTT
// the broker connection drives the monitor; for HTTP the companion health
// endpoint is probed every probeInterval.
func (c *Capture) Connect(ctx context.Context, probeInterval time.Duration) error {
	ctx, c.cancel = context.WithCancel(ctx)
	switch {
	case c.mqtt != nil:
		return c.mqtt.Connect(ctx)
	case c.http != nil:
		c.Monitor.Set(c.http.Probe(ctx) == nil)
		go c.http.Watch(ctx, c.Monitor, probeInterval)
	}
	return nil
}

// Close stops the sender and the transport session.
func (c *Capture) Close() {
	c.Sender.Stop()
	if c.cancel != nil {
		c.cancel()
	}
	if c.mqtt != nil {
		c.mqtt.Disconnect()
	}
}

// WithCompanion opens the companion side, runs fn and closes everything
// again. Store errors from fn take precedence over close errors.
func WithCompanion(ctx context.Context, settings *conf.Settings, fn func(*Companion) error) error {
	base, err := NewBase(settings)
	if err != nil {
		return err
	}
	defer func() { _ = base.Close() }()

	c, err := OpenCompanion(ctx, base)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			base.Log.Warn("closing store failed", logger.Error(cerr))
		}
	}()
	return fn(c)
}

// WithCapture opens the capture side, runs fn and closes it again. The
// transport is not connected; fn calls Connect when it needs delivery.
func WithCapture(settings *conf.Settings, fn func(*Capture) error) error {
	base, err := NewBase(settings)
	if err != nil {
		return err
	}
	defer func() { _ = base.Close() }()

	c, err := OpenCapture(base)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
