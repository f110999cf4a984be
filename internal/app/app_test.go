package app

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipwilson/trees/internal/api"
	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/transfer"
)

const probeEvery = time.Hour

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings, err := conf.DefaultSettings()
	require.NoError(t, err)

	dir := t.TempDir()
	settings.Logging.Console.Enabled = false
	settings.Logging.FileOutput.Enabled = false
	settings.Store.SQLite.Path = filepath.Join(dir, "trees.db")
	settings.Photos.Driver = "memory"
	settings.Transfer.QueuePath = filepath.Join(dir, "pending.json")
	settings.WebServer.Enabled = false
	return settings
}

func TestWithCompanionPersistsRecords(t *testing.T) {
	settings := testSettings(t)
	ctx := context.Background()

	err := WithCompanion(ctx, settings, func(c *Companion) error {
		assert.NotNil(t, c.Reconciler)
		assert.Positive(t, c.Catalog.Len())
		return c.Store.CreateRecord(ctx, &datastore.Record{
			ID:        "b0e5f6a1-0000-4000-8000-000000000001",
			Latitude:  51.5,
			Longitude: -0.12,
			Species:   "Apple",
		})
	})
	require.NoError(t, err)

	err = WithCompanion(ctx, settings, func(c *Companion) error {
		rec, err := c.Store.GetRecord(ctx, "b0e5f6a1-0000-4000-8000-000000000001")
		require.NoError(t, err)
		assert.Equal(t, "Apple", rec.Species)
		return nil
	})
	require.NoError(t, err)
}

func TestOpenCaptureRejectsUnknownTransport(t *testing.T) {
	settings := testSettings(t)
	settings.Transfer.Transport = "carrier-pigeon"

	base, err := NewBase(settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })

	_, err = OpenCapture(base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestOpenCaptureHTTPRequiresURL(t *testing.T) {
	settings := testSettings(t)
	settings.Transfer.Transport = TransportHTTP
	settings.Companion.URL = ""

	base, err := NewBase(settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })

	_, err = OpenCapture(base)
	require.Error(t, err)
}

func TestCaptureDeliversToCompanion(t *testing.T) {
	ctx := context.Background()
	companionSettings := testSettings(t)

	base, err := NewBase(companionSettings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	companion, err := OpenCompanion(ctx, base)
	require.NoError(t, err)
	t.Cleanup(func() { _ = companion.Close() })

	server, err := api.New(companionSettings,
		api.WithDataStore(companion.Store),
		api.WithPhotoStore(companion.Photos),
		api.WithReconciler(companion.Reconciler))
	require.NoError(t, err)
	ts := httptest.NewServer(server.Echo())
	t.Cleanup(ts.Close)

	captureSettings := testSettings(t)
	captureSettings.Transfer.Transport = TransportHTTP
	captureSettings.Companion.URL = ts.URL

	var delivered string
	err = WithCapture(captureSettings, func(c *Capture) error {
		require.NoError(t, c.Connect(ctx, probeEvery))
		assert.True(t, c.Monitor.Reachable())
		assert.Equal(t, "http", c.Transport.Name())

		result := c.Sender.Send(ctx, transfer.TransferRecord{
			Latitude:  51.4816,
			Longitude: -0.191,
			Species:   "Pear",
			CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, result.Cause)
		assert.Equal(t, transfer.StatusDelivered, result.Status)
		assert.Zero(t, c.Queue.Len())
		delivered = result.RecordID
		return nil
	})
	require.NoError(t, err)

	rec, err := companion.Store.GetRecord(ctx, delivered)
	require.NoError(t, err)
	assert.Equal(t, "Pear", rec.Species)
}

func TestCaptureQueuesWhenCompanionDown(t *testing.T) {
	ctx := context.Background()
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	settings := testSettings(t)
	settings.Transfer.Transport = TransportHTTP
	settings.Companion.URL = url

	err := WithCapture(settings, func(c *Capture) error {
		require.NoError(t, c.Connect(ctx, probeEvery))
		assert.False(t, c.Monitor.Reachable())

		result := c.Sender.Send(ctx, transfer.TransferRecord{Latitude: 1, Longitude: 2, CreatedAt: time.Now().UTC()})
		assert.Equal(t, transfer.StatusQueued, result.Status)
		assert.Equal(t, 1, c.Queue.Len())
		return nil
	})
	require.NoError(t, err)

	// the queue survives a restart
	err = WithCapture(settings, func(c *Capture) error {
		assert.Equal(t, 1, c.Queue.Len())
		return nil
	})
	require.NoError(t, err)
}

func TestOpenCaptureDefaultsToHTTP(t *testing.T) {
	settings := testSettings(t)
	settings.Transfer.Transport = ""

	err := WithCapture(settings, func(c *Capture) error {
		assert.Equal(t, TransportHTTP, c.Transport.Name())
		return nil
	})
	require.NoError(t, err)
}

func TestCaptureQueuesWhenBrokerDown(t *testing.T) {
	settings := testSettings(t)
	settings.Transfer.Transport = TransportMQTT
	settings.MQTT.Broker = "tcp://127.0.0.1:1"
	settings.MQTT.Timeout = 5 * time.Second

	err := WithCapture(settings, func(c *Capture) error {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		require.NoError(t, c.Connect(ctx, probeEvery))
		assert.False(t, c.Monitor.Reachable())

		result := c.Sender.Send(context.Background(), transfer.TransferRecord{Latitude: 45, Longitude: -122, CreatedAt: time.Now().UTC()})
		assert.Equal(t, transfer.StatusQueued, result.Status)
		assert.Equal(t, 1, c.Queue.Len())
		return nil
	})
	require.NoError(t, err)

	err = WithCapture(settings, func(c *Capture) error {
		assert.Equal(t, 1, c.Queue.Len())
		return nil
	})
	require.NoError(t, err)
}
