package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)

	settings, err := LoadFrom(writeConfig(t, "main:\n  name: orchard\n"))
	require.NoError(t, err)

	assert.Equal(t, "orchard", settings.Main.Name)
	assert.Equal(t, RoleCompanion, settings.Main.Role)
	assert.Equal(t, "sqlite", settings.Store.Type)
	assert.Equal(t, DefaultQueueCapacity, settings.Transfer.Capacity)
	assert.Equal(t, time.Minute, settings.Transfer.RetryInterval)
	assert.Equal(t, DefaultPhotoConcurrency, settings.Import.PhotoConcurrency)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
	assert.Same(t, settings, GetSettings())
}

func TestLoadOverridesFromFile(t *testing.T) {
	resetViper(t)

	path := writeConfig(t, `
main:
  role: capture
transfer:
  transport: mqtt
  capacity: 25
  retryinterval: 30s
mqtt:
  broker: tcp://broker.local:1883
logging:
  default_level: debug
  module_levels:
    transfer: trace
`)
	settings, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, RoleCapture, settings.Main.Role)
	assert.Equal(t, "mqtt", settings.Transfer.Transport)
	assert.Equal(t, 25, settings.Transfer.Capacity)
	assert.Equal(t, 30*time.Second, settings.Transfer.RetryInterval)
	assert.Equal(t, "debug", settings.Logging.DefaultLevel)
	assert.Equal(t, "trace", settings.Logging.ModuleLevels["transfer"])
}

func TestEnvironmentOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("TREETRACK_SQLITE_PATH", "/data/trees.db")
	t.Setenv("TREETRACK_QUEUE_CAPACITY", "7")

	settings, err := LoadFrom(writeConfig(t, "debug: false\n"))
	require.NoError(t, err)

	assert.Equal(t, "/data/trees.db", settings.Store.SQLite.Path)
	assert.Equal(t, 7, settings.Transfer.Capacity)
}

func TestInvalidEnvironmentValue(t *testing.T) {
	resetViper(t)
	t.Setenv("TREETRACK_ROLE", "tablet")

	_, err := LoadFrom(writeConfig(t, "debug: false\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TREETRACK_ROLE")
}

func TestMissingExplicitConfigFile(t *testing.T) {
	resetViper(t)

	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateSettings(t *testing.T) {
	base := func(t *testing.T) *Settings {
		t.Helper()
		s, err := DefaultSettings()
		require.NoError(t, err)
		return s
	}

	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, ValidateSettings(base(t)))
	})

	t.Run("unknown store type", func(t *testing.T) {
		s := base(t)
		s.Store.Type = "postgres"
		err := ValidateSettings(s)
		var ve ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Len(t, ve.Errors, 1)
	})

	t.Run("capture role needs companion url", func(t *testing.T) {
		s := base(t)
		s.Main.Role = RoleCapture
		s.Companion.URL = "not a url"
		require.Error(t, ValidateSettings(s))
	})

	t.Run("mqtt transport needs acknowledged qos", func(t *testing.T) {
		s := base(t)
		s.Main.Role = RoleCapture
		s.Transfer.Transport = "mqtt"
		s.MQTT.Broker = "tcp://broker.example.org:1883"
		s.MQTT.QoS = 0
		require.Error(t, ValidateSettings(s))
		s.MQTT.QoS = 1
		require.NoError(t, ValidateSettings(s))
	})

	t.Run("s3 needs bucket", func(t *testing.T) {
		s := base(t)
		s.Photos.Driver = "s3"
		require.Error(t, ValidateSettings(s))
	})

	t.Run("sftp needs credentials", func(t *testing.T) {
		s := base(t)
		s.Publish.SFTP.Enabled = true
		s.Publish.SFTP.Host = "files.example.org"
		s.Publish.SFTP.Username = "orchard"
		require.Error(t, ValidateSettings(s))
		s.Publish.SFTP.KeyFile = "/home/orchard/.ssh/id_ed25519"
		require.NoError(t, ValidateSettings(s))
	})
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	resetViper(t)

	settings, err := DefaultSettings()
	require.NoError(t, err)
	settings.Main.Name = "north-block"
	settings.Transfer.Capacity = 42

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveYAMLConfig(path, settings))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "north-block", loaded.Main.Name)
	assert.Equal(t, 42, loaded.Transfer.Capacity)
	assert.Equal(t, settings.Transfer.RetryInterval, loaded.Transfer.RetryInterval)
}
