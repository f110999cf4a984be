// Package conf loads treetrack settings from YAML, environment and flags via viper.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/philipwilson/trees/internal/logger"
)

// Device roles
const (
	RoleCompanion = "companion"
	RoleCapture   = "capture"
)

// Settings contains all configuration options for treetrack.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main struct {
		Name string `yaml:"name"` // device name, used as MQTT client id suffix
		Role string `yaml:"role"` // companion or capture
	} `yaml:"main"`

	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Store     StoreSettings        `yaml:"store"`
	Photos    PhotoSettings        `yaml:"photos"`
	Transfer  TransferSettings     `yaml:"transfer"`
	MQTT      MQTTSettings         `yaml:"mqtt"`
	Companion CompanionSettings    `yaml:"companion"`
	Import    ImportSettings       `yaml:"import"`
	WebServer WebServerSettings    `yaml:"webserver"`
	Telemetry TelemetrySettings    `yaml:"telemetry"`
	Publish   PublishSettings      `yaml:"publish"`
	Catalog   CatalogSettings      `yaml:"catalog"`
	Notify    NotifySettings       `yaml:"notify"`
}

// StoreSettings selects and configures the record database.
type StoreSettings struct {
	Type      string         `yaml:"type"` // sqlite or mysql
	SQLite    SQLiteSettings `yaml:"sqlite"`
	MySQL     MySQLSettings  `yaml:"mysql"`
	SlowQuery time.Duration  `yaml:"slowquery"` // queries slower than this are logged at WARN
}

// SQLiteSettings contains settings for the SQLite store.
type SQLiteSettings struct {
	Path string `yaml:"path"`
}

// MySQLSettings contains settings for the MySQL store.
type MySQLSettings struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PhotoSettings selects the photo blob backend.
type PhotoSettings struct {
	Driver string     `yaml:"driver"` // fs, s3 or memory
	Path   string     `yaml:"path"`   // root directory for fs
	S3     S3Settings `yaml:"s3"`
}

// S3Settings configures the S3 photo backend.
type S3Settings struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // custom endpoint for MinIO and similar
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"accesskeyid"`
	SecretAccessKey string `yaml:"secretaccesskey"`
	UsePathStyle    bool   `yaml:"usepathstyle"`
}

// TransferSettings configures the capture-side pending queue and sender.
type TransferSettings struct {
	Transport     string        `yaml:"transport"` // mqtt or http
	QueuePath     string        `yaml:"queuepath"`
	Capacity      int           `yaml:"capacity"`
	RetryInterval time.Duration `yaml:"retryinterval"` // periodic retry even without a reachability change
	RetryRate     float64       `yaml:"retryrate"`     // retry passes per second
	RetryBurst    int           `yaml:"retryburst"`
	SendTimeout   time.Duration `yaml:"sendtimeout"`
}

// MQTTSettings contains settings for the MQTT transfer channel.
type MQTTSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"clientid"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CompanionSettings tells the capture device where the companion listens.
type CompanionSettings struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ImportSettings configures the import reconciler and drop-folder inbox.
type ImportSettings struct {
	PhotoConcurrency int           `yaml:"photoconcurrency"` // max in-flight photo writes
	MaxPhotoBytes    int64         `yaml:"maxphotobytes"`
	DedupWindow      time.Duration `yaml:"dedupwindow"` // how long received transfer ids are remembered
	Inbox            InboxSettings `yaml:"inbox"`
}

// InboxSettings configures the watched import folder.
type InboxSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WebServerSettings contains settings for the companion HTTP API.
type WebServerSettings struct {
	Enabled         bool          `yaml:"enabled"`
	Listen          string        `yaml:"listen"`
	MaxConnections  int           `yaml:"maxconnections"` // 0 means unlimited
	BodyLimit       string        `yaml:"bodylimit"`      // e.g. 64M; imports carry base64 photos
	AllowedOrigins  []string      `yaml:"allowedorigins"`
	ShutdownTimeout time.Duration `yaml:"shutdowntimeout"`
	Debug           bool          `yaml:"debug"`
}

// TelemetrySettings controls Sentry error reporting.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// PublishSettings lists export upload targets.
type PublishSettings struct {
	Local LocalTargetSettings `yaml:"local"`
	SFTP  SFTPTargetSettings  `yaml:"sftp"`
	FTP   FTPTargetSettings   `yaml:"ftp"`
}

// LocalTargetSettings copies exports into a directory.
type LocalTargetSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SFTPTargetSettings uploads exports over SFTP.
type SFTPTargetSettings struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	KeyFile        string        `yaml:"keyfile"`
	KnownHostsFile string        `yaml:"knownhostsfile"`
	Path           string        `yaml:"path"`
	Timeout        time.Duration `yaml:"timeout"`
}

// FTPTargetSettings uploads exports over FTP.
type FTPTargetSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Path     string        `yaml:"path"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NotifySettings configures push notifications through shoutrrr URLs.
type NotifySettings struct {
	Enabled bool          `yaml:"enabled"`
	URLs    []string      `yaml:"urls"`   // e.g. ntfy://ntfy.sh/orchard, telegram://token@telegram?chats=1
	Events  []string      `yaml:"events"` // import, queue-drop; empty means all
	Timeout time.Duration `yaml:"timeout"`
}

// CatalogSettings points at the TOML species catalog.
type CatalogSettings struct {
	Path string `yaml:"path"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
// A missing config file is not an error; defaults apply.
func Load() (*Settings, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFrom(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper registers defaults and env bindings and reads the config file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")

		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			viper.AddConfigPath(path)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if configFile != "" && errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s does not exist", configFile)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temp file and rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// DefaultSettings returns settings built only from defaults. Used by
// `treetrack config init`.
func DefaultSettings() (*Settings, error) {
	v := viper.New()
	applyDefaults(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling defaults: %w", err)
	}
	return settings, nil
}
