// Package api provides the companion HTTP server: the transfer endpoint the
// capture device posts to, and the record, group, import, export and
// duplicate endpoints under /api/v1.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/philipwilson/trees/internal/conf"
)

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	// Server binding
	Host string
	Port string

	AllowedOrigins []string

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Limits
	BodyLimit      string // e.g. "64M"
	MaxConnections int    // concurrent connections, 0 for unlimited

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "",
		Port:            "8080",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       "64M",
		MaxConnections:  64,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) (*Config, error) {
	cfg := DefaultConfig()
	ws := &settings.WebServer

	if ws.Listen != "" {
		host, port, err := net.SplitHostPort(ws.Listen)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %q: %w", ws.Listen, err)
		}
		cfg.Host, cfg.Port = host, port
	}
	if len(ws.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = ws.AllowedOrigins
	}
	if ws.BodyLimit != "" {
		cfg.BodyLimit = ws.BodyLimit
	}
	if ws.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = ws.ShutdownTimeout
	}
	cfg.MaxConnections = ws.MaxConnections
	cfg.Debug = ws.Debug || settings.Debug

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative")
	}
	return nil
}

// Address returns the full address string for the server to listen on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	limit := "unlimited"
	if c.MaxConnections > 0 {
		limit = fmt.Sprintf("%d", c.MaxConnections)
	}
	return fmt.Sprintf("Server Config: address=%s, max_connections=%s, debug=%v",
		c.Address(), limit, c.Debug)
}
