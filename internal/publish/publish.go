// Package publish uploads finished export files to the configured targets.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
	tempPrefix        = ".upload-"
)

// Target stores one export artifact.
type Target interface {
	Name() string
	// Upload copies the local file to the target under its base name.
	Upload(ctx context.Context, localPath string) error
}

// Outcome is the result for a single target.
type Outcome struct {
	Target string `json:"target"`
	Error  string `json:"error,omitempty"`
}

// Publisher fans one artifact out to every target.
type Publisher struct {
	targets []Target
	log     logger.Logger
	retry   retryConfig
}

// New creates a Publisher for targets.
func New(log logger.Logger, targets ...Target) *Publisher {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Publisher{
		targets: targets,
		log:     log.Module("publish"),
		retry:   retryConfig{maxRetries: defaultMaxRetries, backoff: defaultBackoff},
	}
}

// NewFromSettings builds the enabled targets from settings.
func NewFromSettings(settings *conf.Settings, log logger.Logger) (*Publisher, error) {
	var targets []Target
	p := &settings.Publish
	if p.Local.Enabled {
		t, err := NewLocalTarget(p.Local.Path)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if p.SFTP.Enabled {
		t, err := NewSFTPTarget(&SFTPConfig{
			Host:           p.SFTP.Host,
			Port:           p.SFTP.Port,
			Username:       p.SFTP.Username,
			Password:       p.SFTP.Password,
			KeyFile:        p.SFTP.KeyFile,
			KnownHostsFile: p.SFTP.KnownHostsFile,
			BasePath:       p.SFTP.Path,
			Timeout:        p.SFTP.Timeout,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if p.FTP.Enabled {
		t, err := NewFTPTarget(&FTPConfig{
			Host:     p.FTP.Host,
			Port:     p.FTP.Port,
			Username: p.FTP.Username,
			Password: p.FTP.Password,
			BasePath: p.FTP.Path,
			Timeout:  p.FTP.Timeout,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return New(log, targets...), nil
}

// Targets returns the configured target names.
func (p *Publisher) Targets() []string {
	names := make([]string, len(p.targets))
	for i, t := range p.targets {
		names[i] = t.Name()
	}
	return names
}

// Publish uploads localPath to every target. Each target is attempted even
// when an earlier one fails; the failures are joined into the returned error.
func (p *Publisher) Publish(ctx context.Context, localPath string) ([]Outcome, error) {
	if _, err := os.Stat(localPath); err != nil {
		return nil, errors.New(err).
			Component("publish").
			Category(errors.CategoryFileIO).
			Context("path", localPath).
			Build()
	}

	outcomes := make([]Outcome, 0, len(p.targets))
	var errs []error
	for _, t := range p.targets {
		start := time.Now()
		err := withRetry(ctx, p.retry, func() error { return t.Upload(ctx, localPath) })
		outcome := Outcome{Target: t.Name()}
		if err != nil {
			outcome.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			p.log.Error("export upload failed",
				logger.String("target", t.Name()),
				logger.String("file", filepath.Base(localPath)),
				logger.Error(err))
		} else {
			p.log.Info("export uploaded",
				logger.String("target", t.Name()),
				logger.String("file", filepath.Base(localPath)),
				logger.Duration("elapsed", time.Since(start)))
		}
		outcomes = append(outcomes, outcome)
	}

	if len(errs) > 0 {
		return outcomes, errors.New(errors.Join(errs...)).
			Component("publish").
			Category(errors.CategoryPublish).
			Context("failed_targets", len(errs)).
			Context("targets", len(p.targets)).
			Build()
	}
	return outcomes, nil
}

type retryConfig struct {
	maxRetries int
	backoff    time.Duration
}

var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"timeout",
	"temporary",
	"broken pipe",
	"no route to host",
	"EOF",
	"ssh: handshake failed",
}

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}
	msg := err.Error()
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// withRetry retries transient failures with linear backoff.
func withRetry(ctx context.Context, cfg retryConfig, op func() error) error {
	var lastErr error
	for attempt := range max(cfg.maxRetries, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.backoff * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", max(cfg.maxRetries, 1), lastErr)
}
