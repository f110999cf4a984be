// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateMainSettings,
		validateStoreSettings,
		validatePhotoSettings,
		validateTransferSettings,
		validateImportSettings,
		validateWebServerSettings,
		validatePublishSettings,
		validateNotifySettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateMainSettings(s *Settings) error {
	if err := validateEnvRole(s.Main.Role); err != nil {
		return fmt.Errorf("main.role: %w", err)
	}
	return nil
}

func validateStoreSettings(s *Settings) error {
	switch s.Store.Type {
	case "sqlite":
		if s.Store.SQLite.Path == "" {
			return errors.New("store.sqlite.path is required for the sqlite store")
		}
	case "mysql":
		if s.Store.MySQL.Host == "" || s.Store.MySQL.Database == "" {
			return errors.New("store.mysql.host and store.mysql.database are required for the mysql store")
		}
	default:
		return fmt.Errorf("store.type must be sqlite or mysql, got %q", s.Store.Type)
	}
	return nil
}

func validatePhotoSettings(s *Settings) error {
	switch s.Photos.Driver {
	case "fs":
		if s.Photos.Path == "" {
			return errors.New("photos.path is required for the fs driver")
		}
	case "s3":
		if s.Photos.S3.Bucket == "" {
			return errors.New("photos.s3.bucket is required for the s3 driver")
		}
	case "memory":
	default:
		return fmt.Errorf("photos.driver must be fs, s3 or memory, got %q", s.Photos.Driver)
	}
	return nil
}

func validateTransferSettings(s *Settings) error {
	t := &s.Transfer
	if t.Capacity <= 0 {
		return fmt.Errorf("transfer.capacity must be positive, got %d", t.Capacity)
	}
	if t.RetryRate <= 0 {
		return fmt.Errorf("transfer.retryrate must be positive, got %g", t.RetryRate)
	}
	if s.Main.Role != RoleCapture {
		return nil
	}
	switch t.Transport {
	case "http":
		if err := validateEnvURL(s.Companion.URL); err != nil {
			return fmt.Errorf("companion.url: %w", err)
		}
	case "mqtt":
		if s.MQTT.Broker == "" {
			return errors.New("mqtt.broker is required for the mqtt transport")
		}
		// QoS 0 is not stored for an offline companion and never redelivered.
		if s.MQTT.QoS < 1 || s.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 1 or 2 for the mqtt transport, got %d", s.MQTT.QoS)
		}
	default:
		return fmt.Errorf("transfer.transport must be http or mqtt, got %q", t.Transport)
	}
	if t.QueuePath == "" {
		return errors.New("transfer.queuepath is required in the capture role")
	}
	return nil
}

func validateImportSettings(s *Settings) error {
	if s.Import.PhotoConcurrency < 1 {
		return fmt.Errorf("import.photoconcurrency must be at least 1, got %d", s.Import.PhotoConcurrency)
	}
	if s.Import.Inbox.Enabled && s.Import.Inbox.Path == "" {
		return errors.New("import.inbox.path is required when the inbox is enabled")
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	if !s.WebServer.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.WebServer.Listen); err != nil {
		return fmt.Errorf("webserver.listen %q: %w", s.WebServer.Listen, err)
	}
	if s.WebServer.MaxConnections < 0 {
		return errors.New("webserver.maxconnections must not be negative")
	}
	return nil
}

func validatePublishSettings(s *Settings) error {
	p := &s.Publish
	if p.SFTP.Enabled && (p.SFTP.Host == "" || p.SFTP.Username == "") {
		return errors.New("publish.sftp requires host and username")
	}
	if p.SFTP.Enabled && p.SFTP.Password == "" && p.SFTP.KeyFile == "" {
		return errors.New("publish.sftp requires a password or keyfile")
	}
	if p.FTP.Enabled && p.FTP.Host == "" {
		return errors.New("publish.ftp requires host")
	}
	if p.Local.Enabled && p.Local.Path == "" {
		return errors.New("publish.local requires path")
	}
	if s.Photos.Driver == "s3" && s.Photos.S3.Endpoint != "" {
		if _, err := url.Parse(s.Photos.S3.Endpoint); err != nil {
			return fmt.Errorf("photos.s3.endpoint: %w", err)
		}
	}
	return nil
}

func validateNotifySettings(s *Settings) error {
	if !s.Notify.Enabled {
		return nil
	}
	if len(s.Notify.URLs) == 0 {
		return errors.New("notify.urls needs at least one URL when notifications are enabled")
	}
	for _, event := range s.Notify.Events {
		switch event {
		case "import", "queue-drop":
		default:
			return fmt.Errorf("notify.events: unknown event %q", event)
		}
	}
	return nil
}
