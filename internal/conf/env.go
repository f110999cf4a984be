// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.name", "TREETRACK_NAME", nil},
		{"main.role", "TREETRACK_ROLE", validateEnvRole},
		{"debug", "TREETRACK_DEBUG", validateEnvBool},

		{"store.type", "TREETRACK_STORE_TYPE", validateEnvStoreType},
		{"store.sqlite.path", "TREETRACK_SQLITE_PATH", nil},
		{"store.mysql.host", "TREETRACK_MYSQL_HOST", nil},
		{"store.mysql.password", "TREETRACK_MYSQL_PASSWORD", nil},

		{"photos.driver", "TREETRACK_PHOTOS_DRIVER", nil},
		{"photos.s3.bucket", "TREETRACK_S3_BUCKET", nil},
		{"photos.s3.endpoint", "TREETRACK_S3_ENDPOINT", validateEnvURL},

		{"transfer.transport", "TREETRACK_TRANSPORT", nil},
		{"transfer.queuepath", "TREETRACK_QUEUE_PATH", nil},
		{"transfer.capacity", "TREETRACK_QUEUE_CAPACITY", validateEnvPositiveInt},

		{"mqtt.broker", "TREETRACK_MQTT_BROKER", validateEnvURL},
		{"mqtt.username", "TREETRACK_MQTT_USERNAME", nil},
		{"mqtt.password", "TREETRACK_MQTT_PASSWORD", nil},

		{"companion.url", "TREETRACK_COMPANION_URL", validateEnvURL},
		{"webserver.listen", "TREETRACK_LISTEN", nil},
		{"telemetry.dsn", "TREETRACK_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvRole(value string) error {
	switch value {
	case RoleCompanion, RoleCapture:
		return nil
	default:
		return fmt.Errorf("must be %q or %q", RoleCompanion, RoleCapture)
	}
}

func validateEnvStoreType(value string) error {
	switch value {
	case "sqlite", "mysql":
		return nil
	default:
		return fmt.Errorf("must be sqlite or mysql")
	}
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host")
	}
	return nil
}
