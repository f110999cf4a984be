// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/philipwilson/trees/internal/errors"
)

// GetDefaultConfigPaths returns the configuration directories for the
// current OS. If one of them already holds config.yaml, only that path is
// returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			".",
			filepath.Join(homeDir, "AppData", "Roaming", "treetrack"),
		}
	default:
		configPaths = []string{
			".",
			filepath.Join(homeDir, ".config", "treetrack"),
			"/etc/treetrack",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// DefaultConfigFile returns the path `treetrack config init` writes to.
func DefaultConfigFile() (string, error) {
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	// Prefer the per-user directory over the working directory.
	if len(paths) > 1 {
		return filepath.Join(paths[1], "config.yaml"), nil
	}
	return filepath.Join(paths[0], "config.yaml"), nil
}
