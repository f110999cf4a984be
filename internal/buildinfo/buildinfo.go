// Package buildinfo holds build-time metadata injected with -ldflags:
//
//	go build -ldflags "-X github.com/philipwilson/trees/internal/buildinfo.version=v1.2.0 \
//	    -X github.com/philipwilson/trees/internal/buildinfo.buildDate=2024-05-01"
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata that was not injected.
const UnknownValue = "unknown"

var (
	version   = ""
	buildDate = ""
)

// Info is the build metadata of the running binary.
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// Get returns the metadata of the running binary.
func Get() Info {
	return Info{
		Version:   orUnknown(version),
		BuildDate: orUnknown(buildDate),
		GoVersion: runtime.Version(),
	}
}

// Release returns the Sentry release name, e.g. treetrack@v1.2.0.
func (i Info) Release() string {
	return "treetrack@" + i.Version
}

func (i Info) String() string {
	return fmt.Sprintf("%s (built %s, %s)", i.Version, i.BuildDate, i.GoVersion)
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
