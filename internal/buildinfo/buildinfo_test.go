package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaultsToUnknown(t *testing.T) {
	info := Get()
	assert.Equal(t, UnknownValue, info.Version)
	assert.Equal(t, UnknownValue, info.BuildDate)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, "treetrack@unknown", info.Release())
}

func TestInjectedValues(t *testing.T) {
	oldVersion, oldDate := version, buildDate
	t.Cleanup(func() { version, buildDate = oldVersion, oldDate })

	version, buildDate = "v1.2.0", "2024-05-01"
	info := Get()
	assert.Equal(t, "v1.2.0", info.Version)
	assert.Contains(t, info.String(), "built 2024-05-01")
}
