package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleLoggerLevels(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Info("shown", String("record_id", "abc"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "record_id=abc")
}

func TestTraceLevelLabel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelTrace, time.UTC)
	log.Trace("sql query")

	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestModuleNamingAndFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: true, Level: "debug"},
	}, buf)
	require.NoError(t, err)

	log := cl.Module("transfer").Module("mqtt").With(String("broker", "tcp://localhost:1883"))
	log.Warn("connection lost", Error(errors.New("eof")))

	out := buf.String()
	assert.Contains(t, out, "module=transfer.mqtt")
	assert.Contains(t, out, "broker=tcp://localhost:1883")
	assert.Contains(t, out, "error=eof")
}

func TestModuleLevelOverride(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: true, Level: "trace"},
		ModuleLevels: map[string]string{"datastore": "trace"},
	}, buf)
	require.NoError(t, err)

	cl.Module("datastore").Trace("select")
	cl.Module("api").Debug("request")

	assert.Contains(t, buf.String(), "select")
	assert.NotContains(t, buf.String(), "request")
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)
	ctx := WithTraceID(context.Background(), "req-42")

	log.WithContext(ctx).Info("handled")
	assert.Contains(t, buf.String(), "trace_id=req-42")

	assert.Same(t, log, log.WithContext(context.Background()))
}

func TestFileOutputIsJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "info"},
	}, &bytes.Buffer{})
	require.NoError(t, err)

	cl.Module("reconcile").Info("import finished", Int("imported", 3), Float64("ratio", 0.123456))
	require.NoError(t, cl.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	assert.Equal(t, "import finished", entry["msg"])
	assert.Equal(t, "reconcile", entry["module"])
	assert.InDelta(t, 3, entry["imported"], 0)
	assert.InDelta(t, 0.123, entry["ratio"], 1e-9)
}

func TestInvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := newCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestErrorFieldNil(t *testing.T) {
	t.Parallel()

	f := Error(nil)
	assert.Equal(t, "error", f.Key)
	assert.Nil(t, f.Value)
}
