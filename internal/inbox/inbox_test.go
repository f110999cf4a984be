package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/photostore"
	"github.com/philipwilson/trees/internal/reconcile"
)

type fakeImporter struct {
	mu    sync.Mutex
	files []string
}

func (f *fakeImporter) ImportFile(_ context.Context, path string) (*reconcile.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, filepath.Base(path))
	if strings.Contains(path, "broken") {
		return nil, errors.New("malformed document")
	}
	return &reconcile.Summary{Imported: 1}, nil
}

func (f *fakeImporter) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.files...)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWatcherImportsAndSortsFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "early.csv"), []byte("x"), 0o600))

	importer := &fakeImporter{}
	var results sync.Map
	w := New(dir, importer, nil,
		WithSettle(40*time.Millisecond),
		WithResultFunc(func(path string, _ *reconcile.Summary, err error) {
			results.Store(filepath.Base(path), err)
		}))
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "orchard.json"), []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.gpx"), []byte("<gpx"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".partial.json"), []byte("{"), 0o600))

	require.Eventually(t, func() bool {
		return exists(filepath.Join(dir, ProcessedDir, "orchard.json")) &&
			exists(filepath.Join(dir, ProcessedDir, "early.csv")) &&
			exists(filepath.Join(dir, FailedDir, "broken.gpx"))
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())

	assert.ElementsMatch(t, []string{"early.csv", "orchard.json", "broken.gpx"}, importer.seen())
	assert.True(t, exists(filepath.Join(dir, "readme.txt")))
	assert.True(t, exists(filepath.Join(dir, ".partial.json")))

	failed, ok := results.Load("broken.gpx")
	require.True(t, ok)
	assert.Error(t, failed.(error))
}

func TestWatcherStartTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := New(t.TempDir(), &fakeImporter{}, nil)
	require.NoError(t, w.Start(context.Background()))
	require.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
}

func TestMoveKeepsEarlierFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, ProcessedDir)
	require.NoError(t, os.MkdirAll(dest, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.json"), []byte("old"), 0o600))
	src := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o600))

	moved, err := move(src, dest)
	require.NoError(t, err)
	assert.NotEqual(t, filepath.Join(dest, "a.json"), moved)
	assert.True(t, strings.HasSuffix(moved, ".json"))

	old, err := os.ReadFile(filepath.Join(dest, "a.json"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestWatcherWithReconciler(t *testing.T) {
	t.Parallel()

	store, err := datastore.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	r := reconcile.New(store, photostore.NewMemory(), nil)

	dir := t.TempDir()
	w := New(dir, r, nil, WithSettle(40*time.Millisecond))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	payload := `[{"latitude": 45.5, "longitude": -122.6, "horizontalAccuracy": 5, "species": "Fig", "notes": "", "photoCount": 0, "createdAt": "2024-01-01T00:00:00Z", "updatedAt": "2024-01-01T00:00:00Z"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legacy.json"), []byte(payload), 0o600))

	require.Eventually(t, func() bool {
		return exists(filepath.Join(dir, ProcessedDir, "legacy.json"))
	}, 5*time.Second, 20*time.Millisecond)

	records, err := store.ListRecords(context.Background(), datastore.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Fig", records[0].Species)
}
