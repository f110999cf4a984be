package photostore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/errors"
)

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	key := NewKey("rec-1", "image/jpeg")

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, store.Put(ctx, key, jpegHeader, "image/jpeg"))
	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, jpegHeader, data)

	require.NoError(t, store.Put(ctx, key, []byte("replaced"), "text/plain"))
	data, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key), "deleting a missing key is not an error")
	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Error(t, store.Put(ctx, "../escape.jpg", jpegHeader, ""))
	require.Error(t, store.Put(ctx, "/abs.jpg", jpegHeader, ""))
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	exerciseStore(t, store)
	assert.Zero(t, store.Len())
}

func TestFilesystemStore(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	store, err := NewFilesystem(root, nil)
	require.NoError(t, err)
	exerciseStore(t, store)

	require.NoError(t, store.Put(context.Background(), "records/r9/a.png", []byte("x"), "image/png"))
	_, err = os.Stat(filepath.Join(root, "records", "r9", "a.png"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "records", "r9"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestNewKey(t *testing.T) {
	t.Parallel()
	a := NewKey("rec-1", "image/jpeg")
	b := NewKey("rec-1", "image/jpeg")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "records/rec-1/"))
	assert.True(t, strings.HasSuffix(a, ".jpg"))
	assert.True(t, strings.HasSuffix(NewKey("r", "image/png"), ".png"))
	assert.True(t, strings.HasSuffix(NewKey("r", "application/x-unknown-thing"), ".bin"))
}

func TestDetectContentType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "image/jpeg", DetectContentType(jpegHeader))
}

func TestDeleteAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Put(ctx, "a", []byte("1"), ""))
	require.NoError(t, store.Put(ctx, "b", []byte("2"), ""))
	require.NoError(t, store.Put(ctx, "c", []byte("3"), ""))

	require.NoError(t, DeleteAll(ctx, store, []string{"a", "b", "missing"}))
	assert.Equal(t, []string{"c"}, store.Keys())
}

func TestNewFromSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	settings := &conf.Settings{}
	settings.Photos.Driver = "memory"
	store, err := New(ctx, settings, nil)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, store.Driver())

	settings.Photos.Driver = "fs"
	settings.Photos.Path = t.TempDir()
	store, err = New(ctx, settings, nil)
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, store.Driver())

	settings.Photos.Driver = "s3"
	_, err = New(ctx, settings, nil)
	require.Error(t, err, "s3 without a bucket must fail")

	settings.Photos.Driver = "floppy"
	_, err = New(ctx, settings, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
