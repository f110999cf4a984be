package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/interchange"
	"github.com/philipwilson/trees/internal/photostore"
)

func seed(t *testing.T, n int) (*datastore.SQLiteStore, *photostore.Memory) {
	t.Helper()
	ctx := context.Background()

	store, err := datastore.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	photos := photostore.NewMemory()

	group := &datastore.Group{Name: "Hedge <north> & east"}
	require.NoError(t, store.CreateGroup(ctx, group))

	base := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rec := &datastore.Record{
			ID:                 fmt.Sprintf("00000000-0000-4000-8000-%012d", i),
			Latitude:           51.5 + float64(i)*0.001234567,
			Longitude:          -0.12 - float64(i)*0.000987654,
			HorizontalAccuracy: 4.5,
			Species:            `Apple, "Bramley"`,
			CreatedAt:          base.Add(time.Duration(i) * time.Minute),
		}
		if i%2 == 0 {
			rec.GroupID = &group.ID
		}
		require.NoError(t, store.CreateRecord(ctx, rec))
		_, err := store.AddNote(ctx, rec.ID, "line one\nline <two>")
		require.NoError(t, err)
	}

	key := "records/" + fmt.Sprintf("00000000-0000-4000-8000-%012d", 0) + "/p.jpg"
	require.NoError(t, photos.Put(ctx, key, []byte("jpeg-bytes"), "image/jpeg"))
	require.NoError(t, store.AddPhoto(ctx, &datastore.Photo{
		RecordID: fmt.Sprintf("00000000-0000-4000-8000-%012d", 0),
		BlobKey:  key,
		TakenAt:  base,
	}))
	return store, photos
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"": "json", "JSON": "json", " csv ": "csv", "gpx": "gpx"} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("kml")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRoundTripPreservesCountAndCoordinates(t *testing.T) {
	t.Parallel()
	const n = 7
	store, photos := seed(t, n)
	exp := New(store, photos, nil)

	var csvBuf, gpxBuf bytes.Buffer
	_, err := exp.Write(context.Background(), &csvBuf, Options{Format: FormatCSV})
	require.NoError(t, err)
	_, err = exp.Write(context.Background(), &gpxBuf, Options{Format: FormatGPX})
	require.NoError(t, err)

	fromCSV, err := interchange.ReadCSV(&csvBuf)
	require.NoError(t, err)
	fromGPX, err := interchange.ReadGPX(&gpxBuf)
	require.NoError(t, err)
	require.Len(t, fromCSV, n)
	require.Len(t, fromGPX, n)

	records, err := store.ListRecords(context.Background(), datastore.RecordFilter{})
	require.NoError(t, err)
	for i := range records {
		assert.InDelta(t, records[i].Latitude, fromCSV[i].Latitude, 1e-9)
		assert.InDelta(t, records[i].Longitude, fromCSV[i].Longitude, 1e-9)
		assert.InDelta(t, records[i].Latitude, fromGPX[i].Latitude, 1e-9)
		assert.InDelta(t, records[i].Longitude, fromGPX[i].Longitude, 1e-9)
	}
	assert.Equal(t, `Apple, "Bramley"`, fromCSV[0].Species)
}

func TestJSONExportWithPhotos(t *testing.T) {
	t.Parallel()
	store, photos := seed(t, 3)
	exp := New(store, photos, nil)

	var buf bytes.Buffer
	result, err := exp.Write(context.Background(), &buf, Options{Format: FormatJSON, IncludePhotos: true})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Records)
	assert.Equal(t, int64(buf.Len()), result.Bytes)

	doc, shape, err := interchange.Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, interchange.ShapeGrouped, shape)
	require.Len(t, doc.Groups, 1)
	assert.Equal(t, "Hedge <north> & east", doc.Groups[0].Name)
	require.Len(t, doc.Records[0].Photos, 1)
	assert.Len(t, doc.Records[0].PhotoDates, 1)
	assert.Empty(t, doc.Records[1].Photos)
}

func TestGPXEscapesMarkup(t *testing.T) {
	t.Parallel()
	store, _ := seed(t, 1)

	var buf bytes.Buffer
	_, err := New(store, nil, nil).Write(context.Background(), &buf, Options{Format: FormatGPX})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "&lt;two&gt;")
	assert.NotContains(t, buf.String(), "<two>")
}

func TestWriteFile(t *testing.T) {
	t.Parallel()
	store, _ := seed(t, 2)
	exp := New(store, nil, nil)
	exp.now = func() time.Time { return time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC) }

	dir := filepath.Join(t.TempDir(), "out")
	result, err := exp.WriteFile(context.Background(), dir, Options{Format: "CSV"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "treetrack-20240501-083000.csv"), result.Path)

	f, err := os.Open(result.Path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := interchange.ReadCSV(f)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPhotoExportNeedsStore(t *testing.T) {
	t.Parallel()
	store, _ := seed(t, 1)

	_, err := New(store, nil, nil).Write(context.Background(), &bytes.Buffer{}, Options{IncludePhotos: true})
	require.Error(t, err)
}
