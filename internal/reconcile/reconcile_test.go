package reconcile

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/interchange"
	"github.com/philipwilson/trees/internal/observability/metrics"
	"github.com/philipwilson/trees/internal/photostore"
)

var (
	created    = time.Date(2024, 4, 12, 9, 30, 0, 0, time.UTC)
	jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
)

func newTestStore(t *testing.T) *datastore.SQLiteStore {
	t.Helper()
	store, err := datastore.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestReconciler(t *testing.T, opts ...Option) (*Reconciler, *datastore.SQLiteStore, *photostore.Memory) {
	t.Helper()
	store := newTestStore(t)
	photos := photostore.NewMemory()
	return New(store, photos, nil, opts...), store, photos
}

func doc(id string, lat, lon float64) interchange.RecordDoc {
	return interchange.RecordDoc{
		ID:                 id,
		Latitude:           lat,
		Longitude:          lon,
		HorizontalAccuracy: 3,
		Species:            "Apple",
		Notes:              "grafted 2021",
		CreatedAt:          created,
		UpdatedAt:          created,
	}
}

func allRecords(t *testing.T, store datastore.Interface) []datastore.Record {
	t.Helper()
	records, err := store.ListRecords(context.Background(), datastore.RecordFilter{WithAttachments: true})
	require.NoError(t, err)
	return records
}

func TestImportSkipsInvalidCoordinates(t *testing.T) {
	t.Parallel()
	r, store, _ := newTestReconciler(t)

	document := &interchange.Document{Records: []interchange.RecordDoc{
		doc("", 91, 0),
		doc("", -90.5, 10),
		doc("", 10, 180.01),
		doc("", 10, -181),
		doc("", 45, -122),
	}}
	bad := doc("", 1, 1)
	bad.HorizontalAccuracy = -1
	document.Records = append(document.Records, bad)

	summary, err := r.Import(context.Background(), document)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 5, summary.Skipped)
	require.Len(t, summary.SkippedRecords, 5)
	assert.Equal(t, 0, summary.SkippedRecords[0].Index)
	assert.Contains(t, summary.SkippedRecords[0].Reason, "latitude")

	records := allRecords(t, store)
	require.Len(t, records, 1)
	assert.InDelta(t, 45.0, records[0].Latitude, 1e-9)
}

func TestImportTwiceCreatesRemappedCopies(t *testing.T) {
	t.Parallel()
	r, store, _ := newTestReconciler(t)

	ids := []string{uuid.NewString(), uuid.NewString()}
	document := &interchange.Document{Records: []interchange.RecordDoc{
		doc(ids[0], 45.1, -122.1),
		doc(ids[1], 45.2, -122.2),
	}}

	first, err := r.Import(context.Background(), document)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Imported)
	assert.Zero(t, first.Remapped)
	for i, outcome := range first.Outcomes {
		assert.Equal(t, IDKept, outcome.Kind)
		assert.Equal(t, ids[i], outcome.ID)
	}

	second, err := r.Import(context.Background(), document)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Imported)
	assert.Equal(t, 2, second.Remapped)
	for i, outcome := range second.Outcomes {
		assert.Equal(t, IDRemapped, outcome.Kind)
		assert.Equal(t, ids[i], outcome.OriginalID)
		assert.NotEqual(t, ids[i], outcome.ID)
	}

	assert.Len(t, allRecords(t, store), 4)
}

func TestImportResolvesIdentifiers(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestReconciler(t)

	shared := uuid.NewString()
	upper := strings.ToUpper(uuid.NewString())
	document := &interchange.Document{Records: []interchange.RecordDoc{
		doc("", 1, 1),
		doc("tree-42", 2, 2),
		doc(shared, 3, 3),
		doc(shared, 4, 4),
		doc(upper, 5, 5),
	}}

	summary, err := r.Import(context.Background(), document)
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 5)

	assert.Equal(t, IDMinted, summary.Outcomes[0].Kind)
	assert.Empty(t, summary.Outcomes[0].OriginalID)

	assert.Equal(t, IDRemapped, summary.Outcomes[1].Kind)
	assert.Equal(t, "tree-42", summary.Outcomes[1].OriginalID)
	_, err = uuid.Parse(summary.Outcomes[1].ID)
	assert.NoError(t, err)

	assert.Equal(t, IDKept, summary.Outcomes[2].Kind)
	assert.Equal(t, shared, summary.Outcomes[2].ID)
	assert.Equal(t, IDRemapped, summary.Outcomes[3].Kind)

	assert.Equal(t, IDKept, summary.Outcomes[4].Kind)
	assert.Equal(t, strings.ToLower(upper), summary.Outcomes[4].ID)

	assert.Equal(t, 2, summary.Remapped)
	assert.Equal(t, 1, summary.Minted)
}

func TestImportCreatesFreshGroups(t *testing.T) {
	t.Parallel()
	r, store, _ := newTestReconciler(t)
	ctx := context.Background()

	existing := &datastore.Group{Name: "North orchard"}
	require.NoError(t, store.CreateGroup(ctx, existing))

	local := "local-1"
	unknown := "nowhere"
	first := doc("", 45, -122)
	first.CollectionID = &local
	second := doc("", 46, -122)
	second.CollectionID = &unknown
	second.CreatedAt = created.Add(time.Minute)

	document := &interchange.Document{
		Groups:  []interchange.GroupDoc{{ID: local, Name: "North orchard"}, {ID: "empty", Name: "  "}},
		Records: []interchange.RecordDoc{first, second},
	}
	summary, err := r.Import(ctx, document)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.GroupsCreated)

	groups, err := store.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 3)

	records := allRecords(t, store)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].GroupID)
	assert.NotEqual(t, existing.ID, *records[0].GroupID)
	assert.NotEqual(t, local, *records[0].GroupID)
	assert.Nil(t, records[1].GroupID)

	imported, err := store.GetGroup(ctx, *records[0].GroupID)
	require.NoError(t, err)
	assert.Equal(t, "North orchard", imported.Name)

	var names []string
	for _, g := range groups {
		names = append(names, g.Name)
	}
	assert.Contains(t, names, defaultGroupName)
}

func TestImportSkipsUndecodablePhotos(t *testing.T) {
	t.Parallel()
	r, store, photos := newTestReconciler(t)

	taken := time.Date(2024, 4, 10, 8, 0, 0, 0, time.UTC)
	rd := doc("", 45, -122)
	rd.Photos = []string{"%%% not base64 %%%", base64.StdEncoding.EncodeToString(jpegHeader)}
	rd.PhotoDates = []time.Time{created, taken}
	other := doc("", 46, -121)
	other.CreatedAt = created.Add(time.Minute)

	summary, err := r.Import(context.Background(), &interchange.Document{Records: []interchange.RecordDoc{rd, other}})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Imported)
	assert.Equal(t, 1, summary.PhotosImported)
	assert.Equal(t, 1, summary.PhotosSkipped)
	assert.Equal(t, 1, photos.Len())

	records := allRecords(t, store)
	require.Len(t, records, 2)
	require.Len(t, records[0].Photos, 1)
	photo := records[0].Photos[0]
	assert.Equal(t, "image/jpeg", photo.ContentType)
	assert.True(t, strings.HasPrefix(photo.BlobKey, "records/"+records[0].ID+"/"))
	assert.WithinDuration(t, taken, photo.TakenAt, time.Second)

	data, err := photos.Get(context.Background(), photo.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, jpegHeader, data)

	require.Len(t, records[0].Notes, 1)
	assert.Equal(t, "grafted 2021", records[0].Notes[0].Text)
}

func TestImportAcceptsDataURIPhotos(t *testing.T) {
	t.Parallel()
	r, _, photos := newTestReconciler(t, WithMaxPhotoBytes(int64(len(jpegHeader))))

	rd := doc("", 45, -122)
	rd.Photos = []string{
		"data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegHeader),
		base64.StdEncoding.EncodeToString(append(jpegHeader, 0x01)),
	}
	summary, err := r.Import(context.Background(), &interchange.Document{Records: []interchange.RecordDoc{rd}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PhotosImported)
	assert.Equal(t, 1, summary.PhotosSkipped, "oversized photo is skipped")
	assert.Equal(t, 1, photos.Len())
}

// failingBatchStore fails every ImportBatch.
type failingBatchStore struct {
	datastore.Interface
}

func (failingBatchStore) ImportBatch(context.Context, *datastore.ImportBatch) error {
	return errors.New("disk I/O error")
}

func TestImportCommitFailureRemovesPhotos(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	photos := photostore.NewMemory()
	r := New(failingBatchStore{store}, photos, nil)

	rd := doc("", 45, -122)
	rd.Photos = []string{base64.StdEncoding.EncodeToString(jpegHeader), base64.StdEncoding.EncodeToString(jpegHeader)}

	summary, err := r.Import(context.Background(), &interchange.Document{Records: []interchange.RecordDoc{rd}})
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Zero(t, photos.Len())
	assert.Empty(t, allRecords(t, store))
}

// failingPhotos rejects every write after the first n.
type failingPhotos struct {
	*photostore.Memory
	allowed atomic.Int32
}

func (f *failingPhotos) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.allowed.Add(-1) < 0 {
		return errors.New("bucket unavailable")
	}
	return f.Memory.Put(ctx, key, data, contentType)
}

func TestImportPhotoWriteFailureAborts(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	photos := &failingPhotos{Memory: photostore.NewMemory()}
	photos.allowed.Store(1)
	r := New(store, photos, nil, WithPhotoConcurrency(1))

	rd := doc("", 45, -122)
	for range 4 {
		rd.Photos = append(rd.Photos, base64.StdEncoding.EncodeToString(jpegHeader))
	}

	_, err := r.Import(context.Background(), &interchange.Document{Records: []interchange.RecordDoc{rd}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
	assert.Zero(t, photos.Len())
	assert.Empty(t, allRecords(t, store))
}

// countingPhotos tracks the number of concurrent writes.
type countingPhotos struct {
	*photostore.Memory
	mu       sync.Mutex
	inflight int
	peak     int
}

func (c *countingPhotos) Put(ctx context.Context, key string, data []byte, contentType string) error {
	c.mu.Lock()
	c.inflight++
	if c.inflight > c.peak {
		c.peak = c.inflight
	}
	c.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
	return c.Memory.Put(ctx, key, data, contentType)
}

func TestImportBoundsPhotoWrites(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	photos := &countingPhotos{Memory: photostore.NewMemory()}
	r := New(store, photos, nil, WithPhotoConcurrency(2))

	var records []interchange.RecordDoc
	for i := range 5 {
		rd := doc("", 40+float64(i), -120)
		for range 3 {
			rd.Photos = append(rd.Photos, base64.StdEncoding.EncodeToString(jpegHeader))
		}
		records = append(records, rd)
	}

	summary, err := r.Import(context.Background(), &interchange.Document{Records: records})
	require.NoError(t, err)
	assert.Equal(t, 15, summary.PhotosImported)
	assert.Equal(t, 15, photos.Len())
	assert.LessOrEqual(t, photos.peak, 2)
}

func TestImportDataFormats(t *testing.T) {
	t.Parallel()

	var source []interchange.RecordDoc
	for i, lat := range []float64{45.5, 45.6, 45.7} {
		rd := doc("", lat, -122)
		rd.CreatedAt = created.Add(time.Duration(i) * time.Hour)
		source = append(source, rd)
	}

	t.Run("csv", func(t *testing.T) {
		t.Parallel()
		r, store, _ := newTestReconciler(t)
		var buf strings.Builder
		require.NoError(t, interchange.WriteCSV(&buf, source))

		summary, err := r.ImportData(context.Background(), []byte(buf.String()), FormatCSV)
		require.NoError(t, err)
		assert.Equal(t, FormatCSV, summary.Format)
		assert.Equal(t, 3, summary.Imported)
		assert.Len(t, allRecords(t, store), 3)
	})

	t.Run("gpx", func(t *testing.T) {
		t.Parallel()
		r, store, _ := newTestReconciler(t)
		var buf strings.Builder
		require.NoError(t, interchange.WriteGPX(&buf, source, "test"))

		summary, err := r.ImportData(context.Background(), []byte(buf.String()), FormatGPX)
		require.NoError(t, err)
		assert.Equal(t, 3, summary.Imported)
		records := allRecords(t, store)
		require.Len(t, records, 3)
		assert.InDelta(t, 45.5, records[0].Latitude, 1e-6)
	})

	t.Run("legacy json", func(t *testing.T) {
		t.Parallel()
		r, _, _ := newTestReconciler(t)
		data := `[{"latitude": 45, "longitude": -122, "horizontalAccuracy": 3, "species": "Pear", "notes": "", "photoCount": 0}]`
		summary, err := r.ImportData(context.Background(), []byte(data), FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, "legacy", summary.Format)
		assert.Equal(t, 1, summary.Minted)
	})

	t.Run("malformed json fails whole file", func(t *testing.T) {
		t.Parallel()
		r, store, _ := newTestReconciler(t)
		_, err := r.ImportData(context.Background(), []byte(`{"records": 7}`), FormatJSON)
		require.ErrorIs(t, err, interchange.ErrMalformedDocument)
		assert.Empty(t, allRecords(t, store))
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()
		r, _, _ := newTestReconciler(t)
		_, err := r.ImportData(context.Background(), []byte("x"), "kml")
		require.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestImportFile(t *testing.T) {
	t.Parallel()
	r, store, _ := newTestReconciler(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "export.JSON")
	content := `{"groups": [], "records": [{"latitude": 1, "longitude": 2, "horizontalAccuracy": 0, "species": "Fig", "notes": "", "photoCount": 0}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	summary, err := r.ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "grouped", summary.Format)
	assert.Len(t, allRecords(t, store), 1)

	_, err = r.ImportFile(context.Background(), filepath.Join(dir, "notes.txt"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = r.ImportFile(context.Background(), filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestImportMetrics(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m, err := metrics.NewImportMetrics(registry)
	require.NoError(t, err)
	r, _, _ := newTestReconciler(t, WithMetrics(m))

	_, err = r.Import(context.Background(), &interchange.Document{Records: []interchange.RecordDoc{
		doc("", 45, -122), doc("not-a-uuid", 46, -122), doc("", 95, 0),
	}})
	require.NoError(t, err)

	expected := `
# HELP treetrack_import_records_total Imported records by outcome
# TYPE treetrack_import_records_total counter
treetrack_import_records_total{outcome="imported"} 2
treetrack_import_records_total{outcome="remapped"} 1
treetrack_import_records_total{outcome="skipped"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "treetrack_import_records_total"))
}

func TestIDKindMarshalText(t *testing.T) {
	t.Parallel()
	for kind, want := range map[IDKind]string{IDKept: "kept", IDRemapped: "remapped", IDMinted: "minted", IDKind(9): "unknown"} {
		text, err := kind.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, want, string(text))
	}
}
