package duplicates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/photostore"
)

var base = time.Date(2023, 9, 1, 12, 0, 0, 0, time.UTC)

func rec(id string, lat, lon float64, species string, age time.Duration) datastore.Record {
	return datastore.Record{
		ID:                 id,
		Latitude:           lat,
		Longitude:          lon,
		HorizontalAccuracy: 5,
		Species:            species,
		CreatedAt:          base.Add(age),
	}
}

func TestFindGroupsNearbyRecords(t *testing.T) {
	t.Parallel()

	records := []datastore.Record{
		rec("a", 45.00001, -122.00001, "Apple", 0),
		rec("b", 45.00002, -122.00002, "  apple ", time.Hour),
		rec("c", 45.00020, -122.00002, "Apple", 2*time.Hour),
	}

	sets := Find(records)
	require.Len(t, sets, 1)
	assert.Equal(t, []string{"a", "b"}, sets[0].IDs())
	assert.Equal(t, Key{Lat: 45, Lon: -122, Species: "apple"}, sets[0].Key)
}

func TestFindSeparatesSpecies(t *testing.T) {
	t.Parallel()

	records := []datastore.Record{
		rec("a", 10, 10, "Pear", 0),
		rec("b", 10, 10, "Plum", 0),
	}
	assert.Empty(t, Find(records))
}

func TestFindNormalizesLabels(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KeyOf(&datastore.Record{Species: "Granny   Smith"}), KeyOf(&datastore.Record{Species: "granny smith\t"}))
	assert.Equal(t, KeyOf(&datastore.Record{Species: "ÄPFEL"}), KeyOf(&datastore.Record{Species: "äpfel"}))
	assert.Equal(t, 0.0, KeyOf(&datastore.Record{Latitude: -0.00001}).Lat)
}

func TestFindOrdersMembersAndSets(t *testing.T) {
	t.Parallel()

	records := []datastore.Record{
		rec("p2", 1, 1, "Pear", 2*time.Hour),
		rec("a1", 5, 5, "Apple", time.Hour),
		rec("p1", 1, 1, "Pear", time.Hour),
		rec("a0", 5, 5, "apple", 0),
		rec("lonely", 9, 9, "Fig", 0),
	}

	sets := Find(records)
	require.Len(t, sets, 2)
	assert.Equal(t, "apple", sets[0].Key.Species)
	assert.Equal(t, []string{"a0", "a1"}, sets[0].IDs())
	assert.Equal(t, []string{"p1", "p2"}, sets[1].IDs())
}

func TestKeepStrategies(t *testing.T) {
	t.Parallel()

	sets := Find([]datastore.Record{
		rec("old", 1, 1, "Fig", 0),
		rec("mid", 1, 1, "Fig", time.Hour),
		rec("new", 1, 1, "Fig", 2*time.Hour),
		rec("x1", 2, 2, "Fig", 0),
		rec("x2", 2, 2, "Fig", time.Hour),
	})
	require.Len(t, sets, 2)

	assert.Equal(t, []string{"mid", "new", "x2"}, KeepOldest(sets).IDs())
	assert.Equal(t, []string{"mid", "old", "x1"}, KeepNewest(sets).IDs())

	sel, ok := SelectByStrategy(sets, StrategyKeepNewest)
	require.True(t, ok)
	assert.Equal(t, 3, sel.Len())
	_, ok = SelectByStrategy(sets, "merge")
	assert.False(t, ok)
}

func TestSelectionToggle(t *testing.T) {
	t.Parallel()

	sel := NewSelection("a", "")
	assert.Equal(t, 1, sel.Len())
	assert.False(t, sel.Toggle("a"))
	assert.True(t, sel.Toggle("b"))
	assert.Equal(t, []string{"b"}, sel.IDs())
}

func TestResolverCommitDeletesOnlySelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := datastore.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	photos := photostore.NewMemory()

	for _, r := range []datastore.Record{
		rec("11111111-1111-1111-1111-111111111111", 45.00001, -122.00001, "Apple", 0),
		rec("22222222-2222-2222-2222-222222222222", 45.00002, -122.00002, "apple", time.Hour),
		rec("33333333-3333-3333-3333-333333333333", 45.00003, -122.00003, "APPLE", 2*time.Hour),
	} {
		require.NoError(t, store.CreateRecord(ctx, &r))
	}
	newer := "22222222-2222-2222-2222-222222222222"
	require.NoError(t, photos.Put(ctx, "records/"+newer+"/p.jpg", []byte("jpeg"), "image/jpeg"))
	require.NoError(t, store.AddPhoto(ctx, &datastore.Photo{RecordID: newer, BlobKey: "records/" + newer + "/p.jpg"}))
	_, err = store.AddNote(ctx, newer, "duplicate visit")
	require.NoError(t, err)

	resolver := NewResolver(store, photos, nil)
	sets, err := resolver.Sets(ctx, datastore.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, sets, 1)
	require.Len(t, sets[0].Members, 3)

	sel := NewSelection(newer, "44444444-4444-4444-4444-444444444444")
	result, err := resolver.Commit(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.BlobsDeleted)
	assert.Equal(t, []string{"44444444-4444-4444-4444-444444444444"}, result.Missing)
	assert.Zero(t, photos.Len())

	remaining, err := store.ListRecords(ctx, datastore.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", remaining[0].ID)
	assert.Equal(t, "33333333-3333-3333-3333-333333333333", remaining[1].ID)

	empty, err := resolver.Commit(ctx, NewSelection())
	require.NoError(t, err)
	assert.Zero(t, empty.Deleted)
}

type aliases map[string]string

func (a aliases) Canonical(label string) (string, bool) {
	name, ok := a[label]
	return name, ok
}

func TestFindFoldsCatalogAliases(t *testing.T) {
	t.Parallel()

	records := []datastore.Record{
		rec("a", 1, 1, "Malus domestica", 0),
		rec("b", 1, 1, "apple", time.Hour),
	}
	assert.Empty(t, Find(records))

	sets := Find(records, WithCanonicalizer(aliases{"Malus domestica": "Apple"}))
	require.Len(t, sets, 1)
	assert.Equal(t, "apple", sets[0].Key.Species)
}
