package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipwilson/trees/internal/observability/metrics"
)

func testRecord(id string) TransferRecord {
	return TransferRecord{
		ID:                 id,
		Latitude:           45.5,
		Longitude:          -122.6,
		HorizontalAccuracy: 5,
		Species:            "Apple",
		CreatedAt:          time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func queueIDs(q *Queue) []string {
	var ids []string
	for _, rec := range q.Snapshot() {
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue("", 3, nil)
	var dropped []string
	q.OnDrop(func(recs []TransferRecord) {
		for _, r := range recs {
			dropped = append(dropped, r.ID)
		}
	})
	for i := 1; i <= 5; i++ {
		added, err := q.Enqueue(testRecord(fmt.Sprintf("r%d", i)))
		require.NoError(t, err)
		assert.True(t, added)
	}

	assert.Equal(t, []string{"r3", "r4", "r5"}, queueIDs(q))
	assert.Equal(t, []string{"r1", "r2"}, dropped)
	assert.Equal(t, 3, q.Capacity())
}

func TestQueueDefaultCapacity(t *testing.T) {
	t.Parallel()

	q := NewQueue("", 0, nil)
	for i := range DefaultCapacity + 1 {
		_, err := q.Enqueue(testRecord(fmt.Sprintf("r%03d", i)))
		require.NoError(t, err)
	}
	assert.Equal(t, DefaultCapacity, q.Len())
	assert.False(t, q.Contains("r000"))
	assert.True(t, q.Contains("r100"))
}

func TestQueueEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewQueue("", 10, nil)
	added, err := q.Enqueue(testRecord("r1"))
	require.NoError(t, err)
	assert.True(t, added)

	dup := testRecord("r1")
	dup.Species = "Pear"
	added, err = q.Enqueue(dup)
	require.NoError(t, err)
	assert.False(t, added)

	require.Equal(t, 1, q.Len())
	assert.Equal(t, "Apple", q.Snapshot()[0].Species)
}

func TestQueueMintsMissingID(t *testing.T) {
	t.Parallel()

	q := NewQueue("", 10, nil)
	_, err := q.Enqueue(testRecord(""))
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())
	assert.NotEmpty(t, q.Snapshot()[0].ID)
}

func TestQueueRemoveAndClear(t *testing.T) {
	t.Parallel()

	q := NewQueue("", 10, nil)
	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(testRecord(id))
		require.NoError(t, err)
	}

	removed, err := q.Remove("b")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"a", "c"}, queueIDs(q))

	removed, err = q.Remove("missing")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, q.Clear())
	assert.Zero(t, q.Len())
}

func TestQueuePersistsAcrossRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "pending.json")
	q := NewQueue(path, 10, nil)
	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(testRecord(id))
		require.NoError(t, err)
	}
	_, err := q.Remove("a")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 1`)

	restored := NewQueue(path, 10, nil)
	require.NoError(t, restored.Load())
	assert.Equal(t, []string{"b", "c"}, queueIDs(restored))
	assert.Equal(t, q.Snapshot(), restored.Snapshot())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".pending-"), "temp file left behind: %s", e.Name())
	}
}

func TestQueueLoad(t *testing.T) {
	t.Parallel()

	t.Run("missing file is empty", func(t *testing.T) {
		t.Parallel()
		q := NewQueue(filepath.Join(t.TempDir(), "none.json"), 10, nil)
		require.NoError(t, q.Load())
		assert.Zero(t, q.Len())
	})

	t.Run("corrupt file fails", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "pending.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		q := NewQueue(path, 10, nil)
		require.Error(t, q.Load())
	})

	t.Run("duplicates and overflow are trimmed", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "pending.json")
		content := `{"version":1,"records":[
			{"id":"a","latitude":1,"longitude":1,"horizontalAccuracy":1,"species":"x","createdAt":"2024-01-01T00:00:00Z"},
			{"id":"a","latitude":1,"longitude":1,"horizontalAccuracy":1,"species":"x","createdAt":"2024-01-01T00:00:00Z"},
			{"id":"b","latitude":1,"longitude":1,"horizontalAccuracy":1,"species":"x","createdAt":"2024-01-01T00:00:00Z"},
			{"id":"c","latitude":1,"longitude":1,"horizontalAccuracy":1,"species":"x","createdAt":"2024-01-01T00:00:00Z"}
		]}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		q := NewQueue(path, 2, nil)
		require.NoError(t, q.Load())
		assert.Equal(t, []string{"b", "c"}, queueIDs(q))
	})
}

func TestQueueMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewTransferMetrics(registry)
	require.NoError(t, err)

	q := NewQueue("", 2, nil)
	q.SetMetrics(m)
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := q.Enqueue(testRecord(id))
		require.NoError(t, err)
	}

	expected := `
# HELP treetrack_transfer_dropped_total Total number of queued records dropped because the queue was full
# TYPE treetrack_transfer_dropped_total counter
treetrack_transfer_dropped_total 2
# HELP treetrack_transfer_queue_depth Number of transfer records waiting for delivery
# TYPE treetrack_transfer_queue_depth gauge
treetrack_transfer_queue_depth 2
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"treetrack_transfer_dropped_total", "treetrack_transfer_queue_depth"))
}

func TestMonitorNotifiesOnChange(t *testing.T) {
	t.Parallel()

	mon := NewMonitor(false)
	var got []bool
	unsubscribe := mon.Subscribe(func(r bool) { got = append(got, r) })

	mon.Set(false)
	mon.Set(true)
	mon.Set(true)
	mon.Set(false)
	unsubscribe()
	unsubscribe()
	mon.Set(true)

	assert.Equal(t, []bool{true, false}, got)
	assert.True(t, mon.Reachable())
}
