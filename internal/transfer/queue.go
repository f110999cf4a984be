package transfer

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/observability/metrics"
)

// DefaultCapacity is the pending queue bound.
const DefaultCapacity = 100

const queueFileVersion = 1

type queueFile struct {
	Version int              `json:"version"`
	Records []TransferRecord `json:"records"`
}

// Queue is a bounded FIFO of undelivered transfer records, deduplicated by
// ID and persisted after every mutation. When full, the oldest entries are
// dropped first.
type Queue struct {
	mu       sync.Mutex
	path     string
	capacity int
	items    []TransferRecord
	log      logger.Logger
	metrics  *metrics.TransferMetrics
	onDrop   func(dropped []TransferRecord)
}

// NewQueue creates a queue persisted at path. An empty path keeps the queue
// in memory only. Call Load to restore a previous state.
func NewQueue(path string, capacity int, log logger.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Queue{path: path, capacity: capacity, log: log}
}

// SetMetrics attaches transfer metrics.
func (q *Queue) SetMetrics(m *metrics.TransferMetrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = m
	q.reportDepth()
}

// OnDrop registers fn to be called with the records evicted by a full
// queue. fn runs after the queue lock is released.
func (q *Queue) OnDrop(fn func(dropped []TransferRecord)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDrop = fn
}

// Capacity returns the queue bound.
func (q *Queue) Capacity() int { return q.capacity }

// Load restores the persisted queue. A missing file yields an empty queue.
// A file holding more than Capacity entries keeps the newest ones.
func (q *Queue) Load() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.path == "" {
		return nil
	}
	data, err := os.ReadFile(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		q.items = nil
		return nil
	}
	if err != nil {
		return queueError(err, "load", q.path)
	}

	var file queueFile
	if err := json.Unmarshal(data, &file); err != nil {
		return errors.New(err).
			Component("transfer").
			Category(errors.CategoryFileParsing).
			Context("path", q.path).
			Build()
	}

	items := make([]TransferRecord, 0, len(file.Records))
	seen := make(map[string]bool, len(file.Records))
	for _, rec := range file.Records {
		if rec.ID == "" || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		items = append(items, rec)
	}
	if over := len(items) - q.capacity; over > 0 {
		items = items[over:]
	}
	q.items = items
	q.reportDepth()

	q.log.Info("pending queue loaded",
		logger.String("path", q.path),
		logger.Int("pending", len(q.items)))
	return nil
}

// Enqueue appends rec unless a record with the same ID is already queued.
// A record without an ID gets one. The queue is persisted before Enqueue
// returns; the in-memory change stands even when persisting fails.
func (q *Queue) Enqueue(rec TransferRecord) (bool, error) {
	q.mu.Lock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if q.indexOf(rec.ID) >= 0 {
		q.mu.Unlock()
		return false, nil
	}

	q.items = append(q.items, rec)
	var dropped []TransferRecord
	if over := len(q.items) - q.capacity; over > 0 {
		dropped = slices.Clone(q.items[:over])
		q.items = slices.Delete(q.items, 0, over)
	}

	if q.metrics != nil {
		q.metrics.IncrementEnqueued()
		if len(dropped) > 0 {
			q.metrics.AddDropped(len(dropped))
		}
	}
	q.reportDepth()
	if len(dropped) > 0 {
		q.log.Warn("pending queue full, dropped oldest records",
			logger.Int("dropped", len(dropped)),
			logger.Int("capacity", q.capacity))
	}

	err := q.persist()
	onDrop := q.onDrop
	q.mu.Unlock()

	if len(dropped) > 0 && onDrop != nil {
		onDrop(dropped)
	}
	return true, err
}

// Remove deletes the record with id. It reports whether it was queued.
func (q *Queue) Remove(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return false, nil
	}
	q.items = slices.Delete(q.items, i, i+1)
	q.reportDepth()
	return true, q.persist()
}

// Clear empties the queue.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.reportDepth()
	return q.persist()
}

// Snapshot returns a copy of the queued records in enqueue order.
func (q *Queue) Snapshot() []TransferRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Contains reports whether id is queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexOf(id) >= 0
}

func (q *Queue) indexOf(id string) int {
	return slices.IndexFunc(q.items, func(r TransferRecord) bool { return r.ID == id })
}

func (q *Queue) reportDepth() {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.items))
	}
}

// persist writes the queue through a temp file and rename. Caller holds mu.
func (q *Queue) persist() error {
	if q.path == "" {
		return nil
	}

	records := q.items
	if records == nil {
		records = []TransferRecord{}
	}
	data, err := json.MarshalIndent(queueFile{Version: queueFileVersion, Records: records}, "", "  ")
	if err != nil {
		return queueError(err, "encode", q.path)
	}

	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return queueError(err, "persist", q.path)
	}
	tmp, err := os.CreateTemp(dir, ".pending-*.json")
	if err != nil {
		return queueError(err, "persist", q.path)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return queueError(err, "persist", q.path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return queueError(err, "persist", q.path)
	}
	if err := tmp.Close(); err != nil {
		return queueError(err, "persist", q.path)
	}
	if err := os.Rename(tmpName, q.path); err != nil {
		return queueError(err, "persist", q.path)
	}
	return nil
}

func queueError(err error, operation, path string) error {
	return errors.New(err).
		Component("transfer").
		Category(errors.CategoryQueue).
		Priority(errors.PriorityHigh).
		Context("operation", operation).
		Context("path", path).
		Build()
}
