// Package reconcile merges foreign interchange documents and received
// transfers into the local record store without reusing identifiers that
// are already taken.
package reconcile

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/interchange"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/observability/metrics"
	"github.com/philipwilson/trees/internal/photostore"
)

// Import formats accepted by ImportData.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatGPX  = "gpx"
)

// ErrUnsupportedFormat is returned for files that are not JSON, CSV or GPX.
var ErrUnsupportedFormat = errors.NewStd("unsupported import format")

const defaultGroupName = "Imported group"

// SkippedRecord describes a record that failed validation.
type SkippedRecord struct {
	Index      int    `json:"index"`
	OriginalID string `json:"originalId,omitempty"`
	Reason     string `json:"reason"`
}

// Summary reports what an import stored. It is only returned after the
// batch committed.
type Summary struct {
	Format         string          `json:"format"`
	Imported       int             `json:"imported"`
	Skipped        int             `json:"skipped"`
	Remapped       int             `json:"remapped"`
	Minted         int             `json:"minted"`
	PhotosImported int             `json:"photosImported"`
	PhotosSkipped  int             `json:"photosSkipped"`
	GroupsCreated  int             `json:"groupsCreated"`
	Outcomes       []IDOutcome     `json:"outcomes"`
	SkippedRecords []SkippedRecord `json:"skippedRecords,omitempty"`
}

// Reconciler imports documents and transfers into the store. Imports and
// transfer receipts are serialized: identifier resolution and the commit
// that depends on it never interleave.
type Reconciler struct {
	mu     sync.Mutex
	store  datastore.Interface
	photos photostore.Store
	log    logger.Logger

	metrics          *metrics.ImportMetrics
	photoConcurrency int64
	maxPhotoBytes    int64
	recent           *cache.Cache
	now              func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithMetrics attaches import metrics.
func WithMetrics(m *metrics.ImportMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithPhotoConcurrency bounds the number of photo blob writes in flight.
func WithPhotoConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.photoConcurrency = int64(n)
		}
	}
}

// WithMaxPhotoBytes skips decoded photos larger than n bytes. Zero disables
// the limit.
func WithMaxPhotoBytes(n int64) Option {
	return func(r *Reconciler) { r.maxPhotoBytes = n }
}

// WithDedupWindow sets how long received transfer ids are remembered.
func WithDedupWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.recent = cache.New(d, 2*d)
		}
	}
}

// WithClock overrides the time source for records without timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler.
func New(store datastore.Interface, photos photostore.Store, log logger.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	r := &Reconciler{
		store:            store,
		photos:           photos,
		log:              log.Module("reconcile"),
		photoConcurrency: conf.DefaultPhotoConcurrency,
		recent:           cache.New(24*time.Hour, 48*time.Hour),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromSettings creates a Reconciler configured from the import settings.
func NewFromSettings(settings *conf.Settings, store datastore.Interface, photos photostore.Store, log logger.Logger, opts ...Option) *Reconciler {
	base := []Option{
		WithPhotoConcurrency(settings.Import.PhotoConcurrency),
		WithMaxPhotoBytes(settings.Import.MaxPhotoBytes),
		WithDedupWindow(settings.Import.DedupWindow),
	}
	return New(store, photos, log, append(base, opts...)...)
}

// FormatFromPath maps a file extension to an import format.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	case ".gpx":
		return FormatGPX, nil
	default:
		return "", errors.New(fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))).
			Component("reconcile").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
}

// ImportFile reads path and imports it in the format its extension names.
func (r *Reconciler) ImportFile(ctx context.Context, path string) (*Summary, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("reconcile").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	summary, err := r.ImportData(ctx, data, format)
	if err != nil {
		return nil, err
	}
	r.log.Info("import file processed",
		logger.String("path", path),
		logger.Int("imported", summary.Imported),
		logger.Int("skipped", summary.Skipped))
	return summary, nil
}

// ImportData parses data in the given format and imports it. A document
// that does not parse fails as a whole.
func (r *Reconciler) ImportData(ctx context.Context, data []byte, format string) (*Summary, error) {
	var (
		doc   *interchange.Document
		label = format
		err   error
	)
	switch format {
	case FormatJSON:
		var shape interchange.Shape
		doc, shape, err = interchange.Parse(data)
		label = shape.String()
	case FormatCSV:
		var records []interchange.RecordDoc
		records, err = interchange.ReadCSV(bytes.NewReader(data))
		doc = &interchange.Document{Records: records}
	case FormatGPX:
		var records []interchange.RecordDoc
		records, err = interchange.ReadGPX(bytes.NewReader(data))
		doc = &interchange.Document{Records: records}
	default:
		err = errors.New(fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)).
			Component("reconcile").
			Category(errors.CategoryValidation).
			Build()
	}
	if err != nil {
		r.recordRun(metrics.StatusError, time.Now())
		return nil, err
	}

	summary, err := r.Import(ctx, doc)
	if err != nil {
		return nil, err
	}
	summary.Format = label
	return summary, nil
}

// photoJob is one base64 payload waiting to be written.
type photoJob struct {
	record  int
	payload string
	takenAt time.Time
}

// Import merges doc into the store. Groups are always created fresh,
// invalid records and undecodable photos are skipped and counted, and
// identifiers that are malformed or already taken are replaced. Nothing is
// reported as imported unless the final commit succeeds; on commit failure
// the photo blobs written for the batch are deleted again.
func (r *Reconciler) Import(ctx context.Context, doc *interchange.Document) (*Summary, error) {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := &Summary{Outcomes: []IDOutcome{}}
	batch := &datastore.ImportBatch{}

	groupIDs := r.planGroups(doc.Groups, batch)
	summary.GroupsCreated = len(batch.Groups)

	existing, err := r.existingIDs(ctx, doc.Records)
	if err != nil {
		r.recordRun(metrics.StatusError, start)
		return nil, err
	}
	used := make(map[string]bool, len(doc.Records))
	taken := func(id string) bool {
		_, stored := existing[id]
		return stored || used[id]
	}

	var jobs []photoJob
	for i := range doc.Records {
		rd := &doc.Records[i]
		if err := datastore.ValidatePosition(rd.Latitude, rd.Longitude, rd.HorizontalAccuracy); err != nil {
			summary.Skipped++
			summary.SkippedRecords = append(summary.SkippedRecords, SkippedRecord{
				Index:      i,
				OriginalID: rd.ID,
				Reason:     err.Error(),
			})
			continue
		}

		outcome := resolveID(rd.ID, taken)
		used[outcome.ID] = true
		summary.Outcomes = append(summary.Outcomes, outcome)
		switch outcome.Kind {
		case IDRemapped:
			summary.Remapped++
		case IDMinted:
			summary.Minted++
		}

		record := r.recordFromDoc(rd, outcome.ID)
		if rd.CollectionID != nil {
			if gid, ok := groupIDs[*rd.CollectionID]; ok {
				record.GroupID = &gid
			}
		}
		batch.Records = append(batch.Records, record)

		for j, payload := range rd.Photos {
			takenAt := record.CreatedAt
			if j < len(rd.PhotoDates) && !rd.PhotoDates[j].IsZero() {
				takenAt = rd.PhotoDates[j]
			}
			jobs = append(jobs, photoJob{record: len(batch.Records) - 1, payload: payload, takenAt: takenAt})
		}
	}

	photos, skippedPhotos, err := r.writePhotos(ctx, batch.Records, jobs)
	summary.PhotosSkipped = skippedPhotos
	if err != nil {
		r.discardBlobs(photos)
		r.recordRun(metrics.StatusError, start)
		return nil, err
	}
	for i, photo := range photos {
		if photo == nil {
			continue
		}
		rec := batch.Records[jobs[i].record]
		rec.Photos = append(rec.Photos, *photo)
		summary.PhotosImported++
	}

	if err := r.store.ImportBatch(ctx, batch); err != nil {
		r.discardBlobs(photos)
		r.recordRun(metrics.StatusError, start)
		r.log.Error("import commit failed, written photos removed",
			logger.Int("records", len(batch.Records)),
			logger.Int("photos", summary.PhotosImported),
			logger.Error(err))
		return nil, err
	}

	summary.Imported = len(batch.Records)
	r.recordSummary(summary)
	r.recordRun(metrics.StatusSuccess, start)
	r.log.Info("import committed",
		logger.Int("imported", summary.Imported),
		logger.Int("skipped", summary.Skipped),
		logger.Int("remapped", summary.Remapped),
		logger.Int("photos_imported", summary.PhotosImported),
		logger.Int("photos_skipped", summary.PhotosSkipped),
		logger.Int("groups_created", summary.GroupsCreated))
	return summary, nil
}

// planGroups adds one new group per declared group to batch and maps the
// document-local ids to the new ones. A repeated local id maps to its
// first declaration.
func (r *Reconciler) planGroups(groups []interchange.GroupDoc, batch *datastore.ImportBatch) map[string]string {
	ids := make(map[string]string, len(groups))
	for _, gd := range groups {
		name := strings.TrimSpace(gd.Name)
		if name == "" {
			name = defaultGroupName
		}
		group := &datastore.Group{
			ID:        uuid.NewString(),
			Name:      name,
			CreatedAt: gd.CreatedAt,
			UpdatedAt: gd.UpdatedAt,
		}
		batch.Groups = append(batch.Groups, group)
		if _, dup := ids[gd.ID]; gd.ID != "" && !dup {
			ids[gd.ID] = group.ID
		}
	}
	return ids
}

func (r *Reconciler) existingIDs(ctx context.Context, records []interchange.RecordDoc) (map[string]struct{}, error) {
	candidates := make([]string, 0, len(records))
	for i := range records {
		if id, ok := canonicalID(records[i].ID); ok {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return map[string]struct{}{}, nil
	}
	return r.store.ExistingRecordIDs(ctx, candidates)
}

func (r *Reconciler) recordFromDoc(rd *interchange.RecordDoc, id string) *datastore.Record {
	created := rd.CreatedAt
	if created.IsZero() {
		created = r.now().UTC()
	}
	updated := rd.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	record := &datastore.Record{
		ID:                 id,
		Latitude:           rd.Latitude,
		Longitude:          rd.Longitude,
		HorizontalAccuracy: rd.HorizontalAccuracy,
		Altitude:           rd.Altitude,
		Species:            strings.TrimSpace(rd.Species),
		Variety:            trimmed(rd.Variety),
		Rootstock:          trimmed(rd.Rootstock),
		CreatedAt:          created,
		UpdatedAt:          updated,
	}
	if text := strings.TrimSpace(rd.Notes); text != "" {
		record.Notes = []datastore.Note{{RecordID: id, Text: text, CreatedAt: created}}
	}
	return record
}

// writePhotos decodes and stores the photo payloads with at most
// photoConcurrency writes in flight. The result is indexed like jobs; a nil
// entry is a skipped photo. A storage failure aborts the whole batch, and
// the photos already written are still returned so they can be removed.
func (r *Reconciler) writePhotos(ctx context.Context, records []*datastore.Record, jobs []photoJob) ([]*datastore.Photo, int, error) {
	results := make([]*datastore.Photo, len(jobs))
	if len(jobs) == 0 {
		return results, 0, nil
	}
	if r.photos == nil {
		return results, len(jobs), nil
	}

	skipped := make([]bool, len(jobs))
	sem := semaphore.NewWeighted(r.photoConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	for i := range jobs {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			job := jobs[i]
			recordID := records[job.record].ID

			data, err := decodePhoto(job.payload)
			if err != nil {
				skipped[i] = true
				r.log.Warn("skipping undecodable photo",
					logger.String("record_id", recordID),
					logger.Error(err))
				return nil
			}
			if r.maxPhotoBytes > 0 && int64(len(data)) > r.maxPhotoBytes {
				skipped[i] = true
				r.log.Warn("skipping oversized photo",
					logger.String("record_id", recordID),
					logger.Int("bytes", len(data)))
				return nil
			}

			if r.metrics != nil {
				r.metrics.PhotoWriteStarted()
				defer r.metrics.PhotoWriteFinished()
			}
			contentType := photostore.DetectContentType(data)
			key := photostore.NewKey(recordID, contentType)
			if err := r.photos.Put(gctx, key, data, contentType); err != nil {
				return err
			}
			results[i] = &datastore.Photo{
				RecordID:    recordID,
				BlobKey:     key,
				ContentType: contentType,
				Size:        int64(len(data)),
				TakenAt:     job.takenAt,
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	count := 0
	for _, s := range skipped {
		if s {
			count++
		}
	}
	if err != nil {
		return results, count, errors.New(err).
			Component("reconcile").
			Category(errors.CategoryPhotoStore).
			Priority(errors.PriorityHigh).
			Context("photos", len(jobs)).
			Build()
	}
	return results, count, nil
}

// decodePhoto accepts plain base64 and data URIs.
func decodePhoto(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i >= 0 {
			payload = payload[i+1:]
		}
	}
	if payload == "" {
		return nil, fmt.Errorf("empty photo payload")
	}
	return base64.StdEncoding.DecodeString(payload)
}

// discardBlobs removes blobs written for a batch that was not committed.
func (r *Reconciler) discardBlobs(photos []*datastore.Photo) {
	var keys []string
	for _, p := range photos {
		if p != nil {
			keys = append(keys, p.BlobKey)
		}
	}
	if len(keys) == 0 || r.photos == nil {
		return
	}
	// The caller's context may already be cancelled.
	if err := photostore.DeleteAll(context.Background(), r.photos, keys); err != nil {
		r.log.Error("failed to remove photos of an aborted import",
			logger.Int("photos", len(keys)),
			logger.Error(err))
	}
}

func (r *Reconciler) recordRun(status string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordRun(status, time.Since(start).Seconds())
	}
}

func (r *Reconciler) recordSummary(s *Summary) {
	if r.metrics == nil {
		return
	}
	r.metrics.AddRecords("imported", s.Imported)
	r.metrics.AddRecords("skipped", s.Skipped)
	r.metrics.AddRecords("remapped", s.Remapped)
	r.metrics.AddPhotos("imported", s.PhotosImported)
	r.metrics.AddPhotos("skipped", s.PhotosSkipped)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
