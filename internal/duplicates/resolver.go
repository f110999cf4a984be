package duplicates

import (
	"context"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/photostore"
)

// Result reports a committed deletion.
type Result struct {
	Deleted      int      `json:"deleted"`
	BlobsDeleted int      `json:"blobsDeleted"`
	Missing      []string `json:"missing,omitempty"`
}

// Resolver loads duplicate sets from the store and commits selections.
type Resolver struct {
	store  datastore.Interface
	photos photostore.Store
	log    logger.Logger
	opts   []Option
}

// NewResolver creates a Resolver. photos may be nil when no blobs exist.
// opts are passed to Find.
func NewResolver(store datastore.Interface, photos photostore.Store, log logger.Logger, opts ...Option) *Resolver {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Resolver{store: store, photos: photos, log: log.Module("duplicates"), opts: opts}
}

// Sets returns the current duplicate sets among records matching filter.
func (r *Resolver) Sets(ctx context.Context, filter datastore.RecordFilter) ([]Set, error) {
	filter.WithAttachments = true
	records, err := r.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Find(records, r.opts...), nil
}

// Commit deletes exactly the selected records with their notes and photos.
// Records that no longer exist are reported as missing. Blob cleanup runs
// after the records are gone; a blob that cannot be removed is logged and
// returned as an error next to the result.
func (r *Resolver) Commit(ctx context.Context, sel *Selection) (*Result, error) {
	result := &Result{}
	if sel == nil || sel.Len() == 0 {
		return result, nil
	}

	ids := sel.IDs()
	existing, err := r.store.ExistingRecordIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(existing))
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			targets = append(targets, id)
		} else {
			result.Missing = append(result.Missing, id)
		}
	}
	if len(targets) == 0 {
		return result, nil
	}

	keys, err := r.store.DeleteRecords(ctx, targets)
	if err != nil {
		return nil, err
	}
	result.Deleted = len(targets)

	r.log.Info("duplicate records deleted",
		logger.Int("deleted", result.Deleted),
		logger.Int("missing", len(result.Missing)),
		logger.Int("blobs", len(keys)))

	if len(keys) == 0 || r.photos == nil {
		return result, nil
	}
	if err := photostore.DeleteAll(ctx, r.photos, keys); err != nil {
		r.log.Warn("some photo blobs were not removed", logger.Error(err))
		return result, errors.New(err).
			Component("duplicates").
			Category(errors.CategoryPhotoStore).
			Context("records", result.Deleted).
			Build()
	}
	result.BlobsDeleted = len(keys)
	return result, nil
}
