package reconcile

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/transfer"
)

var _ transfer.Handler = (*Reconciler)(nil)

// ReceiveTransfer stores one delivered transfer record. Delivery is
// at-least-once, so a record whose id is already stored, or was received
// within the dedup window, is reported as a duplicate and nothing is
// written. Missing or malformed ids are replaced.
func (r *Reconciler) ReceiveTransfer(ctx context.Context, env transfer.Envelope) (transfer.ReceiveResult, error) {
	rec := env.Record
	if err := rec.Validate(); err != nil {
		return transfer.ReceiveResult{}, errors.New(errors.Join(transfer.ErrMalformedRecord, err)).
			Component("reconcile").
			Category(errors.CategoryValidation).
			Context("record_id", rec.ID).
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	original := strings.TrimSpace(rec.ID)
	if original != "" {
		if stored, ok := r.recent.Get(original); ok {
			return transfer.ReceiveResult{RecordID: stored.(string), OriginalID: original, Duplicate: true}, nil
		}
	}

	result := transfer.ReceiveResult{OriginalID: original}
	id, ok := canonicalID(original)
	if ok {
		exists, err := r.store.RecordExists(ctx, id)
		if err != nil {
			return transfer.ReceiveResult{}, err
		}
		if exists {
			r.remember(original, id)
			result.RecordID = id
			result.Duplicate = true
			return result, nil
		}
	} else {
		id = uuid.NewString()
		result.Remapped = true
	}

	record := &datastore.Record{
		ID:                 id,
		Latitude:           rec.Latitude,
		Longitude:          rec.Longitude,
		HorizontalAccuracy: rec.HorizontalAccuracy,
		Altitude:           rec.Altitude,
		Species:            strings.TrimSpace(rec.Species),
		Variety:            trimmed(rec.Variety),
		Rootstock:          trimmed(rec.Rootstock),
		CreatedAt:          rec.CreatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now().UTC()
	}
	if text := strings.TrimSpace(rec.Note); text != "" {
		record.Notes = []datastore.Note{{RecordID: id, Text: text, CreatedAt: record.CreatedAt}}
	}

	if err := r.store.CreateRecord(ctx, record); err != nil {
		return transfer.ReceiveResult{}, err
	}
	r.remember(original, id)
	result.RecordID = id

	r.log.Debug("transfer record stored",
		logger.String("record_id", id),
		logger.Bool("remapped", result.Remapped))
	return result, nil
}

func (r *Reconciler) remember(original, id string) {
	if original != "" {
		r.recent.Set(original, id, cache.DefaultExpiration)
	}
	r.recent.Set(id, id, cache.DefaultExpiration)
}
