package datastore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/observability/metrics"
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrGroupNotFound) || errors.IsNotFound(err)
}

func isInvalid(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// preloadAttachments loads record-level photos and notes with their photos.
func preloadAttachments(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Photos", "note_id IS NULL").
		Preload("Notes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Notes.Photos")
}

// CreateRecord validates and inserts a record with its notes and photos.
// A missing ID is minted.
func (ds *DataStore) CreateRecord(ctx context.Context, record *Record) (err error) {
	defer ds.observe(metrics.OpRecordCreate, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return err
	}
	if err := ValidatePosition(record.Latitude, record.Longitude, record.HorizontalAccuracy); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if record.GroupID != nil {
			if err := requireGroup(tx, *record.GroupID); err != nil {
				return err
			}
		}
		return tx.Create(record).Error
	})
	ds.observeTx(err)
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return dbError(err, "create_record", errors.PriorityHigh, "record_id", record.ID)
	}

	ds.log.Debug("record created", logger.String("record_id", record.ID))
	return nil
}

// GetRecord loads one record with its attachments.
func (ds *DataStore) GetRecord(ctx context.Context, id string) (_ *Record, err error) {
	defer ds.observe(metrics.OpRecordGet, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return nil, err
	}

	var record Record
	if err := preloadAttachments(ds.DB.WithContext(ctx)).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError(ErrRecordNotFound, "record", id)
		}
		return nil, dbError(err, "get_record", "", "record_id", id)
	}
	return &record, nil
}

// ListRecords returns records matching filter ordered by creation time.
func (ds *DataStore) ListRecords(ctx context.Context, filter RecordFilter) (_ []Record, err error) {
	defer ds.observe(metrics.OpRecordList, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return nil, err
	}

	query := ds.DB.WithContext(ctx).Model(&Record{})
	if filter.WithAttachments {
		query = preloadAttachments(query)
	}
	switch {
	case filter.GroupID != nil:
		query = query.Where("group_id = ?", *filter.GroupID)
	case filter.Ungrouped:
		query = query.Where("group_id IS NULL")
	}
	if species := strings.TrimSpace(filter.Species); species != "" {
		query = query.Where("LOWER(species) = ?", strings.ToLower(species))
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("created_at < ?", filter.Until)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var records []Record
	if err := query.Order("created_at ASC, id ASC").Find(&records).Error; err != nil {
		return nil, dbError(err, "list_records", "")
	}
	return records, nil
}

// RecordExists reports whether a record with id is stored.
func (ds *DataStore) RecordExists(ctx context.Context, id string) (bool, error) {
	found, err := ds.ExistingRecordIDs(ctx, []string{id})
	if err != nil {
		return false, err
	}
	_, ok := found[id]
	return ok, nil
}

// existingIDsChunk keeps IN clauses under SQLite's variable limit.
const existingIDsChunk = 500

// ExistingRecordIDs returns the subset of ids that are already stored.
func (ds *DataStore) ExistingRecordIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if err := ds.checkOpen(); err != nil {
		return nil, err
	}

	found := make(map[string]struct{}, len(ids))
	for start := 0; start < len(ids); start += existingIDsChunk {
		end := min(start+existingIDsChunk, len(ids))
		var hits []string
		if err := ds.DB.WithContext(ctx).Model(&Record{}).
			Where("id IN ?", ids[start:end]).
			Pluck("id", &hits).Error; err != nil {
			return nil, dbError(err, "existing_record_ids", "", "count", len(ids))
		}
		for _, id := range hits {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

// UpdateRecord applies a staged edit atomically. Either every change in
// edit is committed or none is.
func (ds *DataStore) UpdateRecord(ctx context.Context, id string, edit RecordEdit) (_ *Record, err error) {
	defer ds.observe(metrics.OpRecordUpdate, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return nil, err
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Record
		if err := tx.First(&record, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError(ErrRecordNotFound, "record", id)
			}
			return err
		}

		applyEdit(&record, &edit)
		if err := ValidatePosition(record.Latitude, record.Longitude, record.HorizontalAccuracy); err != nil {
			return err
		}
		if edit.GroupID != nil && !edit.ClearGroup {
			if err := requireGroup(tx, *edit.GroupID); err != nil {
				return err
			}
		}

		if err := tx.Model(&record).Select("*").Omit("Photos", "Notes", "CreatedAt").Updates(&record).Error; err != nil {
			return err
		}

		for _, text := range edit.AddNotes {
			if strings.TrimSpace(text) == "" {
				continue
			}
			if err := tx.Create(&Note{RecordID: id, Text: text}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	ds.observeTx(err)
	if err != nil {
		if isNotFound(err) || isInvalid(err) {
			return nil, err
		}
		return nil, dbError(err, "update_record", errors.PriorityHigh, "record_id", id)
	}

	return ds.getRecordLocked(ctx, id)
}

// getRecordLocked is GetRecord without metrics, for use after a write.
func (ds *DataStore) getRecordLocked(ctx context.Context, id string) (*Record, error) {
	var record Record
	if err := preloadAttachments(ds.DB.WithContext(ctx)).First(&record, "id = ?", id).Error; err != nil {
		return nil, dbError(err, "reload_record", "", "record_id", id)
	}
	return &record, nil
}

func applyEdit(record *Record, edit *RecordEdit) {
	if edit.Latitude != nil {
		record.Latitude = *edit.Latitude
	}
	if edit.Longitude != nil {
		record.Longitude = *edit.Longitude
	}
	if edit.HorizontalAccuracy != nil {
		record.HorizontalAccuracy = *edit.HorizontalAccuracy
	}
	switch {
	case edit.ClearAltitude:
		record.Altitude = nil
	case edit.Altitude != nil:
		record.Altitude = edit.Altitude
	}
	if edit.Species != nil {
		record.Species = strings.TrimSpace(*edit.Species)
	}
	switch {
	case edit.ClearVariety:
		record.Variety = nil
	case edit.Variety != nil:
		record.Variety = edit.Variety
	}
	switch {
	case edit.ClearRootstock:
		record.Rootstock = nil
	case edit.Rootstock != nil:
		record.Rootstock = edit.Rootstock
	}
	switch {
	case edit.ClearGroup:
		record.GroupID = nil
	case edit.GroupID != nil:
		record.GroupID = edit.GroupID
	}
}

// DeleteRecords deletes the given records with their notes and photo rows.
// It returns the blob keys the deleted photos referenced so the caller can
// remove the blobs. Unknown ids are ignored.
func (ds *DataStore) DeleteRecords(ctx context.Context, ids []string) (_ []string, err error) {
	defer ds.observe(metrics.OpRecordDelete, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	var blobKeys []string
	var deleted int64
	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(ids); start += existingIDsChunk {
			chunk := ids[start:min(start+existingIDsChunk, len(ids))]

			var keys []string
			if err := tx.Model(&Photo{}).Where("record_id IN ?", chunk).Pluck("blob_key", &keys).Error; err != nil {
				return err
			}
			blobKeys = append(blobKeys, keys...)

			if err := tx.Where("record_id IN ?", chunk).Delete(&Photo{}).Error; err != nil {
				return err
			}
			if err := tx.Where("record_id IN ?", chunk).Delete(&Note{}).Error; err != nil {
				return err
			}
			res := tx.Where("id IN ?", chunk).Delete(&Record{})
			if res.Error != nil {
				return res.Error
			}
			deleted += res.RowsAffected
		}
		return nil
	})
	ds.observeTx(err)
	if err != nil {
		return nil, dbError(err, "delete_records", errors.PriorityHigh, "count", len(ids))
	}

	if ds.metrics != nil {
		ds.metrics.AddRecordsDeleted(int(deleted))
	}
	ds.log.Info("records deleted",
		logger.Int64("deleted", deleted),
		logger.Int("photos", len(blobKeys)))
	return blobKeys, nil
}

// AddNote attaches a note to a record.
func (ds *DataStore) AddNote(ctx context.Context, recordID, text string) (_ *Note, err error) {
	defer ds.observe(metrics.OpNoteCreate, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, validationError("note text is empty", "text", text)
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	note := &Note{RecordID: recordID, Text: text}
	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRecord(tx, recordID); err != nil {
			return err
		}
		return tx.Create(note).Error
	})
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, dbError(err, "add_note", "", "record_id", recordID)
	}
	return note, nil
}

// AddPhoto stores photo metadata for an already written blob.
func (ds *DataStore) AddPhoto(ctx context.Context, photo *Photo) (err error) {
	defer ds.observe(metrics.OpPhotoCreate, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return err
	}
	if photo.BlobKey == "" {
		return validationError("photo blob key is empty", "blobKey", "")
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRecord(tx, photo.RecordID); err != nil {
			return err
		}
		if photo.NoteID != nil {
			var count int64
			if err := tx.Model(&Note{}).Where("id = ? AND record_id = ?", *photo.NoteID, photo.RecordID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return validationError("note does not belong to record", "noteId", *photo.NoteID)
			}
		}
		return tx.Create(photo).Error
	})
	if err != nil {
		if isNotFound(err) || isInvalid(err) {
			return err
		}
		return dbError(err, "add_photo", "", "record_id", photo.RecordID)
	}
	return nil
}

func requireRecord(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&Record{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFoundError(ErrRecordNotFound, "record", id)
	}
	return nil
}

func requireGroup(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&Group{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFoundError(ErrGroupNotFound, "group", id)
	}
	return nil
}
