package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/observability/metrics"
)

// ImportBatch writes groups and records, with their notes and photo rows,
// in a single transaction. On error nothing from the batch is stored.
func (ds *DataStore) ImportBatch(ctx context.Context, batch *ImportBatch) (err error) {
	defer ds.observe(metrics.OpImportBatch, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return err
	}
	if batch == nil || (len(batch.Groups) == 0 && len(batch.Records) == 0) {
		return nil
	}

	for _, record := range batch.Records {
		if err := ValidatePosition(record.Latitude, record.Longitude, record.HorizontalAccuracy); err != nil {
			return err
		}
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
	}
	for _, group := range batch.Groups {
		if group.ID == "" {
			group.ID = uuid.NewString()
		}
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, group := range batch.Groups {
			if err := tx.Omit("Records").Create(group).Error; err != nil {
				return err
			}
		}
		for _, record := range batch.Records {
			if err := tx.Create(record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	ds.observeTx(err)
	if err != nil {
		return dbError(err, "import_batch", errors.PriorityHigh,
			"groups", len(batch.Groups),
			"records", len(batch.Records))
	}

	ds.log.Info("import batch committed",
		logger.Int("groups", len(batch.Groups)),
		logger.Int("records", len(batch.Records)))
	return nil
}
