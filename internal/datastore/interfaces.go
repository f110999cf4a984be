// Package datastore persists records, groups, notes and photo metadata with GORM.
package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/observability/metrics"
)

// Interface defines the record store operations.
type Interface interface {
	Open() error
	Close() error

	CreateRecord(ctx context.Context, record *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
	RecordExists(ctx context.Context, id string) (bool, error)
	ExistingRecordIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	UpdateRecord(ctx context.Context, id string, edit RecordEdit) (*Record, error)
	DeleteRecords(ctx context.Context, ids []string) ([]string, error)

	AddNote(ctx context.Context, recordID, text string) (*Note, error)
	AddPhoto(ctx context.Context, photo *Photo) error

	CreateGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context) ([]GroupSummary, error)
	RenameGroup(ctx context.Context, id, name string) (*Group, error)
	AssignGroup(ctx context.Context, recordID string, groupID *string) error
	DeleteGroup(ctx context.Context, id string) error

	ImportBatch(ctx context.Context, batch *ImportBatch) error
}

// DataStore implements Interface on top of a GORM connection.
// Mutations are serialized through writeMu so there is exactly one writer
// at a time regardless of which goroutine calls in.
type DataStore struct {
	DB      *gorm.DB
	log     logger.Logger
	metrics *metrics.DatastoreMetrics
	writeMu sync.Mutex
}

// New creates a store for the configured backend. Call Open before use.
func New(settings *conf.Settings, log logger.Logger) (Interface, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module("datastore")

	switch settings.Store.Type {
	case "sqlite", "":
		return &SQLiteStore{DataStore: DataStore{log: log}, Settings: settings}, nil
	case "mysql":
		return &MySQLStore{DataStore: DataStore{log: log}, Settings: settings}, nil
	default:
		return nil, fmt.Errorf("unsupported store type %q", settings.Store.Type)
	}
}

// NewWithDB wraps an already open GORM handle and migrates the schema.
func NewWithDB(db *gorm.DB, log logger.Logger) (*DataStore, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	ds := &DataStore{DB: db, log: log}
	if err := performAutoMigration(db, log); err != nil {
		return nil, err
	}
	return ds, nil
}

// SetMetrics attaches datastore metrics. Nil disables recording.
func (ds *DataStore) SetMetrics(m *metrics.DatastoreMetrics) {
	ds.metrics = m
}

// Close closes the underlying connection pool
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close", "")
	}
	return sqlDB.Close()
}

// performAutoMigration creates or updates the schema
func performAutoMigration(db *gorm.DB, log logger.Logger) error {
	if err := db.AutoMigrate(&Group{}, &Record{}, &Note{}, &Photo{}); err != nil {
		return dbError(err, "auto_migrate", "critical")
	}
	log.Debug("schema migrated")
	return nil
}

// observe records metrics for one operation; call with defer.
func (ds *DataStore) observe(operation string, start time.Time, err *error) {
	if ds.metrics == nil {
		return
	}
	ds.metrics.RecordDuration(operation, time.Since(start).Seconds())
	if err != nil && *err != nil {
		ds.metrics.RecordOperation(operation, metrics.StatusError)
		ds.metrics.RecordError(operation, errorType(*err))
		return
	}
	ds.metrics.RecordOperation(operation, metrics.StatusSuccess)
}

func (ds *DataStore) observeTx(err error) {
	if ds.metrics == nil {
		return
	}
	if err != nil {
		ds.metrics.RecordTransaction("rollback")
		return
	}
	ds.metrics.RecordTransaction("committed")
}

func errorType(err error) string {
	switch {
	case isNotFound(err):
		return "not_found"
	case isInvalid(err):
		return "validation"
	default:
		return "database"
	}
}

func (ds *DataStore) checkOpen() error {
	if ds.DB == nil {
		return ErrNotOpen
	}
	return nil
}
