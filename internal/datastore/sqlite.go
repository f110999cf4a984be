package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/logger"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open opens the SQLite database, enables foreign keys and migrates the schema.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Store.SQLite.Path
	if path == "" {
		return validationError("sqlite path is required", "store.sqlite.path", path)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return dbError(err, "open", "critical", "path", path)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(store.log, store.Settings.Store.SlowQuery),
	})
	if err != nil {
		return dbError(fmt.Errorf("failed to open SQLite database: %w", err), "open", "critical", "path", path)
	}

	// SQLite allows one writer; a single connection also keeps :memory:
	// databases from being split across pool connections.
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "open", "critical")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return dbError(err, "enable_foreign_keys", "high")
	}

	store.DB = db
	store.log.Info("opened sqlite database", logger.String("path", path))
	return performAutoMigration(db, store.log)
}

// OpenInMemory opens a private in-memory SQLite store. The data is lost
// when the store is closed.
func OpenInMemory(log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	settings := &conf.Settings{}
	settings.Store.Type = "sqlite"
	settings.Store.SQLite.Path = ":memory:"

	store := &SQLiteStore{DataStore: DataStore{log: log.Module("datastore")}, Settings: settings}
	if err := store.Open(); err != nil {
		return nil, err
	}
	return store, nil
}
