package datastore

import (
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/logger"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// mysqlDSN builds a DSN with parseTime enabled so DATETIME scans into time.Time.
func mysqlDSN(s *conf.MySQLSettings) string {
	cfg := mysql.NewConfig()
	cfg.User = s.Username
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, s.Port)
	cfg.DBName = s.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to MySQL and migrates the schema.
func (store *MySQLStore) Open() error {
	dsn := mysqlDSN(&store.Settings.Store.MySQL)

	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(store.log, store.Settings.Store.SlowQuery),
	})
	if err != nil {
		return dbError(err, "open", "critical",
			"host", store.Settings.Store.MySQL.Host,
			"database", store.Settings.Store.MySQL.Database)
	}

	store.DB = db
	store.log.Info("connected to mysql",
		logger.String("host", store.Settings.Store.MySQL.Host),
		logger.String("database", store.Settings.Store.MySQL.Database))
	return performAutoMigration(db, store.log)
}
