package database

import (
	"fmt"

	"github.com/ctrl-labs/ctrl-gateway/internal/config"
	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"gorm.io/driver/clickhouse"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type DB struct {
	*gorm.DB
	driverName string
}

func New(cfg config.DatabaseConfig) (*DB, error) {
	var (
		dialector gorm.Dialector
		driver    string
	)

	switch cfg.Driver {
	case "postgres":
		dialector, driver = postgres.Open(cfg.DSN), "postgres"
	case "mysql":
		dialector, driver = mysql.Open(cfg.DSN), "mysql"
	case "sqlite":
		dialector, driver = sqlite.Open(cfg.DSN), "sqlite3"
	case "clickhouse":
		dialector, driver = clickhouse.Open(cfg.DSN), "clickhouse"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}

	db := &DB{DB: gormDB, driverName: driver}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Driver, err)
	}

	return db, nil
}

// AutoMigrate creates the gateway tables.
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&models.Account{},
		&models.APIKey{},
		&models.TierConfig{},
		&models.UpstreamCredential{},
		&models.UsageLogEntry{},
	)
}

func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (db *DB) Ping() error {
	if db.DB == nil {
		return fmt.Errorf("database not connected")
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (db *DB) DriverName() string {
	return db.driverName
}
