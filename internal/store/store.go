// Package store opens the relational database that backs the ledger, the review
// queue and the sync outbox.
package store

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tourney-registry/internal/models"
)

const (
	TeamCounter = "team"
	SettingsID  = 1
)

// Open picks the driver from the DSN: postgres:// or postgresql:// URLs and
// key=value strings go to Postgres, anything else is treated as a SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
	if isPostgres(dsn) {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	}

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite has one writer; a single connection serializes transactions instead
	// of failing them with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Migrate creates the schema and seeds the rows the ledger depends on.
func Migrate(db *gorm.DB, defaults models.Settings) error {
	err := db.AutoMigrate(
		&models.Team{},
		&models.Counter{},
		&models.PaymentProof{},
		&models.PaymentAudit{},
		&models.Settings{},
		&models.OutboxEvent{},
		&models.DLQ{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Counter{Name: TeamCounter, Value: 0}).Error; err != nil {
		return fmt.Errorf("seed counter: %w", err)
	}
	defaults.ID = SettingsID
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error; err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}
