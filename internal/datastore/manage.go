// manage.go database schema migration management
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// performAutoMigration creates or updates the schema for every stored
// entity. GORM adds missing tables, columns, and indexes; it never drops
// existing ones.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	start := time.Now()
	logger := getLogger().With("db_type", dbType)

	if debug {
		logger.Debug("starting database migration", "connection", connectionInfo)
	}

	if err := db.AutoMigrate(&TaskRecord{}, &StepRecord{}, &HealthSnapshot{}); err != nil {
		return dbError(err, "auto_migration", "db_type", dbType)
	}

	logger.Debug("database migration complete", "duration", time.Since(start))
	return nil
}

// closePool shuts down the connection pool behind a GORM handle.
func closePool(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("retrieving connection pool: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("closing connection pool: %w", err)
	}
	return nil
}
