package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/audiohub/audiohub-go/internal/conf"
)

// MySQLStore implements the datastore interface for MySQL.
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func validateMySQLConfig(settings *conf.Settings) error {
	c := settings.Output.MySQL
	if c.Username == "" || c.Database == "" || c.Host == "" {
		return validationError("mysql requires username, database, and host", "output.mysql", c.Host)
	}
	return nil
}

func mysqlDSN(c conf.MySQLSettings) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// Open sets up the MySQL database connection and migrates the schema.
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	c := store.Settings.Output.MySQL
	db, err := gorm.Open(mysql.Open(mysqlDSN(c)), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		getLogger().Error("failed to open mysql database",
			"host", c.Host, "port", c.Port, "database", c.Database, "error", err)
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}
	store.DB = db

	// Keep credentials out of the migration log.
	connectionInfo := fmt.Sprintf("%s:%s/%s", c.Host, c.Port, c.Database)
	return performAutoMigration(db, store.Settings.Debug, "MySQL", connectionInfo)
}

// Close closes the MySQL database connections.
func (store *MySQLStore) Close() error {
	if err := closePool(store.DB); err != nil {
		getLogger().Error("failed to close mysql database", "error", err)
		return err
	}
	return nil
}
