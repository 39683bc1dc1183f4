package util

import (
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func createDatabaseInstance(cfg *gorm.Config, driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	case "pg":
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	if dsn == "" {
		dsn = "file::memory:"
	}
	return gorm.Open(sqlite.Open(dsn), cfg)
}

// OpenDatabase opens the configured database. driver is "mysql", "pg"
// or anything else for sqlite; an empty DSN means in-memory sqlite.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	return createDatabaseInstance(&gorm.Config{}, driver, dsn)
}
