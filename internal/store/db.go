package store

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the SQLite DSN and migrates every model in AllModels.
// Mirrors the pack's v2 SQLiteManager.Initialize pattern: open, then
// AutoMigrate, with GORM's own query logging silenced in favor of this
// repo's structured logger at the call sites that matter.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return db, nil
}
