// Package database opens the embedded per-store SQLite databases.
//
// The daemon keeps one database file per logical store under the data
// directory. The migrator must run against these files before any store
// opens them.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Well-known database file names under the data directory.
const (
	SearchFile    = "search.db"
	TransfersFile = "transfers.db"
	MessagingFile = "messaging.db"
	EventsFile    = "events.db"
)

// Files lists every known database file name, in a stable order.
func Files() []string {
	return []string{SearchFile, TransfersFile, MessagingFile, EventsFile}
}

// Config locates the databases on disk.
type Config struct {
	// DataDir is the directory holding the database files.
	DataDir string
}

// Path returns the absolute path of a named database file.
func (c *Config) Path(file string) string {
	return filepath.Join(c.DataDir, file)
}

// Open opens one of the daemon's SQLite databases, creating the data
// directory when needed.
//
// SQLite pragmas:
//   - journal_mode(WAL): concurrent readers with a single writer
//   - busy_timeout(5000): wait up to 5 seconds when the database is locked
func Open(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	return db, nil
}

// OpenMemory opens a throwaway in-memory database for tests.
func OpenMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	return db, nil
}
