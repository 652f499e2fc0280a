package migrations

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Column describes one column of a SQLite table, as reported by
// PRAGMA table_info.
type Column struct {
	CID     int     `gorm:"column:cid"`
	Name    string  `gorm:"column:name"`
	Type    string  `gorm:"column:type"`
	NotNull bool    `gorm:"column:notnull"`
	Default *string `gorm:"column:dflt_value"`
	PK      int     `gorm:"column:pk"`
}

// Index describes one index of a SQLite table, as reported by
// PRAGMA index_list.
type Index struct {
	Seq     int    `gorm:"column:seq"`
	Name    string `gorm:"column:name"`
	Unique  bool   `gorm:"column:unique"`
	Origin  string `gorm:"column:origin"`
	Partial bool   `gorm:"column:partial"`
}

// Inspector reads SQLite schema metadata. Migration preconditions use it
// to detect legacy layouts.
type Inspector struct {
	db *gorm.DB
}

// NewInspector wraps an open database.
func NewInspector(db *gorm.DB) *Inspector {
	return &Inspector{db: db}
}

// HasTable reports whether the table exists.
func (i *Inspector) HasTable(ctx context.Context, table string) (bool, error) {
	var count int64
	err := i.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).
		Scan(&count).Error
	if err != nil {
		return false, wrapInspectError(table, err)
	}
	return count > 0, nil
}

// Columns returns the table's columns.
func (i *Inspector) Columns(ctx context.Context, table string) ([]Column, error) {
	var columns []Column
	err := i.db.WithContext(ctx).
		Raw(fmt.Sprintf("PRAGMA table_info(%q)", table)).
		Scan(&columns).Error
	if err != nil {
		return nil, wrapInspectError(table, err)
	}
	return columns, nil
}

// Column returns the named column, if the table has it.
func (i *Inspector) Column(ctx context.Context, table, name string) (*Column, bool, error) {
	columns, err := i.Columns(ctx, table)
	if err != nil {
		return nil, false, err
	}
	for idx := range columns {
		if columns[idx].Name == name {
			return &columns[idx], true, nil
		}
	}
	return nil, false, nil
}

// Indexes returns the table's indexes.
func (i *Inspector) Indexes(ctx context.Context, table string) ([]Index, error) {
	var indexes []Index
	err := i.db.WithContext(ctx).
		Raw(fmt.Sprintf("PRAGMA index_list(%q)", table)).
		Scan(&indexes).Error
	if err != nil {
		return nil, wrapInspectError(table, err)
	}
	return indexes, nil
}

func wrapInspectError(table string, err error) error {
	return fmt.Errorf("failed to inspect table %s, database is corrupt or in use: %w", table, err)
}
