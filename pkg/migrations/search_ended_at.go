package migrations

import (
	"context"
	"fmt"
	"os"

	"github.com/peerdaemon/peerd/pkg/database"
	"github.com/peerdaemon/peerd/pkg/search"
)

// SearchEndedAt adds the ended_at and counter columns to searches persisted
// by releases that only recorded start times, backfilling ended_at from
// started_at for rows that already reached a terminal state.
type SearchEndedAt struct {
	db *database.Config
}

// NewSearchEndedAt creates the migration.
func NewSearchEndedAt(db *database.Config) *SearchEndedAt {
	return &SearchEndedAt{db: db}
}

func (m *SearchEndedAt) Name() string {
	return "SearchEndedAt"
}

// searchColumns are the columns this migration adds, with their DDL types.
var searchColumns = []struct {
	name string
	ddl  string
}{
	{"ended_at", "datetime"},
	{"response_count", "integer NOT NULL DEFAULT 0"},
	{"file_count", "integer NOT NULL DEFAULT 0"},
	{"locked_file_count", "integer NOT NULL DEFAULT 0"},
}

// NeedsToBeApplied reports true when the searches table is missing any of
// the columns.
func (m *SearchEndedAt) NeedsToBeApplied(ctx context.Context) (bool, error) {
	path := m.db.Path(database.SearchFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	db, err := database.Open(path)
	if err != nil {
		return false, err
	}
	defer closeDB(db)

	inspector := NewInspector(db)
	exists, err := inspector.HasTable(ctx, "searches")
	if err != nil || !exists {
		return false, err
	}
	for _, col := range searchColumns {
		_, found, err := inspector.Column(ctx, "searches", col.name)
		if err != nil {
			return false, err
		}
		if !found {
			return true, nil
		}
	}
	return false, nil
}

// Apply adds the missing columns and backfills ended_at for terminal rows.
func (m *SearchEndedAt) Apply(ctx context.Context) error {
	db, err := database.Open(m.db.Path(database.SearchFile))
	if err != nil {
		return err
	}
	defer closeDB(db)

	inspector := NewInspector(db)
	for _, col := range searchColumns {
		_, found, err := inspector.Column(ctx, "searches", col.name)
		if err != nil {
			return err
		}
		if found {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE searches ADD COLUMN %s %s", col.name, col.ddl)
		if err := db.WithContext(ctx).Exec(ddl).Error; err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
	}

	err = db.WithContext(ctx).
		Exec("UPDATE searches SET ended_at = started_at WHERE ended_at IS NULL AND state & ? != 0",
			int(search.StateCompleted)).Error
	if err != nil {
		return fmt.Errorf("failed to backfill ended_at: %w", err)
	}
	return nil
}
