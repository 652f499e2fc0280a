package migrations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/database"
)

// backupTimestampLayout names backups sortably: 20260824T153000Z.
const backupTimestampLayout = "20060102T150405Z"

// Migrator applies pending migrations with file-level backup and restore.
type Migrator struct {
	db         *database.Config
	history    *History
	migrations []Migration
}

// NewMigrator creates a migrator over the given databases. Migrations run
// in the order given.
func NewMigrator(db *database.Config, migrations ...Migration) *Migrator {
	return &Migrator{
		db:         db,
		history:    NewHistory(db.DataDir),
		migrations: migrations,
	}
}

// Migrate applies every pending migration. With force set, the history
// file is ignored and every migration reporting NeedsToBeApplied runs.
//
// All existing database files are backed up before the first migration
// applies. When any migration fails, every database is restored
// byte-for-byte from its backup, the history file is left unchanged, and
// the aggregate error carries the failing migration's cause.
func (m *Migrator) Migrate(ctx context.Context, force bool) error {
	applied := map[string]time.Time{}
	if !force {
		loaded, err := m.history.Load()
		if err != nil {
			// The history is advisory. An unreadable file means every
			// migration is asked again; NeedsToBeApplied keeps the run
			// idempotent.
			logger.Warn("failed to load migration history, re-checking all migrations", logger.Err(err))
		} else {
			applied = loaded
		}
	}

	var pending []Migration
	for _, mig := range m.migrations {
		if _, done := applied[mig.Name()]; done {
			continue
		}
		needs, err := mig.NeedsToBeApplied(ctx)
		if err != nil {
			return fmt.Errorf("migration %s: precondition check failed: %w", mig.Name(), err)
		}
		if needs {
			pending = append(pending, mig)
		} else {
			// Nothing to transform; record it so it is not re-asked.
			applied[mig.Name()] = time.Now().UTC()
		}
	}

	if len(pending) == 0 {
		logger.Debug("no pending migrations")
		if err := m.history.Save(applied); err != nil {
			return err
		}
		return nil
	}

	names := make([]string, len(pending))
	for i, mig := range pending {
		names[i] = mig.Name()
	}
	logger.Info("applying migrations", "pending", strings.Join(names, ", "))

	backups, err := m.backupAll()
	if err != nil {
		return err
	}

	for _, mig := range pending {
		logger.Info("applying migration", "name", mig.Name())
		if err := mig.Apply(ctx); err != nil {
			restoreErr := m.restoreAll(backups)
			return errors.Join(
				fmt.Errorf("migration %s failed: %w", mig.Name(), err),
				restoreErr,
			)
		}
		applied[mig.Name()] = time.Now().UTC()
	}

	if err := m.history.Save(applied); err != nil {
		return err
	}
	logger.Info("migrations applied", "count", len(pending))
	return nil
}

// backupAll copies every existing database file to its pre-migration
// backup. Returns the live-path -> backup-path map.
func (m *Migrator) backupAll() (map[string]string, error) {
	ts := time.Now().UTC().Format(backupTimestampLayout)
	backups := map[string]string{}
	for _, file := range database.Files() {
		live := m.db.Path(file)
		if _, err := os.Stat(live); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", live, err)
		}
		backup := backupPath(live, ts)
		if err := copyFile(live, backup); err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", live, err)
		}
		logger.Info("database backed up", "from", live, "to", backup)
		backups[live] = backup
	}
	return backups, nil
}

// restoreAll copies every backup over its live database.
func (m *Migrator) restoreAll(backups map[string]string) error {
	var errs []error
	for live, backup := range backups {
		if err := copyFile(backup, live); err != nil {
			errs = append(errs, fmt.Errorf("failed to restore %s from %s: %w", live, backup, err))
			continue
		}
		logger.Warn("database restored from backup", "path", live)
	}
	return errors.Join(errs...)
}

// backupPath derives the backup name: transfers.db becomes
// transfers.pre-migration-backup.<ts>.db alongside the original.
func backupPath(live, ts string) string {
	base := strings.TrimSuffix(live, ".db")
	return fmt.Sprintf("%s.pre-migration-backup.%s.db", base, ts)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
