package migrations

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerdaemon/peerd/pkg/database"
)

// fakeMigration is a scriptable migration for migrator tests.
type fakeMigration struct {
	name       string
	needs      bool
	apply      func(ctx context.Context) error
	applyCalls int
	needsCalls int
}

func (f *fakeMigration) Name() string { return f.name }

func (f *fakeMigration) NeedsToBeApplied(context.Context) (bool, error) {
	f.needsCalls++
	return f.needs, nil
}

func (f *fakeMigration) Apply(ctx context.Context) error {
	f.applyCalls++
	if f.apply != nil {
		return f.apply(ctx)
	}
	return nil
}

// seedDatabase creates a database file with a marker table.
func seedDatabase(t *testing.T, cfg *database.Config, file string) {
	t.Helper()
	db, err := database.Open(cfg.Path(file))
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE seed_marker (id integer primary key)").Error)
	require.NoError(t, db.Exec("INSERT INTO seed_marker (id) VALUES (1)").Error)
	closeDB(db)
}

func tableExists(t *testing.T, cfg *database.Config, file, table string) bool {
	t.Helper()
	db, err := database.Open(cfg.Path(file))
	require.NoError(t, err)
	defer closeDB(db)
	exists, err := NewInspector(db).HasTable(context.Background(), table)
	require.NoError(t, err)
	return exists
}

func backupsFor(t *testing.T, cfg *database.Config, file string) []string {
	t.Helper()
	base := filepath.Join(cfg.DataDir, file[:len(file)-len(".db")])
	matches, err := filepath.Glob(base + ".pre-migration-backup.*.db")
	require.NoError(t, err)
	return matches
}

func TestMigrator_FailureRestoresBackupsAndKeepsHistory(t *testing.T) {
	cfg := &database.Config{DataDir: t.TempDir()}
	seedDatabase(t, cfg, database.TransfersFile)
	seedDatabase(t, cfg, database.SearchFile)

	cause := errors.New("table is locked")
	m1 := &fakeMigration{name: "M1", needs: true, apply: func(ctx context.Context) error {
		db, err := database.Open(cfg.Path(database.TransfersFile))
		if err != nil {
			return err
		}
		defer closeDB(db)
		return db.Exec("CREATE TABLE m1_marker (id integer primary key)").Error
	}}
	m2 := &fakeMigration{name: "M2", needs: true, apply: func(context.Context) error {
		return cause
	}}

	migrator := NewMigrator(cfg, m1, m2)
	err := migrator.Migrate(context.Background(), false)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "M2")

	// Both databases were backed up before anything applied.
	transferBackups := backupsFor(t, cfg, database.TransfersFile)
	searchBackups := backupsFor(t, cfg, database.SearchFile)
	require.Len(t, transferBackups, 1)
	require.Len(t, searchBackups, 1)

	// The live databases match their backups byte for byte; M1's table is gone.
	live, err := os.ReadFile(cfg.Path(database.TransfersFile))
	require.NoError(t, err)
	backup, err := os.ReadFile(transferBackups[0])
	require.NoError(t, err)
	assert.Equal(t, backup, live)
	assert.False(t, tableExists(t, cfg, database.TransfersFile, "m1_marker"))
	assert.True(t, tableExists(t, cfg, database.TransfersFile, "seed_marker"))

	// The history file was never written.
	_, statErr := os.Stat(NewHistory(cfg.DataDir).Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestMigrator_SuccessRecordsHistoryAndSkipsNextRun(t *testing.T) {
	cfg := &database.Config{DataDir: t.TempDir()}
	seedDatabase(t, cfg, database.TransfersFile)

	m1 := &fakeMigration{name: "M1", needs: true}
	migrator := NewMigrator(cfg, m1)
	require.NoError(t, migrator.Migrate(context.Background(), false))
	assert.Equal(t, 1, m1.applyCalls)

	applied, err := NewHistory(cfg.DataDir).Load()
	require.NoError(t, err)
	at, ok := applied["M1"]
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().UTC(), at, time.Minute)

	// A second run consults the history and never re-asks the migration.
	again := &fakeMigration{name: "M1", needs: true}
	require.NoError(t, NewMigrator(cfg, again).Migrate(context.Background(), false))
	assert.Zero(t, again.needsCalls)
	assert.Zero(t, again.applyCalls)
}

func TestMigrator_ForceIgnoresHistory(t *testing.T) {
	cfg := &database.Config{DataDir: t.TempDir()}
	seedDatabase(t, cfg, database.TransfersFile)

	m1 := &fakeMigration{name: "M1", needs: true}
	require.NoError(t, NewMigrator(cfg, m1).Migrate(context.Background(), false))

	forced := &fakeMigration{name: "M1", needs: true}
	require.NoError(t, NewMigrator(cfg, forced).Migrate(context.Background(), true))
	assert.Equal(t, 1, forced.applyCalls)
}

func TestMigrator_NotNeededIsRecordedWithoutApplying(t *testing.T) {
	cfg := &database.Config{DataDir: t.TempDir()}

	m1 := &fakeMigration{name: "M1", needs: false}
	require.NoError(t, NewMigrator(cfg, m1).Migrate(context.Background(), false))
	assert.Zero(t, m1.applyCalls)

	applied, err := NewHistory(cfg.DataDir).Load()
	require.NoError(t, err)
	assert.Contains(t, applied, "M1")
}

func TestMigrator_NoDatabasesNoBackups(t *testing.T) {
	cfg := &database.Config{DataDir: t.TempDir()}

	m1 := &fakeMigration{name: "M1", needs: true}
	require.NoError(t, NewMigrator(cfg, m1).Migrate(context.Background(), false))
	assert.Empty(t, backupsFor(t, cfg, database.TransfersFile))
}

func TestMigrator_CorruptHistoryIsAdvisory(t *testing.T) {
	cfg := &database.Config{DataDir: t.TempDir()}
	seedDatabase(t, cfg, database.TransfersFile)

	history := NewHistory(cfg.DataDir)
	require.NoError(t, os.MkdirAll(filepath.Dir(history.Path()), 0755))
	require.NoError(t, os.WriteFile(history.Path(), []byte("{not json"), 0644))

	// An unreadable history never blocks startup; the migration still runs.
	m1 := &fakeMigration{name: "M1", needs: true}
	require.NoError(t, NewMigrator(cfg, m1).Migrate(context.Background(), false))
	assert.Equal(t, 1, m1.applyCalls)

	// The run rewrites the history so the next one is clean.
	applied, err := history.Load()
	require.NoError(t, err)
	assert.Contains(t, applied, "M1")
}

func TestHistory_RoundTrip(t *testing.T) {
	h := NewHistory(t.TempDir())

	applied, err := h.Load()
	require.NoError(t, err)
	assert.Empty(t, applied, "missing file is an empty history")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, h.Save(map[string]time.Time{"M1": now}))

	loaded, err := h.Load()
	require.NoError(t, err)
	assert.True(t, loaded["M1"].Equal(now))
}

func TestHistory_SaveLeavesInputUntouched(t *testing.T) {
	h := NewHistory(t.TempDir())

	zone := time.FixedZone("UTC+2", 2*60*60)
	local := time.Date(2026, 8, 24, 15, 30, 0, 0, zone)
	applied := map[string]time.Time{"M1": local}
	require.NoError(t, h.Save(applied))

	// The caller's map keeps its original zone; only the file is UTC.
	assert.Same(t, zone, applied["M1"].Location())

	loaded, err := h.Load()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loaded["M1"].Location())
	assert.True(t, loaded["M1"].Equal(local))
}
