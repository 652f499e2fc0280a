package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerdaemon/peerd/pkg/database"
	"github.com/peerdaemon/peerd/pkg/transfers"
)

const legacyTransfersDDL = `CREATE TABLE transfers (
	id text PRIMARY KEY,
	direction text,
	username text,
	filename text,
	size integer,
	bytes_transferred integer,
	state text,
	requested_at datetime,
	started_at datetime,
	ended_at datetime
)`

func seedLegacyTransfers(t *testing.T, cfg *database.Config, states ...string) {
	t.Helper()
	db, err := database.Open(cfg.Path(database.TransfersFile))
	require.NoError(t, err)
	defer closeDB(db)

	require.NoError(t, db.Exec(legacyTransfersDDL).Error)
	now := time.Now().UTC()
	for i, state := range states {
		started := now.Add(-time.Hour)
		ended := started.Add(time.Minute)
		require.NoError(t, db.Exec(
			"INSERT INTO transfers (id, direction, username, filename, size, bytes_transferred, state, requested_at, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			string(rune('a'+i)), "Upload", "alice", "song.flac", 1000, 1000,
			state, now.Add(-2*time.Hour), started, ended,
		).Error)
	}
}

func TestTransferStateToFlags_DetectsLegacySchema(t *testing.T) {
	cfg := &database.Config{DataDir: t.TempDir()}
	m := NewTransferStateToFlags(cfg)

	// No database yet.
	needs, err := m.NeedsToBeApplied(context.Background())
	require.NoError(t, err)
	assert.False(t, needs)

	seedLegacyTransfers(t, cfg, "Completed, Succeeded")
	needs, err = m.NeedsToBeApplied(context.Background())
	require.NoError(t, err)
	assert.True(t, needs)
}

func TestTransferStateToFlags_ConvertsDescriptions(t *testing.T) {
	cfg := &database.Config{DataDir: t.TempDir()}
	seedLegacyTransfers(t, cfg, "Completed, Succeeded", "Completed, Errored")

	m := NewTransferStateToFlags(cfg)
	require.NoError(t, m.Apply(context.Background()))

	// The converted table satisfies the current model.
	db, err := database.Open(cfg.Path(database.TransfersFile))
	require.NoError(t, err)
	defer closeDB(db)

	var rows []transfers.Transfer
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, transfers.StateCompleted|transfers.StateSucceeded, rows[0].State)
	assert.Equal(t, "Completed, Succeeded", rows[0].StateDescription)
	assert.Equal(t, transfers.StateCompleted|transfers.StateErrored, rows[1].State)

	// The legacy table is gone and the migration no longer applies.
	exists, err := NewInspector(db).HasTable(context.Background(), "transfers_legacy")
	require.NoError(t, err)
	assert.False(t, exists)

	needs, err := m.NeedsToBeApplied(context.Background())
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestTransferStateToFlags_UnknownStateAborts(t *testing.T) {
	cfg := &database.Config{DataDir: t.TempDir()}
	seedLegacyTransfers(t, cfg, "Completed, Garbage")

	m := NewTransferStateToFlags(cfg)
	err := m.Apply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Garbage")

	// The transaction rolled back: the legacy table is still textual.
	needs, err := m.NeedsToBeApplied(context.Background())
	require.NoError(t, err)
	assert.True(t, needs)
}
