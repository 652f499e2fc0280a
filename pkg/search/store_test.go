package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerdaemon/peerd/pkg/database"
	"github.com/peerdaemon/peerd/pkg/peer"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func seedSearch(t *testing.T, store *Store, id string, token int) *Search {
	t.Helper()
	s := &Search{
		ID:         id,
		SearchText: "query " + id,
		Token:      token,
		State:      StateRequested,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SetResponses([]peer.Response{{Username: "alice"}}))
	require.NoError(t, store.Save(context.Background(), s))
	return s
}

func TestStore_GetStripsResponsesUnlessRequested(t *testing.T) {
	store := newTestStore(t)
	seedSearch(t, store, "s1", 1)

	stripped, err := store.Get(context.Background(), "s1", false)
	require.NoError(t, err)
	assert.Empty(t, stripped.Responses)

	full, err := store.Get(context.Background(), "s1", true)
	require.NoError(t, err)
	assert.NotEmpty(t, full.Responses)
}

func TestStore_GetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrSearchNotFound)
}

func TestStore_TokenExists(t *testing.T) {
	store := newTestStore(t)
	seedSearch(t, store, "s1", 42)

	exists, err := store.TokenExists(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.TokenExists(context.Background(), 43)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_ListStripsResponsesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	older := seedSearch(t, store, "older", 1)
	older.StartedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Save(context.Background(), older))
	seedSearch(t, store, "newer", 2)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].ID)
	assert.Empty(t, list[0].Responses)
}

func TestStore_UpdateCountersSkipsTerminalRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	live := seedSearch(t, store, "live", 1)
	live.ResponseCount = 5
	live.State = StateRequested | StateInProgress
	require.NoError(t, store.UpdateCounters(ctx, live))

	got, err := store.Get(ctx, "live", false)
	require.NoError(t, err)
	assert.Equal(t, 5, got.ResponseCount)

	// Terminal rows ignore late counter writes.
	got.State = StateCompleted | StateCancelled
	require.NoError(t, store.Save(ctx, got))

	stale := *got
	stale.State = StateRequested | StateInProgress
	stale.ResponseCount = 99
	require.NoError(t, store.UpdateCounters(ctx, &stale))

	final, err := store.Get(ctx, "live", false)
	require.NoError(t, err)
	assert.True(t, final.State.IsTerminal())
	assert.Equal(t, 5, final.ResponseCount)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	seedSearch(t, store, "s1", 1)

	require.NoError(t, store.Delete(context.Background(), "s1"))
	_, err := store.Get(context.Background(), "s1", false)
	assert.ErrorIs(t, err, ErrSearchNotFound)

	assert.ErrorIs(t, store.Delete(context.Background(), "s1"), ErrSearchNotFound)
}
