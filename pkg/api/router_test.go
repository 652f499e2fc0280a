package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerdaemon/peerd/pkg/database"
	"github.com/peerdaemon/peerd/pkg/peer"
	"github.com/peerdaemon/peerd/pkg/peer/peertest"
	"github.com/peerdaemon/peerd/pkg/search"
	"github.com/peerdaemon/peerd/pkg/server"
	"github.com/peerdaemon/peerd/pkg/transfers"
	"github.com/peerdaemon/peerd/pkg/uploads"
)

type testEnv struct {
	ts       *httptest.Server
	client   *peertest.FakeClient
	searches *search.Service
	store    *transfers.Store
	tracker  *transfers.Tracker
	watchdog *server.Watchdog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fake := &peertest.FakeClient{}

	searchDB, err := database.OpenMemory()
	require.NoError(t, err)
	searchStore, err := search.NewStore(searchDB)
	require.NoError(t, err)
	searches := search.NewService(fake, searchStore, nil, nil)
	t.Cleanup(searches.Close)

	transferDB, err := database.OpenMemory()
	require.NoError(t, err)
	transferStore, err := transfers.NewStore(transferDB)
	require.NoError(t, err)
	tracker := transfers.NewTracker()

	watchdog := server.NewWatchdog(fake, func() server.Credentials {
		return server.Credentials{Address: "server.example.org", Port: 2271, Username: "alice", Password: "secret"}
	})
	t.Cleanup(func() { watchdog.Stop(true) })

	queue := uploads.NewQueue(2, nil, nil)

	router := NewRouter(Config{RequestTimeout: 5 * time.Second}, Dependencies{
		Client:        fake,
		Watchdog:      watchdog,
		Searches:      searches,
		SearchOptions: peer.SearchOptions{ResponseLimit: 250},
		SearchStale:   time.Minute,
		TransferStore: transferStore,
		Tracker:       tracker,
		Queue:         queue,
	})

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testEnv{
		ts:       ts,
		client:   fake,
		searches: searches,
		store:    transferStore,
		tracker:  tracker,
		watchdog: watchdog,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, env.ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope Response
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	}
	return resp, envelope
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	env.client.SetConnected(true)
	resp, _ = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSearches_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)

	resp, envelope := env.do(t, http.MethodPost, "/api/v0/searches", map[string]any{
		"searchText": "test query",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := envelope.Data.(map[string]any)
	id := data["id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		return !env.searches.IsActive(id)
	}, time.Second, 10*time.Millisecond)

	resp, envelope = env.do(t, http.MethodGet, "/api/v0/searches/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data = envelope.Data.(map[string]any)
	assert.Equal(t, "test query", data["searchText"])

	resp, envelope = env.do(t, http.MethodGet, "/api/v0/searches", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, envelope.Data.([]any), 1)
}

func TestSearches_CreateRequiresText(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v0/searches", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearches_GetMissing(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/v0/searches/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSearches_DeleteRefusesActive(t *testing.T) {
	env := newTestEnv(t)
	env.client.BlockSearch = true

	resp, envelope := env.do(t, http.MethodPost, "/api/v0/searches", map[string]any{
		"searchText": "long running",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := envelope.Data.(map[string]any)["id"].(string)

	resp, _ = env.do(t, http.MethodDelete, "/api/v0/searches/"+id, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/api/v0/searches/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Eventually(t, func() bool {
		return !env.searches.IsActive(id)
	}, time.Second, 10*time.Millisecond)

	resp, _ = env.do(t, http.MethodDelete, "/api/v0/searches/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTransfers_ListAndRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := &transfers.Transfer{
		ID:          "t1",
		Direction:   transfers.Upload,
		Username:    "alice",
		Filename:    "song.flac",
		Size:        1000,
		State:       transfers.StateQueued,
		RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, env.store.Upsert(ctx, record))

	resp, envelope := env.do(t, http.MethodGet, "/api/v0/transfers/uploads?username=alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, envelope.Data.([]any), 1)

	resp, _ = env.do(t, http.MethodGet, "/api/v0/transfers/uploads/t1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The record is not visible under the other direction.
	resp, _ = env.do(t, http.MethodGet, "/api/v0/transfers/downloads/t1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/v0/transfers/uploads/t1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, envelope = env.do(t, http.MethodGet, "/api/v0/transfers/uploads", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, envelope.Data)

	resp, _ = env.do(t, http.MethodGet, "/api/v0/transfers/uploads/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransfers_InvalidDirection(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/v0/transfers/sideways", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerConnection_EnableAndDisable(t *testing.T) {
	env := newTestEnv(t)

	resp, envelope := env.do(t, http.MethodGet, "/api/v0/server", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := envelope.Data.(map[string]any)
	assert.False(t, data["enabled"].(bool))

	resp, _ = env.do(t, http.MethodPut, "/api/v0/server/connection", map[string]any{"connected": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, env.client.IsConnected, time.Second, 10*time.Millisecond)

	resp, envelope = env.do(t, http.MethodPut, "/api/v0/server/connection", map[string]any{"connected": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data = envelope.Data.(map[string]any)
	assert.False(t, data["enabled"].(bool))
	assert.False(t, env.client.IsConnected())

	resp, _ = env.do(t, http.MethodPut, "/api/v0/server/connection", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploads_QueueStatus(t *testing.T) {
	env := newTestEnv(t)

	resp, envelope := env.do(t, http.MethodGet, "/api/v0/uploads/queue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := envelope.Data.(map[string]any)
	assert.Contains(t, data, "usedSlots")
	assert.Contains(t, data, "depth")
}

func TestVPN_Disabled(t *testing.T) {
	env := newTestEnv(t)

	resp, envelope := env.do(t, http.MethodGet, "/api/v0/vpn", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := envelope.Data.(map[string]any)
	assert.False(t, data["enabled"].(bool))
}

func TestServer_DefaultPort(t *testing.T) {
	srv := NewServer(Config{Host: "127.0.0.1"}, Dependencies{Client: &peertest.FakeClient{}})
	assert.Equal(t, 5030, srv.Port())
}
