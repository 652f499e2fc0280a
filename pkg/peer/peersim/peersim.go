// Package peersim is a simulated peer network client for development and
// integration testing. It implements the full peer.Client contract without
// any network traffic: connects always succeed and searches return synthetic
// file lists derived from the query.
//
// Real deployments link a protocol driver that registers itself under its
// own name; peersim keeps the daemon runnable without one.
package peersim

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/peer"
)

// DriverName selects this client in the server configuration.
const DriverName = "simulated"

func init() {
	peer.Register(DriverName, func() (peer.Client, error) {
		return New(), nil
	})
}

// Client is the simulated peer client.
type Client struct {
	mu        sync.Mutex
	connected bool
	token     int
}

var _ peer.Client = (*Client)(nil)

// New creates a disconnected simulated client.
func New() *Client {
	return &Client{}
}

func (c *Client) Connect(ctx context.Context, address string, port int, username, password string) error {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	logger.Info("simulated session established",
		logger.KeyAddress, fmt.Sprintf("%s:%d", address, port),
		logger.KeyUsername, username)
	return nil
}

func (c *Client) Disconnect(reason string) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	logger.Info("simulated session closed", "reason", reason)
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) NextToken() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token++
	return c.token
}

// Search streams a deterministic set of synthetic responses for the query,
// spread over a short interval, then completes.
func (c *Client) Search(ctx context.Context, query string, scope peer.Scope, token int, opts peer.SearchOptions) (<-chan peer.SearchEvent, error) {
	if !c.IsConnected() {
		return nil, peer.ErrNotConnected
	}

	// Seeded by the query so repeated searches look stable.
	h := fnv.New64a()
	h.Write([]byte(query))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	count := 3 + rng.Intn(8)
	if opts.ResponseLimit > 0 && count > opts.ResponseLimit {
		count = opts.ResponseLimit
	}

	events := make(chan peer.SearchEvent)
	go func() {
		defer close(events)
		for i := 0; i < count; i++ {
			response := syntheticResponse(query, i, rng)
			if opts.FilterResponses && response.FileCount() < opts.MinimumResponseFileCount {
				continue
			}
			select {
			case events <- peer.SearchEvent{Response: &response}:
			case <-ctx.Done():
				events <- peer.SearchEvent{Terminal: &peer.Terminal{Reason: peer.ReasonCancelled}}
				return
			}
			select {
			case <-time.After(time.Duration(20+rng.Intn(80)) * time.Millisecond):
			case <-ctx.Done():
				events <- peer.SearchEvent{Terminal: &peer.Terminal{Reason: peer.ReasonCancelled}}
				return
			}
		}
		events <- peer.SearchEvent{Terminal: &peer.Terminal{Reason: peer.ReasonCompleted}}
	}()
	return events, nil
}

func syntheticResponse(query string, n int, rng *rand.Rand) peer.Response {
	base := strings.ReplaceAll(strings.TrimSpace(query), " ", "_")
	files := make([]peer.File, 1+rng.Intn(4))
	for i := range files {
		files[i] = peer.File{
			Filename: fmt.Sprintf("Shared\\%s\\%s_%02d.flac", base, base, i+1),
			Size:     int64(1<<20 + rng.Intn(50<<20)),
			BitRate:  320,
			Length:   120 + rng.Intn(300),
		}
	}
	return peer.Response{
		Username:          fmt.Sprintf("peer-%02d", n+1),
		Token:             rng.Intn(1 << 16),
		HasFreeUploadSlot: rng.Intn(2) == 0,
		QueueLength:       rng.Intn(10),
		UploadSpeed:       50_000 + rng.Intn(1_000_000),
		Files:             files,
	}
}
