// Package peertest provides a scriptable in-memory peer client for tests.
package peertest

import (
	"context"
	"sync"

	"github.com/peerdaemon/peerd/pkg/peer"
)

// FakeClient implements peer.Client with scriptable behavior.
//
// Connect consumes ConnectErrs one element per attempt; once the slice is
// exhausted, Connect succeeds. Search plays back the configured events.
type FakeClient struct {
	mu sync.Mutex

	// ConnectErrs are returned by successive Connect calls. A nil entry
	// means that attempt succeeds.
	ConnectErrs []error

	// SearchResponses are streamed by Search before the terminal event.
	SearchResponses []peer.Response

	// SearchReason is the terminal reason Search reports when the context
	// stays live. Defaults to ReasonCompleted.
	SearchReason peer.CompletionReason

	// BlockSearch, when set, makes Search stream nothing and wait for
	// context cancellation after delivering SearchResponses.
	BlockSearch bool

	connected      bool
	connectCalls   int
	disconnects    []string
	token          int
	searchContexts []context.Context
}

var _ peer.Client = (*FakeClient)(nil)

func (f *FakeClient) Connect(ctx context.Context, address string, port int, username, password string) error {
	f.mu.Lock()
	attempt := f.connectCalls
	f.connectCalls++
	var err error
	if attempt < len(f.ConnectErrs) {
		err = f.ConnectErrs[attempt]
	}
	if err == nil {
		f.connected = true
	}
	f.mu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (f *FakeClient) Disconnect(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects = append(f.disconnects, reason)
	return nil
}

func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeClient) NextToken() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token++
	return f.token
}

func (f *FakeClient) Search(ctx context.Context, query string, scope peer.Scope, token int, opts peer.SearchOptions) (<-chan peer.SearchEvent, error) {
	f.mu.Lock()
	f.searchContexts = append(f.searchContexts, ctx)
	responses := make([]peer.Response, len(f.SearchResponses))
	copy(responses, f.SearchResponses)
	reason := f.SearchReason
	if reason == "" {
		reason = peer.ReasonCompleted
	}
	block := f.BlockSearch
	f.mu.Unlock()

	events := make(chan peer.SearchEvent)
	go func() {
		defer close(events)
		for i := range responses {
			select {
			case events <- peer.SearchEvent{Response: &responses[i]}:
			case <-ctx.Done():
				events <- peer.SearchEvent{Terminal: &peer.Terminal{Reason: peer.ReasonCancelled}}
				return
			}
		}
		if block {
			<-ctx.Done()
			events <- peer.SearchEvent{Terminal: &peer.Terminal{Reason: peer.ReasonCancelled}}
			return
		}
		events <- peer.SearchEvent{Terminal: &peer.Terminal{Reason: reason}}
	}()
	return events, nil
}

// ConnectCalls returns how many times Connect was invoked.
func (f *FakeClient) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// Disconnects returns the reasons passed to Disconnect, in order.
func (f *FakeClient) Disconnects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.disconnects))
	copy(out, f.disconnects)
	return out
}

// SetConnected overrides the connection state directly.
func (f *FakeClient) SetConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}
