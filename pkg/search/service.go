package search

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/hub"
	"github.com/peerdaemon/peerd/pkg/metrics"
	"github.com/peerdaemon/peerd/pkg/peer"
)

// Service starts, throttles, streams, cancels, and persists searches.
//
// Each started search runs on its own goroutine consuming the peer client's
// event stream. Counter persistence and push broadcasts are coalesced per
// search; terminal transitions always flush the final counters before the
// final broadcast so UIs converge.
type Service struct {
	client    peer.Client
	store     *Store
	hub       hub.Broadcaster
	coalescer *Coalescer
	metrics   metrics.SearchMetrics

	// starting admits at most one concurrent Start per process.
	starting chan struct{}

	mu     sync.Mutex
	live   map[string]context.CancelFunc // id -> cancellation handle
	tokens map[int]string                // active token -> id
}

// NewService creates a search service. metrics may be nil.
func NewService(client peer.Client, store *Store, broadcaster hub.Broadcaster, m metrics.SearchMetrics) *Service {
	if broadcaster == nil {
		broadcaster = hub.NopBroadcaster{}
	}
	return &Service{
		client:    client,
		store:     store,
		hub:       broadcaster,
		coalescer: NewCoalescer(DefaultCoalesceInterval),
		metrics:   m,
		starting:  make(chan struct{}, 1),
		live:      make(map[string]context.CancelFunc),
		tokens:    make(map[int]string),
	}
}

// Start launches a network-wide search and returns its record once it is
// persisted and streaming. At most one Start is admitted at a time;
// overlapping callers receive ErrSearchInProgress. A token collision with
// an active or persisted search yields ErrDuplicateToken.
func (s *Service) Start(ctx context.Context, id, query string, scope peer.Scope, opts peer.SearchOptions) (*Search, error) {
	select {
	case s.starting <- struct{}{}:
	default:
		return nil, ErrSearchInProgress
	}
	defer func() { <-s.starting }()

	token := s.client.NextToken()

	s.mu.Lock()
	_, active := s.tokens[token]
	s.mu.Unlock()
	if active {
		return nil, ErrDuplicateToken
	}
	if exists, err := s.store.TokenExists(ctx, token); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDuplicateToken
	}

	if id == "" {
		id = uuid.NewString()
	}
	record := &Search{
		ID:         id,
		SearchText: query,
		Token:      token,
		State:      StateRequested,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, err
	}
	s.hub.Broadcast(hub.Event{Name: hub.EventSearchCreated, Data: record.WithoutResponses()})

	// The stream outlives the caller's request context.
	searchCtx, cancel := context.WithCancel(context.Background())
	events, err := s.client.Search(searchCtx, query, scope, token, opts)
	if err != nil {
		cancel()
		s.finishErrored(record, err)
		return nil, err
	}

	s.mu.Lock()
	s.live[id] = cancel
	s.tokens[token] = id
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordStarted()
	}
	logger.Info("search started",
		logger.SearchID(id), "query", query, logger.KeyToken, token)

	record.State = StateRequested | StateInProgress
	snapshot := record.WithoutResponses()
	go s.consume(record, events, cancel)

	return &snapshot, nil
}

// consume drains the event stream, buffering responses in memory and
// coalescing counter writes, until the terminal event arrives.
func (s *Service) consume(record *Search, events <-chan peer.SearchEvent, cancel context.CancelFunc) {
	defer cancel()

	var (
		buffer   []peer.Response
		terminal *peer.Terminal
	)

	for event := range events {
		switch {
		case event.Response != nil:
			r := *event.Response
			buffer = append(buffer, r)
			record.ResponseCount++
			record.FileCount += r.FileCount()
			record.LockedFileCount += r.LockedFileCount()
			if s.metrics != nil {
				s.metrics.RecordResponses(1)
			}
			snapshot := record.WithoutResponses()
			s.coalescer.Submit(record.ID, func() {
				if err := s.store.UpdateCounters(context.Background(), &snapshot); err != nil {
					logger.Warn("failed to persist search counters",
						logger.SearchID(snapshot.ID), logger.Err(err))
				}
				s.hub.Broadcast(hub.Event{Name: hub.EventSearchUpdate, Data: snapshot})
			})
		case event.Terminal != nil:
			terminal = event.Terminal
		}
	}

	if terminal == nil {
		// Stream closed without a terminal event; treat as errored.
		terminal = &peer.Terminal{Reason: peer.ReasonErrored}
	}
	s.finish(record, buffer, terminal)
}

// finish applies the terminal transition: final counter flush, then the
// response blob write, then the final broadcast with responses elided.
func (s *Service) finish(record *Search, buffer []peer.Response, terminal *peer.Terminal) {
	s.coalescer.Flush(record.ID)
	s.coalescer.Forget(record.ID)

	now := time.Now().UTC()
	record.State = terminalState(terminal.Reason)
	record.EndedAt = &now
	if err := record.SetResponses(buffer); err != nil {
		logger.Error("failed to serialize search responses",
			logger.SearchID(record.ID), logger.Err(err))
	}

	// A failed terminal write is logged but the final state is still
	// broadcast so connected UIs converge.
	if err := s.store.Save(context.Background(), record); err != nil {
		logger.Error("failed to persist terminal search state",
			logger.SearchID(record.ID), logger.Err(err))
	}
	s.hub.Broadcast(hub.Event{Name: hub.EventSearchUpdate, Data: record.WithoutResponses()})

	s.mu.Lock()
	delete(s.live, record.ID)
	delete(s.tokens, record.Token)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCompleted(string(terminal.Reason))
	}
	logger.Info("search ended",
		logger.SearchID(record.ID),
		"reason", string(terminal.Reason),
		"responses", record.ResponseCount,
		"files", record.FileCount)
}

// finishErrored records a search that failed to launch.
func (s *Service) finishErrored(record *Search, cause error) {
	now := time.Now().UTC()
	record.State = StateCompleted | StateErrored
	record.EndedAt = &now
	if err := s.store.Save(context.Background(), record); err != nil {
		logger.Error("failed to persist errored search",
			logger.SearchID(record.ID), logger.Err(err))
	}
	s.hub.Broadcast(hub.Event{Name: hub.EventSearchUpdate, Data: record.WithoutResponses()})
	logger.Warn("search failed to launch", logger.SearchID(record.ID), logger.Err(cause))
}

// TryCancel trips the cancellation handle of a live search. Returns whether
// a handle existed; the terminal transition happens on the stream goroutine.
func (s *Service) TryCancel(id string) bool {
	s.mu.Lock()
	cancel, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// ForceCancel transitions a search to Cancelled without a live handle.
// Used when the handle was already released but the record never left
// Requested.
func (s *Service) ForceCancel(ctx context.Context, record *Search) error {
	now := time.Now().UTC()
	record.State = StateCompleted | StateCancelled
	record.EndedAt = &now
	if err := s.store.Save(ctx, record); err != nil {
		return err
	}
	s.hub.Broadcast(hub.Event{Name: hub.EventSearchUpdate, Data: record.WithoutResponses()})
	return nil
}

// Delete removes a persisted search and broadcasts the deletion. Deleting
// a search that still has a live handle is refused.
func (s *Service) Delete(ctx context.Context, record *Search) error {
	s.mu.Lock()
	_, active := s.live[record.ID]
	s.mu.Unlock()
	if active {
		return ErrSearchActive
	}

	if err := s.store.Delete(ctx, record.ID); err != nil {
		return err
	}
	s.hub.Broadcast(hub.Event{Name: hub.EventSearchDelete, Data: record.WithoutResponses()})
	return nil
}

// Find returns one search. The response blob is stripped unless requested.
func (s *Service) Find(ctx context.Context, id string, includeResponses bool) (*Search, error) {
	return s.store.Get(ctx, id, includeResponses)
}

// List returns all searches with response blobs stripped.
func (s *Service) List(ctx context.Context) ([]Search, error) {
	return s.store.List(ctx)
}

// IsActive reports whether the search still has a live cancellation handle.
func (s *Service) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[id]
	return ok
}

// Close drops all coalesced work. Live searches are not cancelled; callers
// cancel them individually or tear down the peer client.
func (s *Service) Close() {
	s.coalescer.Close()
}
