// Package hub fans daemon events out to connected clients.
//
// Services publish typed events onto a Broadcaster; the websocket hub
// delivers them to every connected UI as JSON frames. Publishing never
// blocks the caller: slow consumers are disconnected, not waited on.
package hub

import (
	"encoding/json"
	"time"

	"github.com/peerdaemon/peerd/internal/logger"
)

// Well-known event names.
const (
	EventSearchCreated = "Search.Created"
	EventSearchUpdate  = "Search.Update"
	EventSearchDelete  = "Search.Delete"
	EventServerState   = "Server.State"
	EventTransferState = "Transfer.Update"
)

// Event is one push frame: a name plus an arbitrary JSON payload. The
// timestamp is stamped at broadcast time.
type Event struct {
	Name      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Broadcaster publishes events to whoever is listening. Implementations
// must be safe for concurrent use and must not block the caller.
type Broadcaster interface {
	Broadcast(event Event)
}

// NopBroadcaster discards every event. Used in tests and when the API
// server is disabled.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(Event) {}

// Hub is the in-process fan-out point. Connections register and
// unregister through channels owned by the run loop; Broadcast marshals
// once and posts the frame to the loop.
type Hub struct {
	register   chan *conn
	unregister chan *conn
	frames     chan []byte

	// conns is owned by the run goroutine.
	conns map[*conn]bool

	done chan struct{}
}

// NewHub creates a hub and starts its run loop.
func NewHub() *Hub {
	h := &Hub{
		register:   make(chan *conn),
		unregister: make(chan *conn),
		frames:     make(chan []byte, 64),
		conns:      make(map[*conn]bool),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// Broadcast marshals the event and hands it to the run loop. When the
// loop's buffer is full the frame is dropped; push events are advisory
// and clients re-sync over the HTTP API.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	frame, err := json.Marshal(event)
	if err != nil {
		logger.Warn("failed to marshal hub event", "event", event.Name, logger.Err(err))
		return
	}
	select {
	case h.frames <- frame:
	case <-h.done:
	default:
		logger.Warn("hub buffer full, dropping event", "event", event.Name)
	}
}

// Close stops the run loop and disconnects every client.
func (h *Hub) Close() {
	close(h.done)
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.conns[c] = true
		case c := <-h.unregister:
			if h.conns[c] {
				delete(h.conns, c)
				close(c.send)
			}
		case frame := <-h.frames:
			for c := range h.conns {
				select {
				case c.send <- frame:
				default:
					// Slow consumer: drop it rather than stall the loop.
					delete(h.conns, c)
					close(c.send)
				}
			}
		case <-h.done:
			for c := range h.conns {
				delete(h.conns, c)
				close(c.send)
			}
			return
		}
	}
}
