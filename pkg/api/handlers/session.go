package handlers

import (
	"net/http"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/peer"
	"github.com/peerdaemon/peerd/pkg/server"
)

// ServerHandler controls the upstream server session.
type ServerHandler struct {
	watchdog *server.Watchdog
	client   peer.Client
}

// NewServerHandler creates a server session handler.
func NewServerHandler(watchdog *server.Watchdog, client peer.Client) *ServerHandler {
	return &ServerHandler{watchdog: watchdog, client: client}
}

// Get returns the watchdog's connection state.
func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	OK(w, h.watchdog.State())
}

// connectionRequest is the PUT /server/connection body. Connected enables or
// disables the watchdog; Restart tears the session down and reconnects.
type connectionRequest struct {
	Connected *bool `json:"connected,omitempty"`
	Restart   bool  `json:"restart,omitempty"`
}

// SetConnection changes the desired connection state. Enabling is
// idempotent; disabling also tears down a live session.
func (h *ServerHandler) SetConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	switch {
	case req.Restart:
		h.watchdog.Restart()
	case req.Connected == nil:
		BadRequest(w, "connected or restart is required")
		return
	case *req.Connected:
		h.watchdog.Start()
	default:
		h.watchdog.Stop(true)
		if h.client.IsConnected() {
			if err := h.client.Disconnect("disconnect requested"); err != nil {
				logger.Warn("failed to disconnect session", logger.Err(err))
			}
		}
	}

	OK(w, h.watchdog.State())
}
