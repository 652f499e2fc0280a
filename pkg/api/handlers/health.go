package handlers

import (
	"net/http"

	"github.com/peerdaemon/peerd/pkg/peer"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	client peer.Client
}

// NewHealthHandler creates a health handler. The client may be nil, in which
// case readiness reports not connected.
func NewHealthHandler(client peer.Client) *HealthHandler {
	return &HealthHandler{client: client}
}

// Liveness reports that the daemon process is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]string{"service": "peerd"})
}

// Readiness reports whether the upstream session is established. A daemon
// that is up but disconnected answers 503 so orchestrators can tell the two
// states apart.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	connected := h.client != nil && h.client.IsConnected()
	if !connected {
		errorResponse(w, http.StatusServiceUnavailable, "not connected to server")
		return
	}
	OK(w, map[string]bool{"connected": true})
}
