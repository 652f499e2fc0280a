package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/hub"
	"github.com/peerdaemon/peerd/pkg/transfers"
)

// TransferHandler serves the transfer endpoints. Routes are scoped by
// direction ("uploads" or "downloads"), matching how clients browse them.
type TransferHandler struct {
	store   *transfers.Store
	tracker *transfers.Tracker
	hub     hub.Broadcaster
}

// NewTransferHandler creates a transfer handler. A nil broadcaster disables
// push notifications.
func NewTransferHandler(store *transfers.Store, tracker *transfers.Tracker, broadcaster hub.Broadcaster) *TransferHandler {
	if broadcaster == nil {
		broadcaster = hub.NopBroadcaster{}
	}
	return &TransferHandler{store: store, tracker: tracker, hub: broadcaster}
}

// directionParam parses the {direction} path segment, accepting both the
// plural route form and the singular enum name.
func directionParam(r *http.Request) (transfers.Direction, error) {
	raw := strings.TrimSuffix(chi.URLParam(r, "direction"), "s")
	return transfers.ParseDirection(raw)
}

// List returns stored transfers in one direction, newest first. Query
// parameters:
//
//	username        filter by remote username
//	includeRemoved  include soft-removed records
func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	direction, err := directionParam(r)
	if err != nil {
		BadRequest(w, "invalid direction")
		return
	}

	records, err := h.store.List(r.Context(), transfers.ListOptions{
		Direction:      direction,
		Username:       r.URL.Query().Get("username"),
		IncludeRemoved: r.URL.Query().Get("includeRemoved") == "true",
	})
	if err != nil {
		logger.Error("failed to list transfers", logger.Err(err))
		InternalServerError(w, "failed to list transfers")
		return
	}
	OK(w, records)
}

// Get returns a single transfer by id.
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	direction, err := directionParam(r)
	if err != nil {
		BadRequest(w, "invalid direction")
		return
	}
	id := chi.URLParam(r, "id")

	record, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, transfers.ErrTransferNotFound) {
			NotFound(w, "transfer not found")
			return
		}
		logger.Error("failed to get transfer", logger.TransferID(id), logger.Err(err))
		InternalServerError(w, "failed to get transfer")
		return
	}
	if record.Direction != direction {
		NotFound(w, "transfer not found")
		return
	}
	OK(w, record)
}

// Delete soft-removes a transfer record. A still-active transfer is
// cancelled first.
func (h *TransferHandler) Delete(w http.ResponseWriter, r *http.Request) {
	direction, err := directionParam(r)
	if err != nil {
		BadRequest(w, "invalid direction")
		return
	}
	id := chi.URLParam(r, "id")

	record, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, transfers.ErrTransferNotFound) {
			NotFound(w, "transfer not found")
			return
		}
		logger.Error("failed to get transfer", logger.TransferID(id), logger.Err(err))
		InternalServerError(w, "failed to get transfer")
		return
	}
	if record.Direction != direction {
		NotFound(w, "transfer not found")
		return
	}

	if live, ok := h.tracker.TryGet(record.Direction, record.Username, record.ID); ok {
		if live.Cancel != nil {
			live.Cancel()
		}
		h.tracker.TryRemove(record.Direction, record.Username, record.ID)
	}

	if err := h.store.MarkRemoved(r.Context(), id); err != nil {
		if errors.Is(err, transfers.ErrTransferNotFound) {
			NotFound(w, "transfer not found")
			return
		}
		logger.Error("failed to remove transfer", logger.TransferID(id), logger.Err(err))
		InternalServerError(w, "failed to remove transfer")
		return
	}

	record.Removed = true
	h.hub.Broadcast(hub.Event{Name: hub.EventTransferState, Data: record})
	NoContent(w)
}
