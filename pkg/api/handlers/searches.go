package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/peer"
	"github.com/peerdaemon/peerd/pkg/search"
)

// SearchHandler serves the search endpoints.
type SearchHandler struct {
	service  *search.Service
	defaults peer.SearchOptions

	// staleAfter force-cancels a search that never left the requested state,
	// so stuck records do not block deletion forever.
	staleAfter time.Duration
}

// NewSearchHandler creates a search handler. defaults fill option fields the
// request omits.
func NewSearchHandler(service *search.Service, defaults peer.SearchOptions, staleAfter time.Duration) *SearchHandler {
	return &SearchHandler{
		service:    service,
		defaults:   defaults,
		staleAfter: staleAfter,
	}
}

// createSearchRequest is the POST /searches body. Omitted option fields fall
// back to the configured defaults; explicit zeroes disable the limit.
type createSearchRequest struct {
	ID         string      `json:"id,omitempty"`
	SearchText string      `json:"searchText"`
	Scope      *peer.Scope `json:"scope,omitempty"`

	ResponseLimit            *int  `json:"responseLimit,omitempty"`
	FileLimit                *int  `json:"fileLimit,omitempty"`
	FilterResponses          *bool `json:"filterResponses,omitempty"`
	MinimumResponseFileCount *int  `json:"minimumResponseFileCount,omitempty"`
}

// Create starts a new search.
func (h *SearchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSearchRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.SearchText == "" {
		BadRequest(w, "searchText is required")
		return
	}

	scope := peer.Scope{Type: peer.ScopeNetwork}
	if req.Scope != nil {
		scope = *req.Scope
	}

	opts := h.defaults
	if req.ResponseLimit != nil {
		opts.ResponseLimit = *req.ResponseLimit
	}
	if req.FileLimit != nil {
		opts.FileLimit = *req.FileLimit
	}
	if req.FilterResponses != nil {
		opts.FilterResponses = *req.FilterResponses
	}
	if req.MinimumResponseFileCount != nil {
		opts.MinimumResponseFileCount = *req.MinimumResponseFileCount
	}

	record, err := h.service.Start(r.Context(), req.ID, req.SearchText, scope, opts)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrDuplicateToken):
			BadRequest(w, "search token is already in use")
		case errors.Is(err, search.ErrSearchInProgress):
			TooManyRequests(w, "another search is already starting")
		default:
			logger.Error("failed to start search", logger.Err(err))
			InternalServerError(w, "failed to start search")
		}
		return
	}

	Created(w, record)
}

// List returns every stored search, newest first, without responses.
func (h *SearchHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.List(r.Context())
	if err != nil {
		logger.Error("failed to list searches", logger.Err(err))
		InternalServerError(w, "failed to list searches")
		return
	}
	OK(w, records)
}

// Get returns a single search. Responses are included only when the
// includeResponses query parameter is true.
func (h *SearchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	includeResponses := r.URL.Query().Get("includeResponses") == "true"

	record, err := h.service.Find(r.Context(), id, includeResponses)
	if err != nil {
		if errors.Is(err, search.ErrSearchNotFound) {
			NotFound(w, "search not found")
			return
		}
		logger.Error("failed to get search", logger.SearchID(id), logger.Err(err))
		InternalServerError(w, "failed to get search")
		return
	}
	OK(w, record)
}

// Cancel cancels a running search, or force-cancels a search that went stale
// without ever producing a terminal event.
func (h *SearchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.service.TryCancel(id) {
		NoContent(w)
		return
	}

	record, err := h.service.Find(r.Context(), id, false)
	if err != nil {
		if errors.Is(err, search.ErrSearchNotFound) {
			NotFound(w, "search not found")
			return
		}
		logger.Error("failed to get search", logger.SearchID(id), logger.Err(err))
		InternalServerError(w, "failed to get search")
		return
	}

	if record.State.IsTerminal() {
		Conflict(w, "search already completed")
		return
	}
	if h.staleAfter > 0 && time.Since(record.StartedAt) < h.staleAfter {
		Conflict(w, "search is not running and not yet stale")
		return
	}

	if err := h.service.ForceCancel(r.Context(), record); err != nil {
		logger.Error("failed to force-cancel search", logger.SearchID(id), logger.Err(err))
		InternalServerError(w, "failed to cancel search")
		return
	}
	NoContent(w)
}

// Delete removes a stored search. Active searches must be cancelled first.
func (h *SearchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.service.Find(r.Context(), id, false)
	if err != nil {
		if errors.Is(err, search.ErrSearchNotFound) {
			NotFound(w, "search not found")
			return
		}
		logger.Error("failed to get search", logger.SearchID(id), logger.Err(err))
		InternalServerError(w, "failed to get search")
		return
	}

	if err := h.service.Delete(r.Context(), record); err != nil {
		switch {
		case errors.Is(err, search.ErrSearchActive):
			Conflict(w, "search is still running")
		case errors.Is(err, search.ErrSearchNotFound):
			NotFound(w, "search not found")
		default:
			logger.Error("failed to delete search", logger.SearchID(id), logger.Err(err))
			InternalServerError(w, "failed to delete search")
		}
		return
	}
	NoContent(w)
}
