package handlers

import (
	"net/http"

	"github.com/peerdaemon/peerd/pkg/uploads"
)

// UploadHandler exposes the upload queue's live state.
type UploadHandler struct {
	queue *uploads.Queue
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(queue *uploads.Queue) *UploadHandler {
	return &UploadHandler{queue: queue}
}

// queueStatus is the GET /uploads/queue payload.
type queueStatus struct {
	UsedSlots map[string]int `json:"usedSlots"`
	Depth     map[string]int `json:"depth"`
}

// Queue returns per-group used slots and waiting entries.
func (h *UploadHandler) Queue(w http.ResponseWriter, r *http.Request) {
	OK(w, queueStatus{
		UsedSlots: h.queue.UsedSlots(),
		Depth:     h.queue.Depth(),
	})
}
