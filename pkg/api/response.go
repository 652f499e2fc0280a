package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the standard API response wrapper.
//
// All API responses follow this structure:
//   - Status indicates the overall result ("ok" or "error")
//   - Timestamp provides response time for debugging
//   - Data contains the response payload (optional)
//   - Error contains error details when Status is "error" (optional)
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Last resort; the header is already written.
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OK writes a 200 response wrapping the payload.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, okResponse(data))
}

// Created writes a 201 response wrapping the payload.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, okResponse(data))
}

// NoContent writes a 204 response with an empty body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes an error response with the given status code.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     message,
	})
}

func okResponse(data any) Response {
	return Response{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
