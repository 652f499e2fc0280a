package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// response mirrors the API-wide envelope: status, timestamp, and either a
// data payload or an error message.
type response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OK writes a 200 response wrapping the payload.
func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, response{Status: "ok", Timestamp: time.Now().UTC(), Data: data})
}

// Created writes a 201 response wrapping the payload.
func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, response{Status: "ok", Timestamp: time.Now().UTC(), Data: data})
}

// NoContent writes a 204 response with an empty body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Status: "error", Timestamp: time.Now().UTC(), Error: message})
}

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, message string) {
	errorResponse(w, http.StatusBadRequest, message)
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, message string) {
	errorResponse(w, http.StatusNotFound, message)
}

// Conflict writes a 409 error response.
func Conflict(w http.ResponseWriter, message string) {
	errorResponse(w, http.StatusConflict, message)
}

// TooManyRequests writes a 429 error response.
func TooManyRequests(w http.ResponseWriter, message string) {
	errorResponse(w, http.StatusTooManyRequests, message)
}

// InternalServerError writes a 500 error response.
func InternalServerError(w http.ResponseWriter, message string) {
	errorResponse(w, http.StatusInternalServerError, message)
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns false after writing a 400 when decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}
