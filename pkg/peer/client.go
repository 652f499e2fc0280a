// Package peer defines the contract peerd consumes from the peer-protocol
// client library. peerd does not implement the wire protocol; it drives a
// client that exposes connection management, token allocation, and
// distributed searches.
//
// The underlying client library is callback-driven. This package specifies a
// channel-based surface instead: Search returns a stream of events and the
// adapter that wraps the real client owns the callback-to-channel plumbing,
// so services never register callbacks directly.
package peer

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by operations that require a live session.
var ErrNotConnected = errors.New("peer client is not connected")

// Client is the peer-protocol client consumed by the daemon.
//
// Implementations must be safe for concurrent use; the watchdog, the search
// service, and API handlers all hold the same instance.
type Client interface {
	// Connect establishes the long-lived session with the upstream server
	// using the given credentials. It blocks until the session is
	// established, the context is cancelled, or the attempt fails.
	Connect(ctx context.Context, address string, port int, username, password string) error

	// Disconnect tears down the session. The reason is reported to the
	// server and logged; it is not an error.
	Disconnect(reason string) error

	// IsConnected reports whether a session is currently established.
	IsConnected() bool

	// NextToken returns the next monotonic protocol token. Tokens identify
	// searches and transfers on the wire.
	NextToken() int

	// Search runs a network-wide search and streams events until the search
	// reaches a terminal state, at which point the channel is closed. The
	// final event on the channel carries the completion reason.
	//
	// Cancelling the context cancels the search; the stream still delivers
	// a terminal event (reason Cancelled) before closing.
	Search(ctx context.Context, query string, scope Scope, token int, opts SearchOptions) (<-chan SearchEvent, error)
}

// ScopeType selects the audience of a search.
type ScopeType string

const (
	ScopeNetwork  ScopeType = "network"
	ScopeRoom     ScopeType = "room"
	ScopeUser     ScopeType = "user"
	ScopeWishlist ScopeType = "wishlist"
)

// Scope narrows a search to the whole network, a chat room, or specific users.
type Scope struct {
	Type     ScopeType `json:"type"`
	Subjects []string  `json:"subjects,omitempty"`
}

// SearchOptions control throttling and termination of a search.
type SearchOptions struct {
	// ResponseLimit ends the search once this many responses arrived.
	ResponseLimit int `json:"responseLimit"`

	// FileLimit ends the search once this many files were observed.
	FileLimit int `json:"fileLimit"`

	// FilterResponses drops responses that fail the minimum requirements
	// below before they are surfaced.
	FilterResponses bool `json:"filterResponses"`

	// MinimumResponseFileCount drops responses carrying fewer files.
	MinimumResponseFileCount int `json:"minimumResponseFileCount"`

	// MinimumPeerFreeUploadSlots drops responses from peers without at
	// least this many free upload slots.
	MinimumPeerFreeUploadSlots int `json:"minimumPeerFreeUploadSlots"`

	// MaximumPeerQueueLength drops responses from peers with longer queues.
	MaximumPeerQueueLength int `json:"maximumPeerQueueLength"`
}

// File is a single file entry within a search response.
type File struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	// BitRate and Length are set for audio files when the peer reports them.
	BitRate int `json:"bitRate,omitempty"`
	Length  int `json:"length,omitempty"`
}

// Response is the file list one peer returned for a search.
type Response struct {
	Username          string `json:"username"`
	Token             int    `json:"token"`
	HasFreeUploadSlot bool   `json:"hasFreeUploadSlot"`
	QueueLength       int    `json:"queueLength"`
	UploadSpeed       int    `json:"uploadSpeed"`
	Files             []File `json:"files"`
	LockedFiles       []File `json:"lockedFiles,omitempty"`
}

// FileCount returns the number of unlocked files in the response.
func (r *Response) FileCount() int {
	return len(r.Files)
}

// LockedFileCount returns the number of locked files in the response.
func (r *Response) LockedFileCount() int {
	return len(r.LockedFiles)
}

// CompletionReason states why a search reached a terminal state.
type CompletionReason string

const (
	ReasonCompleted            CompletionReason = "Completed"
	ReasonCancelled            CompletionReason = "Cancelled"
	ReasonTimedOut             CompletionReason = "TimedOut"
	ReasonResponseLimitReached CompletionReason = "ResponseLimitReached"
	ReasonFileLimitReached     CompletionReason = "FileLimitReached"
	ReasonErrored              CompletionReason = "Errored"
)

// SearchEvent is one element of a search stream. Exactly one of Response and
// Terminal is set.
type SearchEvent struct {
	// Response carries one peer's file list.
	Response *Response

	// Terminal carries the completion reason; it is the last event before
	// the stream closes.
	Terminal *Terminal
}

// Terminal is the final event of a search stream.
type Terminal struct {
	Reason CompletionReason
	Err    error // set when Reason is ReasonErrored
}
