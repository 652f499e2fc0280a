// Package search runs distributed keyword searches: lifecycle, response
// fan-in, persistence, and push broadcasts.
package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/peerdaemon/peerd/pkg/peer"
)

// Common search errors.
var (
	ErrSearchNotFound   = errors.New("search not found")
	ErrDuplicateToken   = errors.New("a search with this token already exists")
	ErrSearchInProgress = errors.New("another search is already being started")
	ErrSearchActive     = errors.New("search is still active")
)

// States is a bitflag set describing a search's lifecycle.
type States int

const (
	StateNone                 States = 0
	StateRequested            States = 1 << 0
	StateInProgress           States = 1 << 1
	StateCompleted            States = 1 << 2
	StateCancelled            States = 1 << 3
	StateTimedOut             States = 1 << 4
	StateResponseLimitReached States = 1 << 5
	StateFileLimitReached     States = 1 << 6
	StateErrored              States = 1 << 7
)

var stateNames = []struct {
	flag States
	name string
}{
	{StateRequested, "Requested"},
	{StateInProgress, "InProgress"},
	{StateCompleted, "Completed"},
	{StateCancelled, "Cancelled"},
	{StateTimedOut, "TimedOut"},
	{StateResponseLimitReached, "ResponseLimitReached"},
	{StateFileLimitReached, "FileLimitReached"},
	{StateErrored, "Errored"},
}

// String renders the flag set as a comma-separated list of state names.
func (s States) String() string {
	if s == StateNone {
		return "None"
	}
	var parts []string
	for _, entry := range stateNames {
		if s&entry.flag != 0 {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, ", ")
}

// Has reports whether all flags in other are set.
func (s States) Has(other States) bool {
	return s&other == other
}

// IsTerminal reports whether the Completed flag is set. Completion reasons
// are carried as additional flags alongside Completed.
func (s States) IsTerminal() bool {
	return s&StateCompleted != 0
}

// terminalState maps a stream completion reason to the terminal flag set.
func terminalState(reason peer.CompletionReason) States {
	switch reason {
	case peer.ReasonCancelled:
		return StateCompleted | StateCancelled
	case peer.ReasonTimedOut:
		return StateCompleted | StateTimedOut
	case peer.ReasonResponseLimitReached:
		return StateCompleted | StateResponseLimitReached
	case peer.ReasonFileLimitReached:
		return StateCompleted | StateFileLimitReached
	case peer.ReasonErrored:
		return StateCompleted | StateErrored
	default:
		return StateCompleted
	}
}

// Search is one network-wide keyword search, durable across restarts.
// Responses are persisted as a single serialized blob once the search
// reaches a terminal state; counters are live columns.
type Search struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	SearchText string `gorm:"not null" json:"searchText"`
	Token      int    `gorm:"uniqueIndex;not null" json:"token"`
	State      States `gorm:"index" json:"state"`

	StartedAt time.Time  `gorm:"not null;index" json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	ResponseCount   int `json:"responseCount"`
	FileCount       int `json:"fileCount"`
	LockedFileCount int `json:"lockedFileCount"`

	// Responses holds the serialized response blob. Nil until the search
	// ends; stripped from reads unless explicitly requested.
	Responses []byte `gorm:"type:blob" json:"-"`
}

// TableName returns the table name for Search.
func (Search) TableName() string {
	return "searches"
}

// BeforeSave normalizes timestamps to UTC.
func (s *Search) BeforeSave(*gorm.DB) error {
	s.StartedAt = s.StartedAt.UTC()
	if s.EndedAt != nil {
		utc := s.EndedAt.UTC()
		s.EndedAt = &utc
	}
	return nil
}

// AfterFind forces date columns read from SQLite back to UTC.
func (s *Search) AfterFind(*gorm.DB) error {
	s.StartedAt = s.StartedAt.UTC()
	if s.EndedAt != nil {
		utc := s.EndedAt.UTC()
		s.EndedAt = &utc
	}
	return nil
}

// SetResponses serializes the response list into the blob column.
func (s *Search) SetResponses(responses []peer.Response) error {
	blob, err := json.Marshal(responses)
	if err != nil {
		return fmt.Errorf("failed to serialize search responses: %w", err)
	}
	s.Responses = blob
	return nil
}

// DecodeResponses deserializes the blob column. Returns an empty slice
// when no responses were persisted.
func (s *Search) DecodeResponses() ([]peer.Response, error) {
	if len(s.Responses) == 0 {
		return nil, nil
	}
	var responses []peer.Response
	if err := json.Unmarshal(s.Responses, &responses); err != nil {
		return nil, fmt.Errorf("failed to deserialize search responses: %w", err)
	}
	return responses, nil
}

// WithoutResponses returns a copy with the response blob elided, for list
// views and push broadcasts.
func (s Search) WithoutResponses() Search {
	s.Responses = nil
	return s
}
