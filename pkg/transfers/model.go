// Package transfers tracks uploads and downloads: the in-memory view of
// in-flight transfers and the durable records projected from it.
package transfers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Common transfer errors.
var (
	ErrTransferNotFound = errors.New("transfer not found")
	ErrTerminalState    = errors.New("transfer is already in a terminal state")
)

// Direction distinguishes downloads from uploads. It is persisted by name.
type Direction string

const (
	Download Direction = "Download"
	Upload   Direction = "Upload"
)

// ParseDirection converts a string to a Direction, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "download":
		return Download, nil
	case "upload":
		return Upload, nil
	default:
		return "", fmt.Errorf("unknown transfer direction %q", s)
	}
}

// States is a bitflag set describing a transfer's lifecycle. The numeric
// form is the source of truth; the textual description is a mirror column
// maintained for query by description.
type States int

const (
	StateNone         States = 0
	StateRequested    States = 1 << 0
	StateQueued       States = 1 << 1
	StateInitializing States = 1 << 2
	StateInProgress   States = 1 << 3
	StateCompleted    States = 1 << 4
	StateSucceeded    States = 1 << 5
	StateCancelled    States = 1 << 6
	StateTimedOut     States = 1 << 7
	StateErrored      States = 1 << 8
	StateRejected     States = 1 << 9
	StateAborted      States = 1 << 10
	StateLocally      States = 1 << 11
	StateRemotely     States = 1 << 12
)

// terminalStates are the flags after which no further transition is allowed.
const terminalStates = StateCompleted | StateCancelled | StateTimedOut |
	StateErrored | StateRejected | StateAborted

// stateNames is ordered by flag value for deterministic descriptions.
var stateNames = []struct {
	flag States
	name string
}{
	{StateRequested, "Requested"},
	{StateQueued, "Queued"},
	{StateInitializing, "Initializing"},
	{StateInProgress, "InProgress"},
	{StateCompleted, "Completed"},
	{StateSucceeded, "Succeeded"},
	{StateCancelled, "Cancelled"},
	{StateTimedOut, "TimedOut"},
	{StateErrored, "Errored"},
	{StateRejected, "Rejected"},
	{StateAborted, "Aborted"},
	{StateLocally, "Locally"},
	{StateRemotely, "Remotely"},
}

// String renders the flag set as a comma-separated list of state names,
// e.g. "Completed, Succeeded". The zero value renders as "None".
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

// IsTerminal reports whether any terminal flag is set.
func (s States) IsTerminal() bool {
	return s&terminalStates != 0
}

// ParseStates converts a textual description ("Completed, Succeeded") back
// to the bitflag form. Unknown names are an error; migrations use this to
// translate legacy textual state columns and must fail fast on garbage.
func ParseStates(s string) (States, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "None") {
		return StateNone, nil
	}
	var result States
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		matched := false
		for _, entry := range stateNames {
			if strings.EqualFold(entry.name, part) {
				result |= entry.flag
				matched = true
				break
			}
		}
		if !matched {
			return 0, fmt.Errorf("unknown transfer state %q", part)
		}
	}
	return result, nil
}

// Transfer is one upload or download, durable across restarts.
//
// Invariants:
//   - EndedAt is only set when StartedAt is set.
//   - Terminal states are monotonic: once any terminal flag is set,
//     further state transitions are rejected.
//   - BytesTransferred never exceeds Size.
type Transfer struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Direction Direction `gorm:"index;not null;size:16;index:idx_transfers_history,priority:2" json:"direction"`
	Username  string    `gorm:"not null;size:255;index:idx_transfers_user_file;index:idx_transfers_history,priority:1" json:"username"`
	Filename  string    `gorm:"not null;index:idx_transfers_user_file" json:"filename"`

	Size             int64   `gorm:"index:idx_transfers_history,priority:6" json:"size"`
	StartOffset      int64   `json:"startOffset"`
	BytesTransferred int64   `json:"bytesTransferred"`
	AverageSpeed     float64 `json:"averageSpeed"`

	State            States `gorm:"index;index:idx_transfers_history,priority:5" json:"state"`
	StateDescription string `gorm:"size:255" json:"stateDescription"`

	RequestedAt time.Time  `gorm:"not null" json:"requestedAt"`
	EnqueuedAt  *time.Time `json:"enqueuedAt,omitempty"`
	StartedAt   *time.Time `gorm:"index:idx_transfers_history,priority:4" json:"startedAt,omitempty"`
	EndedAt     *time.Time `gorm:"index:idx_transfers_history,priority:3" json:"endedAt,omitempty"`

	Attempts  int     `gorm:"default:0" json:"attempts"`
	GroupID   *string `gorm:"index;size:255" json:"groupId,omitempty"`
	Removed   bool    `gorm:"index;default:false" json:"removed"`
	Exception *string `json:"exception,omitempty"`
}

// TableName returns the table name for Transfer.
func (Transfer) TableName() string {
	return "transfers"
}

// SetState applies a state transition. Transitions out of a terminal state
// are rejected; entering a terminal state stamps EndedAt.
func (t *Transfer) SetState(next States) error {
	if t.State.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, t.State)
	}
	t.State = next
	t.StateDescription = next.String()
	if next.IsTerminal() {
		now := time.Now().UTC()
		t.EndedAt = &now
	}
	return nil
}

// SetProgress records transferred bytes and speed, clamping bytes to Size.
func (t *Transfer) SetProgress(bytes int64, speed float64) {
	if t.Size > 0 && bytes > t.Size {
		bytes = t.Size
	}
	t.BytesTransferred = bytes
	t.AverageSpeed = speed
}

// PercentComplete returns transfer progress in [0, 100].
func (t *Transfer) PercentComplete() float64 {
	if t.Size <= 0 {
		return 0
	}
	return float64(t.BytesTransferred) / float64(t.Size) * 100
}

// BeforeSave derives the state description mirror and normalizes all
// timestamps to UTC, so the write and its description land in the same
// statement. An EndedAt without a StartedAt is a programming error.
func (t *Transfer) BeforeSave(*gorm.DB) error {
	if t.EndedAt != nil && t.StartedAt == nil {
		return fmt.Errorf("transfer %s has ended_at without started_at", t.ID)
	}
	t.StateDescription = t.State.String()
	t.RequestedAt = t.RequestedAt.UTC()
	t.EnqueuedAt = toUTC(t.EnqueuedAt)
	t.StartedAt = toUTC(t.StartedAt)
	t.EndedAt = toUTC(t.EndedAt)
	return nil
}

// AfterFind forces date columns read from SQLite back to UTC so reads
// round-trip regardless of the process's local zone.
func (t *Transfer) AfterFind(*gorm.DB) error {
	t.RequestedAt = t.RequestedAt.UTC()
	t.EnqueuedAt = toUTC(t.EnqueuedAt)
	t.StartedAt = toUTC(t.StartedAt)
	t.EndedAt = toUTC(t.EndedAt)
	return nil
}

func toUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
