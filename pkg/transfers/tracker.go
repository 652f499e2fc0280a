package transfers

import (
	"context"
	"sync"
)

// Record pairs a transfer snapshot with the cancellation handle of the work
// driving it. Snapshots are immutable: callers must copy before mutating.
type Record struct {
	Transfer Transfer
	Cancel   context.CancelFunc
}

// Tracker is the in-memory index of active transfers, keyed three levels
// deep: direction, then username, then transfer id.
//
// All mutations are safe under concurrent access from callback goroutines;
// each level is a lock-free concurrent map.
type Tracker struct {
	// directions maps Direction -> *sync.Map (username -> *sync.Map (id -> Record)).
	directions sync.Map
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// AddOrUpdate inserts or replaces the record for the transfer's
// (direction, username, id) tuple.
func (tr *Tracker) AddOrUpdate(t Transfer, cancel context.CancelFunc) {
	users, _ := tr.directions.LoadOrStore(t.Direction, &sync.Map{})
	ids, _ := users.(*sync.Map).LoadOrStore(t.Username, &sync.Map{})
	ids.(*sync.Map).Store(t.ID, Record{Transfer: t, Cancel: cancel})
}

// TryGet returns the record for (direction, username, id), if present.
func (tr *Tracker) TryGet(direction Direction, username, id string) (Record, bool) {
	ids, ok := tr.userMap(direction, username)
	if !ok {
		return Record{}, false
	}
	value, ok := ids.Load(id)
	if !ok {
		return Record{}, false
	}
	return value.(Record), true
}

// TryRemove removes the record for (direction, username, id). When the
// user's inner map empties, the user entry is removed as well.
func (tr *Tracker) TryRemove(direction Direction, username, id string) bool {
	users, ok := tr.directions.Load(direction)
	if !ok {
		return false
	}
	ids, ok := users.(*sync.Map).Load(username)
	if !ok {
		return false
	}
	_, existed := ids.(*sync.Map).LoadAndDelete(id)
	if existed && mapEmpty(ids.(*sync.Map)) {
		users.(*sync.Map).Delete(username)
	}
	return existed
}

// TryRemoveUser removes every record for (direction, username).
func (tr *Tracker) TryRemoveUser(direction Direction, username string) bool {
	users, ok := tr.directions.Load(direction)
	if !ok {
		return false
	}
	_, existed := users.(*sync.Map).LoadAndDelete(username)
	return existed
}

// Contains reports whether the user has an active transfer with the given
// filename in the given direction. This is a linear scan of the user's
// entries.
func (tr *Tracker) Contains(direction Direction, username, filename string) bool {
	ids, ok := tr.userMap(direction, username)
	if !ok {
		return false
	}
	found := false
	ids.Range(func(_, value any) bool {
		if value.(Record).Transfer.Filename == filename {
			found = true
			return false
		}
		return true
	})
	return found
}

// List returns snapshots of every tracked transfer in the given direction.
func (tr *Tracker) List(direction Direction) []Transfer {
	var out []Transfer
	users, ok := tr.directions.Load(direction)
	if !ok {
		return out
	}
	users.(*sync.Map).Range(func(_, ids any) bool {
		ids.(*sync.Map).Range(func(_, value any) bool {
			out = append(out, value.(Record).Transfer)
			return true
		})
		return true
	})
	return out
}

func (tr *Tracker) userMap(direction Direction, username string) (*sync.Map, bool) {
	users, ok := tr.directions.Load(direction)
	if !ok {
		return nil, false
	}
	ids, ok := users.(*sync.Map).Load(username)
	if !ok {
		return nil, false
	}
	return ids.(*sync.Map), true
}

func mapEmpty(m *sync.Map) bool {
	empty := true
	m.Range(func(_, _ any) bool {
		empty = false
		return false
	})
	return empty
}
