package uploads

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/metrics"
)

var (
	// ErrNotEnqueued is returned by Ready when no matching entry exists.
	ErrNotEnqueued = errors.New("upload is not enqueued")

	// ErrAlreadyEnqueued is returned by Enqueue for a duplicate entry.
	ErrAlreadyEnqueued = errors.New("upload is already enqueued")
)

// Resolver maps a remote username to its upload group name. An empty result
// falls back to GroupDefault.
type Resolver func(username string) string

// entry is one upload waiting in a group's bag.
type entry struct {
	username   string
	filename   string
	enqueuedAt time.Time
	readyAt    *time.Time
	released   chan struct{}
}

// group is the live scheduling state for one configured group.
type group struct {
	cfg       GroupConfig
	usedSlots int
	entries   []*entry
}

// Queue admits queued uploads to transfer slots.
//
// All state lives behind a single mutex. Every public method acquires it,
// mutates, releases, and then runs a processing pass (which re-acquires it);
// this keeps scheduling serialized without reentrancy.
type Queue struct {
	mu       sync.Mutex
	maxSlots int
	groups   map[string]*group
	resolve  Resolver
	metrics  metrics.UploadMetrics
}

// NewQueue creates a queue with the given global slot cap and group
// configuration. The built-in groups are always materialized.
func NewQueue(maxSlots int, configs []GroupConfig, resolve Resolver) *Queue {
	q := &Queue{
		maxSlots: maxSlots,
		groups:   make(map[string]*group),
		resolve:  resolve,
	}
	for _, cfg := range ensureBuiltins(configs) {
		q.groups[cfg.Name] = &group{cfg: cfg}
	}
	return q
}

// SetMetrics attaches upload metrics. Nil disables collection.
func (q *Queue) SetMetrics(m metrics.UploadMetrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = m
}

// Enqueue inserts a waiting entry into the resolved group's bag and triggers
// a processing pass.
func (q *Queue) Enqueue(username, filename string) error {
	q.mu.Lock()
	g := q.groupForLocked(username)
	if q.findLocked(g, username, filename) != nil {
		q.mu.Unlock()
		return ErrAlreadyEnqueued
	}
	g.entries = append(g.entries, &entry{
		username:   username,
		filename:   filename,
		enqueuedAt: time.Now(),
		released:   make(chan struct{}),
	})
	q.mu.Unlock()

	q.process()
	return nil
}

// Ready marks an already-enqueued entry as ready for release and returns a
// signal that is closed when the scheduler grants the entry a slot. Calling
// Ready again for the same entry returns the same signal without resetting
// the ready time.
func (q *Queue) Ready(username, filename string) (<-chan struct{}, error) {
	q.mu.Lock()
	e := q.findAnyLocked(username, filename)
	if e == nil {
		q.mu.Unlock()
		return nil, ErrNotEnqueued
	}
	if e.readyAt == nil {
		now := time.Now()
		e.readyAt = &now
	}
	released := e.released
	q.mu.Unlock()

	q.process()
	return released, nil
}

// Complete records that an upload previously released to a slot has
// finished, freeing the resolved group's slot, and triggers a processing
// pass. The used-slot count never goes below zero.
func (q *Queue) Complete(username, filename string) {
	q.mu.Lock()
	g := q.groupForLocked(username)
	if g.usedSlots > 0 {
		g.usedSlots--
	}
	q.mu.Unlock()

	q.process()
}

// Remove discards an enqueued entry without releasing it, for uploads
// cancelled before they reached a slot.
func (q *Queue) Remove(username, filename string) {
	q.mu.Lock()
	for _, g := range q.groups {
		for i, e := range g.entries {
			if e.username == username && e.filename == filename {
				g.entries = append(g.entries[:i], g.entries[i+1:]...)
				break
			}
		}
	}
	q.mu.Unlock()

	q.process()
}

// UsedSlots returns the live used-slot counts keyed by group name.
func (q *Queue) UsedSlots() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.groups))
	for name, g := range q.groups {
		out[name] = g.usedSlots
	}
	return out
}

// Depth returns the number of entries waiting in each group.
func (q *Queue) Depth() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.groups))
	for name, g := range q.groups {
		out[name] = len(g.entries)
	}
	return out
}

// Reconfigure rebuilds the group dictionary from new configuration. Live
// used-slot counts are preserved by group name; renamed or removed groups
// forfeit their counts. Waiting entries migrate to their group's successor,
// or to the group their username now resolves to when the group is gone.
func (q *Queue) Reconfigure(maxSlots int, configs []GroupConfig) {
	q.mu.Lock()
	fresh := make(map[string]*group)
	for _, cfg := range ensureBuiltins(configs) {
		fresh[cfg.Name] = &group{cfg: cfg}
	}
	var orphans []*entry
	for name, old := range q.groups {
		if g, ok := fresh[name]; ok {
			g.usedSlots = old.usedSlots
			g.entries = old.entries
		} else {
			orphans = append(orphans, old.entries...)
		}
	}
	q.maxSlots = maxSlots
	q.groups = fresh
	for _, e := range orphans {
		g := q.groupForLocked(e.username)
		g.entries = append(g.entries, e)
	}
	q.mu.Unlock()

	logger.Info("upload queue reconfigured", "max_slots", maxSlots, "groups", len(fresh))
	q.process()
}

// process runs one scheduling pass, repeating until a full scan releases
// nothing. Groups are scanned in ascending priority order; within a group
// the strategy picks among ready entries. Each release closes the entry's
// signal and consumes one slot.
func (q *Queue) process() {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.publishLocked()

	for {
		if q.totalUsedLocked() >= q.maxSlots {
			return
		}
		if !q.anyReadyLocked() {
			return
		}

		released := false
		for _, g := range q.sortedGroupsLocked() {
			if q.totalUsedLocked() >= q.maxSlots {
				break
			}
			if g.usedSlots >= g.cfg.Slots {
				continue
			}
			e := pickReady(g)
			if e == nil {
				continue
			}
			q.removeLocked(g, e)
			g.usedSlots++
			close(e.released)
			released = true
			logger.Debug("upload released to slot",
				"username", e.username,
				"filename", e.filename,
				"group", g.cfg.Name,
				"used_slots", g.usedSlots)
		}

		if !released {
			return
		}
	}
}

// publishLocked refreshes the per-group gauges after a scheduling pass.
func (q *Queue) publishLocked() {
	if q.metrics == nil {
		return
	}
	for name, g := range q.groups {
		q.metrics.SetSlotsInUse(name, g.usedSlots)
		q.metrics.SetQueueDepth(name, len(g.entries))
	}
}

// pickReady selects the group's next releasable entry per its strategy:
// FIFO picks the oldest enqueue time, RoundRobin the oldest ready time.
func pickReady(g *group) *entry {
	var best *entry
	for _, e := range g.entries {
		if e.readyAt == nil {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		switch g.cfg.Strategy {
		case RoundRobin:
			if e.readyAt.Before(*best.readyAt) {
				best = e
			}
		default:
			if e.enqueuedAt.Before(best.enqueuedAt) {
				best = e
			}
		}
	}
	return best
}

func (q *Queue) groupForLocked(username string) *group {
	name := GroupDefault
	if q.resolve != nil {
		if resolved := q.resolve(username); resolved != "" {
			name = resolved
		}
	}
	if g, ok := q.groups[name]; ok {
		return g
	}
	return q.groups[GroupDefault]
}

func (q *Queue) findLocked(g *group, username, filename string) *entry {
	for _, e := range g.entries {
		if e.username == username && e.filename == filename {
			return e
		}
	}
	return nil
}

// findAnyLocked searches every group; entries may sit in a group the
// username no longer resolves to after a reconfiguration.
func (q *Queue) findAnyLocked(username, filename string) *entry {
	for _, g := range q.groups {
		if e := q.findLocked(g, username, filename); e != nil {
			return e
		}
	}
	return nil
}

func (q *Queue) removeLocked(g *group, target *entry) {
	for i, e := range g.entries {
		if e == target {
			g.entries = append(g.entries[:i], g.entries[i+1:]...)
			return
		}
	}
}

func (q *Queue) totalUsedLocked() int {
	total := 0
	for _, g := range q.groups {
		total += g.usedSlots
	}
	return total
}

func (q *Queue) anyReadyLocked() bool {
	for _, g := range q.groups {
		for _, e := range g.entries {
			if e.readyAt != nil {
				return true
			}
		}
	}
	return false
}

// sortedGroupsLocked returns groups in ascending priority order, ties broken
// by name so scheduling is deterministic.
func (q *Queue) sortedGroupsLocked() []*group {
	groups := make([]*group, 0, len(q.groups))
	for _, g := range q.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].cfg.Priority != groups[j].cfg.Priority {
			return groups[i].cfg.Priority < groups[j].cfg.Priority
		}
		return groups[i].cfg.Name < groups[j].cfg.Name
	})
	return groups
}
