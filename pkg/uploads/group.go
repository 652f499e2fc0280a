// Package uploads implements the upload queue: a multi-group slot scheduler
// that decides when each queued upload may begin, subject to a global slot
// cap, per-group slot caps, group priority, and per-group queuing strategy.
package uploads

import (
	"fmt"
	"strings"
)

// Built-in groups. These always exist; configuration may adjust their
// limits and any number of user-defined groups may be added.
const (
	GroupDefault    = "default"
	GroupLeechers   = "leechers"
	GroupPrivileged = "privileged"
)

// Strategy selects how a group picks the next ready upload to release.
type Strategy int

const (
	// FirstInFirstOut releases the entry that was enqueued first.
	FirstInFirstOut Strategy = iota

	// RoundRobin releases the entry that reached readiness first.
	RoundRobin
)

func (s Strategy) String() string {
	switch s {
	case FirstInFirstOut:
		return "FirstInFirstOut"
	case RoundRobin:
		return "RoundRobin"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy converts a configuration string to a Strategy. Unparseable
// values are a configuration error and must fail fast.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "firstinfirstout", "fifo":
		return FirstInFirstOut, nil
	case "roundrobin", "rr":
		return RoundRobin, nil
	default:
		return 0, fmt.Errorf("unknown queue strategy %q", s)
	}
}

// GroupConfig is the scheduling policy for one upload group.
type GroupConfig struct {
	// Name identifies the group.
	Name string

	// Slots is the maximum number of concurrent uploads the group may hold.
	Slots int

	// Priority orders groups during scheduling; lower is higher priority.
	Priority int

	// Strategy picks the next ready entry within the group.
	Strategy Strategy
}

// DefaultGroupConfigs returns the built-in groups with their default policy:
// privileged users first, ordinary peers next, leechers last.
func DefaultGroupConfigs() []GroupConfig {
	return []GroupConfig{
		{Name: GroupPrivileged, Slots: 10, Priority: 0, Strategy: FirstInFirstOut},
		{Name: GroupDefault, Slots: 10, Priority: 1, Strategy: FirstInFirstOut},
		{Name: GroupLeechers, Slots: 1, Priority: 2, Strategy: RoundRobin},
	}
}

// ensureBuiltins appends any missing built-in group to the configuration.
func ensureBuiltins(configs []GroupConfig) []GroupConfig {
	present := make(map[string]bool, len(configs))
	for _, c := range configs {
		present[c.Name] = true
	}
	for _, builtin := range DefaultGroupConfigs() {
		if !present[builtin.Name] {
			configs = append(configs, builtin)
		}
	}
	return configs
}
