package peer

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Client. Protocol implementations register one under a
// driver name; the daemon selects it through configuration.
type Factory func() (Client, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]Factory{}
)

// Register makes a client implementation available under the given driver
// name. It panics on a duplicate name, like database/sql.
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("peer: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("peer: Register called twice for driver " + name)
	}
	drivers[name] = factory
}

// Open builds a client from a registered driver.
func Open(name string) (Client, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown peer driver %q (registered: %v)", name, Drivers())
	}
	return factory()
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
