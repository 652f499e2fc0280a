package search

import (
	"sync"
	"time"
)

// DefaultCoalesceInterval bounds counter persistence and push broadcasts
// to one flush per search per interval.
const DefaultCoalesceInterval = 250 * time.Millisecond

// Coalescer rate-limits work per key. The first submission in a window
// runs immediately; further submissions within the window replace each
// other and the latest one runs when the window closes (trailing edge),
// opening the next window.
type Coalescer struct {
	interval time.Duration

	mu      sync.Mutex
	pending map[string]func()
	open    map[string]bool
	closed  bool
}

// NewCoalescer creates a coalescer with the given window. A non-positive
// interval falls back to the default.
func NewCoalescer(interval time.Duration) *Coalescer {
	if interval <= 0 {
		interval = DefaultCoalesceInterval
	}
	return &Coalescer{
		interval: interval,
		pending:  make(map[string]func()),
		open:     make(map[string]bool),
	}
}

// Submit schedules fn under the key's rate limit. fn runs on the caller's
// goroutine when the window is closed, otherwise on a timer goroutine when
// the window ends. Later submissions within a window supersede earlier ones.
func (c *Coalescer) Submit(key string, fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.open[key] {
		c.pending[key] = fn
		c.mu.Unlock()
		return
	}
	c.open[key] = true
	c.mu.Unlock()

	fn()
	time.AfterFunc(c.interval, func() { c.windowEnd(key) })
}

// Flush runs any pending work for the key immediately and resets its
// window. Used on terminal transitions so the final counter write lands
// before the terminal broadcast.
func (c *Coalescer) Flush(key string) {
	c.mu.Lock()
	fn := c.pending[key]
	delete(c.pending, key)
	delete(c.open, key)
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Forget drops any pending work and window state for the key.
func (c *Coalescer) Forget(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	delete(c.open, key)
	c.mu.Unlock()
}

// Close drops all pending work; subsequent submissions are ignored.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	c.pending = make(map[string]func())
	c.open = make(map[string]bool)
	c.mu.Unlock()
}

func (c *Coalescer) windowEnd(key string) {
	c.mu.Lock()
	if c.closed || !c.open[key] {
		c.mu.Unlock()
		return
	}
	fn := c.pending[key]
	delete(c.pending, key)
	if fn == nil {
		// Nothing arrived during the window; close it.
		delete(c.open, key)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	fn()
	time.AfterFunc(c.interval, func() { c.windowEnd(key) })
}
