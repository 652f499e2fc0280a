// Package ratelimit implements the byte-grant rate limiting used for
// outbound transfers: a periodic-refill token bucket and the upload
// governor that routes each upload to its group's bucket.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultRefillsPerSecond is how many times per second a bucket refills.
// The bucket's capacity equals its per-period budget, so a 100 KiB/s limit
// becomes ten 10240-byte refills per second.
const DefaultRefillsPerSecond = 10

// CapacityForLimit computes a bucket capacity in bytes from a speed limit in
// KiB/s. A zero or negative limit yields zero, which disables the bucket.
func CapacityForLimit(speedKiBPerSecond int) int64 {
	if speedKiBPerSecond <= 0 {
		return 0
	}
	return int64(speedKiBPerSecond) * 1024 / DefaultRefillsPerSecond
}

// waiter is one suspended Get call.
type waiter struct {
	requested int64
	granted   chan int64 // buffered, capacity 1
}

// Bucket is a capacity-bounded token bucket with periodic refill.
//
// Tokens are bytes. Get suspends until at least one token is available and
// then grants min(requested, available). Return reintroduces unused tokens,
// capped at capacity. Every period the bucket refills to capacity.
//
// A Bucket with capacity <= 0 is unlimited: Get grants the full request
// immediately and Return is a no-op.
type Bucket struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
	waiters  *list.List // of *waiter, FIFO

	period time.Duration
	stop   chan struct{}
	once   sync.Once
}

// NewBucket creates a bucket and starts its refill loop. period is the
// replenishment interval; the zero value defaults to 100 ms.
func NewBucket(capacity int64, period time.Duration) *Bucket {
	if period <= 0 {
		period = time.Second / DefaultRefillsPerSecond
	}
	b := &Bucket{
		capacity: capacity,
		tokens:   capacity,
		waiters:  list.New(),
		period:   period,
		stop:     make(chan struct{}),
	}
	if capacity > 0 {
		go b.replenishLoop()
	}
	return b
}

// Capacity returns the configured capacity in bytes per period.
func (b *Bucket) Capacity() int64 {
	return b.capacity
}

// Unlimited reports whether the bucket grants without limit.
func (b *Bucket) Unlimited() bool {
	return b.capacity <= 0
}

// Get suspends until at least one token is available, then grants
// min(requested, available), decrementing the bucket atomically. Waiters are
// woken in FIFO order. A cancelled waiter never loses tokens: a grant that
// races with cancellation is returned to the bucket.
func (b *Bucket) Get(ctx context.Context, requested int64) (int64, error) {
	if requested <= 0 {
		return 0, nil
	}
	if b.Unlimited() {
		return requested, nil
	}

	b.mu.Lock()
	if b.tokens > 0 && b.waiters.Len() == 0 {
		granted := min64(requested, b.tokens)
		b.tokens -= granted
		b.mu.Unlock()
		return granted, nil
	}

	w := &waiter{requested: requested, granted: make(chan int64, 1)}
	elem := b.waiters.PushBack(w)
	b.mu.Unlock()

	select {
	case granted := <-w.granted:
		return granted, nil
	case <-ctx.Done():
		b.mu.Lock()
		select {
		case granted := <-w.granted:
			// Granted concurrently with cancellation; put it back.
			b.tokens = min64(b.capacity, b.tokens+granted)
			b.wakeWaitersLocked()
		default:
			b.waiters.Remove(elem)
		}
		b.mu.Unlock()
		return 0, ctx.Err()
	}
}

// Return reintroduces n unused tokens. The total never exceeds capacity.
func (b *Bucket) Return(n int64) {
	if n <= 0 || b.Unlimited() {
		return
	}
	b.mu.Lock()
	b.tokens = min64(b.capacity, b.tokens+n)
	b.wakeWaitersLocked()
	b.mu.Unlock()
}

// Tokens returns the current token count. Intended for tests and metrics.
func (b *Bucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Close stops the refill loop. Pending waiters are not released; callers are
// expected to cancel their contexts when tearing a bucket down.
func (b *Bucket) Close() {
	b.once.Do(func() { close(b.stop) })
}

func (b *Bucket) replenishLoop() {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.wakeWaitersLocked()
			b.mu.Unlock()
		case <-b.stop:
			return
		}
	}
}

// wakeWaitersLocked grants tokens to suspended waiters in FIFO order while
// any tokens remain. Callers must hold b.mu.
func (b *Bucket) wakeWaitersLocked() {
	for b.tokens > 0 {
		front := b.waiters.Front()
		if front == nil {
			return
		}
		w := front.Value.(*waiter)
		granted := min64(w.requested, b.tokens)
		b.tokens -= granted
		b.waiters.Remove(front)
		w.granted <- granted
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
