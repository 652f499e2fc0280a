package ratelimit

import (
	"context"
	"sync"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/metrics"
)

// DefaultGroup is the bucket used when a username resolves to no group.
const DefaultGroup = "default"

// GroupResolver maps a remote username to its upload group name. An empty
// result falls back to DefaultGroup.
type GroupResolver func(username string) string

// GroupLimits maps group name to its upload speed limit in KiB/s. A zero
// limit disables throttling for that group.
type GroupLimits map[string]int

// Governor routes byte grants for in-flight uploads to per-group token
// buckets.
//
// Reconfigure rebuilds every bucket in a single swap; uploads already
// waiting on an old bucket finish their current grant against it, which
// briefly lets them see a freshly refilled budget. That is acceptable.
type Governor struct {
	mu      sync.RWMutex
	resolve GroupResolver
	buckets map[string]*Bucket
	metrics metrics.UploadMetrics
}

// NewGovernor creates a governor with buckets for the given group limits.
// The DefaultGroup bucket always exists, unlimited unless configured.
func NewGovernor(resolve GroupResolver, limits GroupLimits) *Governor {
	g := &Governor{resolve: resolve}
	g.buckets = buildBuckets(limits)
	return g
}

func buildBuckets(limits GroupLimits) map[string]*Bucket {
	buckets := make(map[string]*Bucket, len(limits)+1)
	for name, limit := range limits {
		buckets[name] = NewBucket(CapacityForLimit(limit), 0)
	}
	if _, ok := buckets[DefaultGroup]; !ok {
		buckets[DefaultGroup] = NewBucket(0, 0)
	}
	return buckets
}

// SetMetrics attaches upload metrics. Nil disables collection.
func (g *Governor) SetMetrics(m metrics.UploadMetrics) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics = m
}

// GetBytes suspends until the resolved group's bucket grants at least one
// byte, then returns the granted count, at most requested.
func (g *Governor) GetBytes(ctx context.Context, username string, requested int64) (int64, error) {
	bucket, group := g.bucketFor(username)
	granted, err := bucket.Get(ctx, requested)
	if err == nil {
		g.mu.RLock()
		m := g.metrics
		g.mu.RUnlock()
		if m != nil {
			m.RecordGrantedBytes(group, granted)
		}
	}
	return granted, err
}

// ReturnBytes returns the unused portion of a grant to the resolved group's
// bucket. granted is what GetBytes handed out and actual is what the upload
// consumed; the difference, when positive, is reintroduced.
func (g *Governor) ReturnBytes(username string, granted, actual int64) {
	waste := granted - actual
	if waste <= 0 {
		return
	}
	bucket, _ := g.bucketFor(username)
	bucket.Return(waste)
}

// Reconfigure rebuilds all buckets from the new limits in one swap and
// closes the old buckets' refill loops.
func (g *Governor) Reconfigure(limits GroupLimits) {
	fresh := buildBuckets(limits)

	g.mu.Lock()
	old := g.buckets
	g.buckets = fresh
	g.mu.Unlock()

	for _, b := range old {
		b.Close()
	}

	logger.Info("upload governor reconfigured", "groups", len(fresh))
}

// Close stops every bucket's refill loop.
func (g *Governor) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.buckets {
		b.Close()
	}
}

func (g *Governor) bucketFor(username string) (*Bucket, string) {
	group := DefaultGroup
	if g.resolve != nil {
		if resolved := g.resolve(username); resolved != "" {
			group = resolved
		}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if b, ok := g.buckets[group]; ok {
		return b, group
	}
	return g.buckets[DefaultGroup], DefaultGroup
}
