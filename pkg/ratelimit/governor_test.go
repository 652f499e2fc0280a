package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticResolver(groups map[string]string) GroupResolver {
	return func(username string) string {
		return groups[username]
	}
}

func TestGovernor_RoutesToGroupBucket(t *testing.T) {
	g := NewGovernor(staticResolver(map[string]string{
		"alice": "privileged",
	}), GroupLimits{
		"privileged": 10, // 1024 bytes per period
		"default":    0,  // unlimited
	})
	defer g.Close()

	ctx := context.Background()

	granted, err := g.GetBytes(ctx, "alice", 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), granted, "privileged bucket caps the grant")

	granted, err = g.GetBytes(ctx, "bob", 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), granted, "unmapped users use the unlimited default bucket")
}

func TestGovernor_UnknownGroupFallsBackToDefault(t *testing.T) {
	g := NewGovernor(staticResolver(map[string]string{
		"carol": "no-such-group",
	}), GroupLimits{
		"default": 10,
	})
	defer g.Close()

	granted, err := g.GetBytes(context.Background(), "carol", 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), granted, "unknown groups resolve to the default bucket")
}

func TestGovernor_ReturnBytes(t *testing.T) {
	g := NewGovernor(nil, GroupLimits{
		"default": 10,
	})
	defer g.Close()

	ctx := context.Background()

	granted, err := g.GetBytes(ctx, "dave", 1024)
	require.NoError(t, err)
	require.Equal(t, int64(1024), granted)

	// The upload only wrote 224 bytes; the rest goes back.
	g.ReturnBytes("dave", granted, 224)

	granted, err = g.GetBytes(ctx, "dave", 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(800), granted)
}

func TestGovernor_ReturnBytesNeverNegative(t *testing.T) {
	g := NewGovernor(nil, GroupLimits{
		"default": 10,
	})
	defer g.Close()

	ctx := context.Background()
	granted, err := g.GetBytes(ctx, "erin", 512)
	require.NoError(t, err)
	require.Equal(t, int64(512), granted)

	// actual > granted must not drain the bucket further.
	g.ReturnBytes("erin", granted, granted+100)

	granted, err = g.GetBytes(ctx, "erin", 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(512), granted, "remaining tokens are untouched")
}

func TestGovernor_Reconfigure(t *testing.T) {
	g := NewGovernor(nil, GroupLimits{
		"default": 10,
	})
	defer g.Close()

	ctx := context.Background()
	_, err := g.GetBytes(ctx, "frank", 1024)
	require.NoError(t, err)

	g.Reconfigure(GroupLimits{
		"default": 20,
	})

	// Rebuilt buckets start full at the new capacity.
	granted, err := g.GetBytes(ctx, "frank", 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), granted)

	// The drained bucket refills on its own period.
	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	granted, err = g.GetBytes(ctx2, "frank", 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), granted)
}
