package search

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestCoalescer_FirstSubmissionRunsImmediately(t *testing.T) {
	c := NewCoalescer(50 * time.Millisecond)
	defer c.Close()

	var runs counter
	c.Submit("k", runs.inc)
	assert.Equal(t, 1, runs.value())
}

func TestCoalescer_BurstCollapsesToTrailingEdge(t *testing.T) {
	c := NewCoalescer(50 * time.Millisecond)
	defer c.Close()

	var runs counter
	for i := 0; i < 10; i++ {
		c.Submit("k", runs.inc)
	}
	// Leading edge ran once; the burst collapses into one trailing run.
	assert.Equal(t, 1, runs.value())

	require.Eventually(t, func() bool { return runs.value() == 2 },
		time.Second, 5*time.Millisecond)

	// Nothing further pending: count stays put.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 2, runs.value())
}

func TestCoalescer_KeysAreIndependent(t *testing.T) {
	c := NewCoalescer(50 * time.Millisecond)
	defer c.Close()

	var a, b counter
	c.Submit("a", a.inc)
	c.Submit("b", b.inc)
	assert.Equal(t, 1, a.value())
	assert.Equal(t, 1, b.value())
}

func TestCoalescer_FlushRunsPendingImmediately(t *testing.T) {
	c := NewCoalescer(time.Hour) // window never closes on its own
	defer c.Close()

	var runs counter
	c.Submit("k", runs.inc)
	c.Submit("k", runs.inc)
	require.Equal(t, 1, runs.value())

	c.Flush("k")
	assert.Equal(t, 2, runs.value())

	// Flush reset the window: the next submission runs immediately.
	c.Submit("k", runs.inc)
	assert.Equal(t, 3, runs.value())
}

func TestCoalescer_ForgetDropsPending(t *testing.T) {
	c := NewCoalescer(30 * time.Millisecond)
	defer c.Close()

	var runs counter
	c.Submit("k", runs.inc)
	c.Submit("k", runs.inc)
	c.Forget("k")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, runs.value(), "forgotten work never runs")
}

func TestCoalescer_CloseIgnoresSubmissions(t *testing.T) {
	c := NewCoalescer(30 * time.Millisecond)
	c.Close()

	var runs counter
	c.Submit("k", runs.inc)
	assert.Zero(t, runs.value())
}
