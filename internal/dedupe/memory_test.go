// ABOUTME: Tests for the in-process dedupe checker
// ABOUTME: Validates TTL expiry, eviction order, sweeping and concurrent use

package dedupe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(t *testing.T, ttl time.Duration, max int) (*Memory, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewMemory(ttl, max)
	m.now = clock.Now
	t.Cleanup(func() { _ = m.Close() })
	return m, clock
}

func TestMemory_FirstSightingIsNew(t *testing.T) {
	m, _ := newTestMemory(t, 5*time.Minute, 100)
	ctx := context.Background()

	assert.False(t, m.CheckAndMark(ctx, "wamid.1"))
	assert.True(t, m.CheckAndMark(ctx, "wamid.1"))
	assert.False(t, m.CheckAndMark(ctx, "wamid.2"))
}

func TestMemory_Expiry(t *testing.T) {
	m, clock := newTestMemory(t, 5*time.Minute, 100)
	ctx := context.Background()

	assert.False(t, m.CheckAndMark(ctx, "wamid.1"))

	clock.Advance(4 * time.Minute)
	assert.True(t, m.CheckAndMark(ctx, "wamid.1"))

	clock.Advance(2 * time.Minute)
	assert.False(t, m.CheckAndMark(ctx, "wamid.1"), "expired id counts as new")
	assert.True(t, m.CheckAndMark(ctx, "wamid.1"))
}

func TestMemory_EvictsOldest(t *testing.T) {
	m, clock := newTestMemory(t, time.Hour, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		m.CheckAndMark(ctx, fmt.Sprintf("k%d", i))
		clock.Advance(time.Second)
	}
	m.CheckAndMark(ctx, "k4")

	assert.Equal(t, 3, m.Len())
	assert.False(t, m.CheckAndMark(ctx, "k1"), "oldest key should be evicted")
}

func TestMemory_Sweep(t *testing.T) {
	m, clock := newTestMemory(t, time.Minute, 100)
	ctx := context.Background()

	m.CheckAndMark(ctx, "old-1")
	m.CheckAndMark(ctx, "old-2")
	clock.Advance(2 * time.Minute)
	m.CheckAndMark(ctx, "fresh")

	m.sweep()

	assert.Equal(t, 1, m.Len())
	assert.True(t, m.CheckAndMark(ctx, "fresh"))
}

func TestMemory_ConcurrentSingleWinner(t *testing.T) {
	m, _ := newTestMemory(t, time.Hour, 100)

	var newCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !m.CheckAndMark(context.Background(), "contended") {
				newCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), newCount.Load())
}

func TestMemory_CloseTwice(t *testing.T) {
	m := NewMemory(time.Minute, 10)
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
