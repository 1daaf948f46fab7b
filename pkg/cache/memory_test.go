package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, opts ...MemoryOption) (*MemoryCache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(append([]MemoryOption{WithMemoryClock(clk.Now)}, opts...)...)
	t.Cleanup(func() { _ = mc.Close() })
	return mc, clk
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	require.NoError(t, mc.Set(ctx, "k", payload{Symbol: "BTCUSDT", Price: 97}, time.Minute))

	var got payload
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, payload{Symbol: "BTCUSDT", Price: 97}, got)

	require.NoError(t, mc.Set(ctx, "s", "plain", 0))
	var s string
	require.NoError(t, mc.Get(ctx, "s", &s))
	assert.Equal(t, "plain", s)

	require.NoError(t, mc.Delete(ctx, "s", "k", "absent"))
	assert.ErrorIs(t, mc.Get(ctx, "s", &s), ErrMiss)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "lock:analysis:BTCUSDT", Key("lock", "analysis", "BTCUSDT"))
}

func TestMemoryCacheMiss(t *testing.T) {
	mc, clk := newTestCache(t)
	ctx := context.Background()

	var s string
	assert.ErrorIs(t, mc.Get(ctx, "absent", &s), ErrMiss)

	require.NoError(t, mc.Set(ctx, "k", "v", time.Second))
	clk.Advance(2 * time.Second)
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrMiss)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCacheTryLock(t *testing.T) {
	mc, clk := newTestCache(t)
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "lock:analysis:BTCUSDT", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "lock:analysis:BTCUSDT", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	require.NoError(t, mc.Unlock(ctx, "lock:analysis:BTCUSDT"))
	ok, err = mc.TryLock(ctx, "lock:analysis:BTCUSDT", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(2 * time.Minute)
	ok, err = mc.TryLock(ctx, "lock:analysis:BTCUSDT", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be retaken")
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc, clk := newTestCache(t, WithMemoryCapacity(2))
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	clk.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	clk.Advance(time.Second)

	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	clk.Advance(time.Second)

	require.NoError(t, mc.Set(ctx, "c", "3", 0))
	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrMiss)
	require.NoError(t, mc.Get(ctx, "a", &s))
	assert.Equal(t, "1", s)
}
