package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	type rec struct {
		Digest string `json:"digest"`
		N      int    `json:"n"`
	}
	require.NoError(t, mc.Set(ctx, "r", rec{Digest: "abc", N: 3}, time.Minute))
	got, err := GetTyped[rec](ctx, mc, "r")
	require.NoError(t, err)
	require.Equal(t, rec{Digest: "abc", N: 3}, got)

	require.NoError(t, mc.Set(ctx, "s", "plain", time.Minute))
	var s string
	require.NoError(t, mc.Get(ctx, "s", &s))
	require.Equal(t, "plain", s)

	if err := mc.Get(ctx, "missing", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCacheEntryExpires(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mc := NewMemoryCache(WithMemoryClock(clk.Now))
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = mc.TryLock(ctx, "k", time.Second)
	require.False(t, ok)

	clk.Advance(2 * time.Second)
	ok, _ = mc.TryLock(ctx, "k", time.Second)
	require.True(t, ok, "lock must be free once its ttl passed")
}

func TestMemoryCacheIncrementKeepsWindow(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mc := NewMemoryCache(WithMemoryClock(clk.Now))
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := mc.Increment(ctx, "budget", time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, n)
		clk.Advance(15 * time.Second)
	}
	clk.Advance(20 * time.Second)
	n, err := mc.Increment(ctx, "budget", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "window started at the first increment")
}

func TestMemoryCacheTryLockIsExclusive(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := mc.TryLock(ctx, "once", time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins)
}

func TestLayeredCacheReadsThrough(t *testing.T) {
	l2 := NewMemoryCache()
	lc := NewLayeredCache(l2)
	ctx := context.Background()

	require.NoError(t, l2.Set(ctx, "only-l2", map[string]int{"a": 1}, time.Minute))
	var got map[string]int
	require.NoError(t, lc.Get(ctx, "only-l2", &got))
	require.Equal(t, 1, got["a"])

	require.NoError(t, l2.Delete(ctx, "only-l2"))
	got = nil
	require.NoError(t, lc.Get(ctx, "only-l2", &got), "served from L1 after the first read")
	require.Equal(t, 1, got["a"])
}
