package cache

import (
	"context"
	"time"
)

// LayeredCache is a read-through two-level cache: L1 in process, L2 shared. Counters and
// locks always go to L2 so they stay consistent across replicas.
type LayeredCache struct {
	l1    *MemoryCache
	l2    Service
	l1TTL time.Duration
}

// NewLayeredCache wraps l2 (normally a RedisCache) with a memory front.
func NewLayeredCache(l2 Service, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		MemoryTTL:     time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &LayeredCache{
		l1:    NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize), WithMemoryMaxTTL(cfg.MemoryTTL)),
		l2:    l2,
		l1TTL: cfg.MemoryTTL,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.l2.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, value, lc.l1Expiration(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.l1.Get(ctx, key, dest); err == nil {
		return nil
	}

	var raw []byte
	if err := lc.l2.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, raw, lc.l1TTL)
	return decode(raw, dest)
}

func (lc *LayeredCache) l1Expiration(expiration time.Duration) time.Duration {
	if expiration <= 0 || expiration > lc.l1TTL {
		return lc.l1TTL
	}
	return expiration
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.l2.Exists(ctx, keys...)
}

func (lc *LayeredCache) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	return lc.l2.Increment(ctx, key, expiration)
}

func (lc *LayeredCache) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	return lc.l2.Expire(ctx, key, expiration)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.l2.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.l2.Unlock(ctx, key)
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	_ = lc.l1.Close()
	return lc.l2.Close()
}
