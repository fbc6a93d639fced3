package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
}

func (m memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && now.After(m.expireAt)
}

// MemoryCache implements Service in process. Values are stored encoded, the same way
// RedisCache stores them, so both behave alike under Get. Entries carry their own expiry on
// top of the LRU's global MaxTTL.
type MemoryCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, memoryItem]
	now func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize: 1000,
		MaxTTL:  24 * time.Hour,
		Clock:   time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &MemoryCache{
		lru: expirable.NewLRU[string, memoryItem](cfg.MaxSize, nil, cfg.MaxTTL),
		now: cfg.Clock,
	}
}

func (mc *MemoryCache) item(key string) (memoryItem, bool) {
	it, ok := mc.lru.Get(key)
	if !ok {
		return memoryItem{}, false
	}
	if it.expired(mc.now()) {
		mc.lru.Remove(key)
		return memoryItem{}, false
	}
	return it, true
}

func (mc *MemoryCache) put(key string, data []byte, expiration time.Duration) {
	it := memoryItem{data: data}
	if expiration > 0 {
		it.expireAt = mc.now().Add(expiration)
	}
	mc.lru.Add(key, it)
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, append([]byte(nil), data...), expiration)
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	it, ok := mc.item(key)
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(it.data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		mc.lru.Remove(key)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if _, ok := mc.item(key); ok {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) Increment(_ context.Context, key string, expiration time.Duration) (int64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	it, ok := mc.item(key)
	if !ok {
		mc.put(key, []byte("1"), expiration)
		return 1, nil
	}
	n, err := strconv.ParseInt(string(it.data), 10, 64)
	if err != nil {
		return 0, ErrNotNumber
	}
	n++
	it.data = []byte(strconv.FormatInt(n, 10))
	mc.lru.Add(key, it)
	return n, nil
}

func (mc *MemoryCache) Expire(_ context.Context, key string, expiration time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	it, ok := mc.item(key)
	if !ok {
		return false, nil
	}
	it.expireAt = mc.now().Add(expiration)
	mc.lru.Add(key, it)
	return true, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, ok := mc.item(key); ok {
		return false, nil
	}
	mc.put(key, []byte(strconv.FormatInt(mc.now().UnixMilli(), 10)), ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

// Len reports the number of stored entries, expired ones included until they are touched.
func (mc *MemoryCache) Len() int {
	return mc.lru.Len()
}

func (mc *MemoryCache) Close() error {
	mc.lru.Purge()
	return nil
}
