package verifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"TeeRelay/pkg/cache"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrSpentSetFull means every slot holds a mark that is still inside its window. Evicting one
// would reopen that quote for replay, so marking is refused instead.
var ErrSpentSetFull = errors.New("spent set is full")

// MemorySpentSet keeps marks in a bounded in-process LRU. Marks are only valid for the
// process lifetime; use CacheSpentSet when several relays share traffic.
type MemorySpentSet struct {
	mu       sync.Mutex
	lru      *expirable.LRU[string, time.Time]
	capacity int
	now      func() time.Time
}

// NewMemorySpentSet bounds the set to capacity marks; maxTTL caps how long any mark lives.
func NewMemorySpentSet(capacity int, maxTTL time.Duration) *MemorySpentSet {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &MemorySpentSet{
		lru:      expirable.NewLRU[string, time.Time](capacity, nil, maxTTL),
		capacity: capacity,
		now:      time.Now,
	}
}

func (s *MemorySpentSet) MarkSpent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, ok := s.lru.Peek(key); ok && now.Before(until) {
		return false, nil
	}
	if s.lru.Len() >= s.capacity {
		if _, until, ok := s.lru.GetOldest(); ok && now.Before(until) {
			return false, ErrSpentSetFull
		}
	}
	s.lru.Add(key, now.Add(ttl))
	return true, nil
}

func (s *MemorySpentSet) IsSpent(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.lru.Peek(key)
	return ok && s.now().Before(until), nil
}

func (s *MemorySpentSet) Len() int {
	return s.lru.Len()
}

// CacheSpentSet marks keys with the cache's SET NX, so marks are shared across relays
// pointed at the same Redis.
type CacheSpentSet struct {
	cache cache.Service
}

func NewCacheSpentSet(c cache.Service) *CacheSpentSet {
	return &CacheSpentSet{cache: c}
}

func (s *CacheSpentSet) MarkSpent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.cache.TryLock(ctx, spentKey(key), ttl)
}

func (s *CacheSpentSet) IsSpent(ctx context.Context, key string) (bool, error) {
	return s.cache.Exists(ctx, spentKey(key))
}

func spentKey(key string) string {
	return cache.Key("spent", cache.HashKey(key))
}
