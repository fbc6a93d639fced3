// Package ratelimit throttles build requests per sender.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key. Idle keys age out of a bounded LRU.
type Limiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *expirable.LRU[string, *rate.Limiter]
	now     func() time.Time
}

// New allows perSecond requests per key with the given burst. A non-positive perSecond
// disables limiting.
func New(perSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](50_000, nil, 10*time.Minute),
		now:     time.Now,
	}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(key, b)
	}
	l.mu.Unlock()
	return b.AllowN(l.now(), 1)
}
