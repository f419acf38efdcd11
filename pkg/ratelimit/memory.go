package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type bucket struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	blockedUntil time.Time
}

// MemoryLimiter keeps one token bucket per key. Buckets refill at
// Limit/Window and idle ones are evicted by the cache janitor.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets *cache.Cache
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: cache.New(time.Hour, 10*time.Minute),
		now:     time.Now,
	}
}

// WithClock replaces the limiter clock.
func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	m.now = now
	return m
}

func (m *MemoryLimiter) bucketFor(policy Policy, key string) *bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(policy, key)
	if b, ok := m.buckets.Get(k); ok {
		return b.(*bucket)
	}

	every := policy.Window / time.Duration(policy.Limit)
	b := &bucket{limiter: rate.NewLimiter(rate.Every(every), policy.Limit)}
	ttl := policy.Window
	if policy.Block > ttl {
		ttl = policy.Block
	}
	m.buckets.Set(k, b, 2*ttl)
	return b
}

func (m *MemoryLimiter) Allow(_ context.Context, policy Policy, key string) (Decision, error) {
	if policy.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := m.now()
	b := m.bucketFor(policy, key)

	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Before(b.blockedUntil) {
		return Decision{RetryAfter: retrySeconds(b.blockedUntil.Sub(now))}, nil
	}

	if b.limiter.AllowN(now, 1) {
		return Decision{
			Allowed:   true,
			Remaining: int(math.Floor(b.limiter.TokensAt(now))),
		}, nil
	}

	if policy.Block > 0 {
		b.blockedUntil = now.Add(policy.Block)
		return Decision{RetryAfter: retrySeconds(policy.Block)}, nil
	}

	missing := 1 - b.limiter.TokensAt(now)
	wait := time.Duration(missing / float64(b.limiter.Limit()) * float64(time.Second))
	return Decision{RetryAfter: retrySeconds(wait)}, nil
}
