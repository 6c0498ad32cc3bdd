package handlers

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type rateLimiter interface {
	Allow(key string) bool
}

// keyedRateLimiter keeps one token bucket per cart owner. Buckets idle for a full window are dropped.
type keyedRateLimiter struct {
	limit   rate.Limit
	burst   int
	window  time.Duration
	clock   func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedRateLimiter{
		limit:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (l *keyedRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.pruneLocked(now)
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *keyedRateLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.window {
			delete(l.buckets, key)
		}
	}
}
