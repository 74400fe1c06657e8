// Package ratelimit provides an in-process token bucket limiter keyed by
// name, used when no Redis instance is configured.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

type bucketKey struct {
	key    string
	limit  int
	window time.Duration
}

// Limiter implements domain.RateLimiter. Allow keeps one bucket per key and
// (limit, window); Wait uses the bucket configured at construction.
type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*rate.Limiter
	waiters map[string]*rate.Limiter
	rps     float64
	burst   int
}

var _ domain.RateLimiter = (*Limiter)(nil)

// New creates a Limiter whose Wait admits rps requests per second with the
// given burst. A non-positive rps disables waiting.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[bucketKey]*rate.Limiter),
		waiters: make(map[string]*rate.Limiter),
		rps:     rps,
		burst:   burst,
	}
}

// Allow reports whether a request for key fits limit per window.
func (l *Limiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, fmt.Errorf("ratelimit: invalid limit %d per %s", limit, window)
	}
	bk := bucketKey{key: key, limit: limit, window: window}

	l.mu.Lock()
	b, ok := l.buckets[bk]
	if !ok {
		b = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.buckets[bk] = b
	}
	l.mu.Unlock()
	return b.Allow(), nil
}

// Wait blocks until key's bucket admits a request or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l.rps <= 0 {
		return ctx.Err()
	}
	l.mu.Lock()
	w, ok := l.waiters[key]
	if !ok {
		w = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.waiters[key] = w
	}
	l.mu.Unlock()

	if err := w.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: wait %s: %w", key, err)
	}
	return nil
}
