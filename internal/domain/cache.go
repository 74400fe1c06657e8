package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market metadata lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id int64) (Market, error)
	Invalidate(ctx context.Context, id int64) error
}

// AnalysisCache keeps recent pair analyses so repeated queries skip the
// provider round trip.
type AnalysisCache interface {
	Set(ctx context.Context, model string, a CorrelationAnalysis) error
	Get(ctx context.Context, model string, pair PairKey) (CorrelationAnalysis, error)
}

// RateLimiter provides rate limiting keyed by caller-chosen names.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
