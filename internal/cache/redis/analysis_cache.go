package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// AnalysisCache implements domain.AnalysisCache with one JSON string per
// model and canonical pair.
//
// Key schema:
//
//	analysis:{model}:{lo}:{hi}
type AnalysisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAnalysisCache creates an AnalysisCache whose entries expire after ttl.
func NewAnalysisCache(c *Client, ttl time.Duration) *AnalysisCache {
	return &AnalysisCache{rdb: c.Underlying(), ttl: ttl}
}

func analysisKey(model string, pair domain.PairKey) string {
	return "analysis:" + model + ":" + pair.String()
}

// Set stores a under the canonical pair of its two markets.
func (ac *AnalysisCache) Set(ctx context.Context, model string, a domain.CorrelationAnalysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal analysis: %w", err)
	}
	pair := domain.CanonicalPair(a.Market1ID, a.Market2ID)
	if err := ac.rdb.Set(ctx, analysisKey(model, pair), data, ac.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set analysis %s: %w", pair, err)
	}
	return nil
}

// Get returns the cached analysis for pair, or domain.ErrNotFound.
func (ac *AnalysisCache) Get(ctx context.Context, model string, pair domain.PairKey) (domain.CorrelationAnalysis, error) {
	data, err := ac.rdb.Get(ctx, analysisKey(model, pair)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CorrelationAnalysis{}, domain.ErrNotFound
		}
		return domain.CorrelationAnalysis{}, fmt.Errorf("redis: get analysis %s: %w", pair, err)
	}
	var a domain.CorrelationAnalysis
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.CorrelationAnalysis{}, fmt.Errorf("redis: unmarshal analysis %s: %w", pair, err)
	}
	return a, nil
}

var _ domain.AnalysisCache = (*AnalysisCache)(nil)
