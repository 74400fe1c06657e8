package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/metrics"
)

// MarketService handles market metadata sync and cached lookups.
type MarketService struct {
	markets domain.MarketStore
	cache   domain.MarketCache
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(
	markets domain.MarketStore,
	cache domain.MarketCache,
	reg *metrics.Registry,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		metrics: reg,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// SyncMarkets upserts a batch of markets and invalidates their cached entries
// so subsequent reads pick up fresh data. It returns the local IDs in input
// order.
func (s *MarketService) SyncMarkets(ctx context.Context, markets []domain.Market) ([]int64, error) {
	if len(markets) == 0 {
		return nil, nil
	}

	ids, err := s.markets.UpsertBatch(ctx, markets)
	s.metrics.AddMarketsSynced(len(ids))
	if err != nil {
		return ids, fmt.Errorf("market_service: upsert batch: %w", err)
	}

	if s.cache != nil {
		for _, id := range ids {
			if err := s.cache.Invalidate(ctx, id); err != nil {
				// Non-fatal: the entry expires on its own.
				s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
					slog.Int64("market_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	s.logger.InfoContext(ctx, "market_service: synced markets",
		slog.Int("count", len(ids)),
	)
	return ids, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %d: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.Int64("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// GetMarkets loads the markets that exist among ids.
func (s *MarketService) GetMarkets(ctx context.Context, ids []int64) (map[int64]domain.Market, error) {
	if len(ids) == 0 {
		return map[int64]domain.Market{}, nil
	}
	out, err := s.markets.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("market_service: get by ids: %w", err)
	}
	return out, nil
}

// List returns markets from the store.
func (s *MarketService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Count returns the total number of stored markets.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// GetByPolymarketIDs loads the markets that exist among polymarketIDs.
func (s *MarketService) GetByPolymarketIDs(ctx context.Context, polymarketIDs []string) (map[string]domain.Market, error) {
	if len(polymarketIDs) == 0 {
		return map[string]domain.Market{}, nil
	}
	out, err := s.markets.GetByPolymarketIDs(ctx, polymarketIDs)
	if err != nil {
		return nil, fmt.Errorf("market_service: get by polymarket ids: %w", err)
	}
	return out, nil
}
