package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/platform/polymarket"
)

// MarketSyncer persists a batch of markets to the store and returns their
// local IDs.
type MarketSyncer interface {
	SyncMarkets(ctx context.Context, markets []domain.Market) ([]int64, error)
}

// MarketFetcher crawls open markets from the Gamma API.
type MarketFetcher interface {
	FetchActiveMarkets(ctx context.Context, opts polymarket.FetchOpts, logger *slog.Logger) ([]domain.Market, polymarket.FetchStats, error)
}

// defaultSyncBatch bounds one SyncMarkets call.
const defaultSyncBatch = 500

// ScrapeReport summarises one scrape run.
type ScrapeReport struct {
	Fetched int
	Synced  int
	Stats   polymarket.FetchStats
	// IDs are the local IDs of every synced market, in sync order.
	IDs []int64
}

// MarketScraper scrapes market data from the Gamma API and syncs it to the
// store.
type MarketScraper struct {
	marketSvc MarketSyncer
	fetcher   MarketFetcher
	opts      polymarket.FetchOpts
	syncBatch int
	logger    *slog.Logger
}

// NewMarketScraper creates a new MarketScraper. syncBatch <= 0 uses 500.
func NewMarketScraper(syncer MarketSyncer, fetcher MarketFetcher, opts polymarket.FetchOpts, syncBatch int, logger *slog.Logger) *MarketScraper {
	if syncBatch <= 0 {
		syncBatch = defaultSyncBatch
	}
	return &MarketScraper{
		marketSvc: syncer,
		fetcher:   fetcher,
		opts:      opts,
		syncBatch: syncBatch,
		logger:    logger.With(slog.String("component", "market_scraper")),
	}
}

// Run executes a single crawl and syncs the result in batches. A crawl that
// fails part way still syncs what it gathered; the fetch error is returned only
// when nothing was fetched.
func (s *MarketScraper) Run(ctx context.Context) (ScrapeReport, error) {
	start := time.Now()
	markets, stats, err := s.fetcher.FetchActiveMarkets(ctx, s.opts, s.logger)
	report := ScrapeReport{Fetched: len(markets), Stats: stats}
	if err != nil {
		if len(markets) == 0 {
			return report, fmt.Errorf("market scraper: fetch: %w", err)
		}
		s.logger.Warn("market_scraper: crawl ended early, syncing partial result",
			slog.Int("pages", stats.Pages),
			slog.Int("markets", len(markets)),
			slog.String("error", err.Error()),
		)
	}

	for off := 0; off < len(markets); off += s.syncBatch {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("market scraper context cancelled: %w", err)
		}
		end := min(off+s.syncBatch, len(markets))
		ids, err := s.marketSvc.SyncMarkets(ctx, markets[off:end])
		if err != nil {
			return report, fmt.Errorf("syncing %d markets at offset %d: %w", end-off, off, err)
		}
		report.Synced += len(ids)
		report.IDs = append(report.IDs, ids...)
		s.logger.Debug("market_scraper: synced batch",
			slog.Int("batch_size", end-off),
			slog.Int("total_synced", report.Synced),
		)
	}

	s.logger.Info("market_scraper: scrape complete",
		slog.Int("pages", stats.Pages),
		slog.Int("events", stats.Events),
		slog.Int("filtered_events", stats.FilteredEvents),
		slog.Int("skipped", stats.Skipped),
		slog.Int("inactive", stats.Inactive),
		slog.Int("total_synced", report.Synced),
		slog.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

// RunLoop runs the market scraper on a repeating interval until the context is
// cancelled.
func (s *MarketScraper) RunLoop(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, s.logger, "market scrape", func(ctx context.Context) error {
		_, err := s.Run(ctx)
		return err
	})
}
