package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyrelate/internal/pipeline"
	"github.com/alanyoungcy/polyrelate/internal/platform/polymarket"
	"github.com/alanyoungcy/polyrelate/internal/server"
	"github.com/alanyoungcy/polyrelate/internal/server/handler"
	"github.com/alanyoungcy/polyrelate/internal/service"
)

const shutdownTimeout = 15 * time.Second

// ServerMode serves the HTTP API until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ScrapeMode runs one market crawl, then embeds the synced markets when an
// embedding provider is configured.
func (a *App) ScrapeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scrape mode")

	report, err := a.newScraper(deps).Run(ctx)
	if err != nil {
		return fmt.Errorf("scrape mode: %w", err)
	}
	if !deps.Embeddings.Enabled() || len(report.IDs) == 0 {
		return nil
	}

	embedded, err := deps.Embeddings.EmbedMarkets(ctx, report.IDs)
	if err != nil {
		return fmt.Errorf("scrape mode: embed: %w", err)
	}
	a.logger.InfoContext(ctx, "scrape mode: embedded synced markets",
		slog.Int("created", embedded.Created),
		slog.Int("failed", embedded.Failed),
	)
	return nil
}

// EmbedMode embeds every market that has no stored vector.
func (a *App) EmbedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting embed mode")

	report, err := pipeline.NewEmbedWorker(deps.Embeddings, a.cfg.Pipeline.EmbedLimit, a.logger).Run(ctx)
	if err != nil {
		return fmt.Errorf("embed mode: %w", err)
	}
	if report.Failed > 0 {
		a.logger.WarnContext(ctx, "embed mode: some markets were not embedded",
			slog.Int("failed", report.Failed),
			slog.Any("failed_ids", report.FailedIDs),
		)
	}
	return nil
}

// DiscoverMode runs one full relation rebuild.
func (a *App) DiscoverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting discover mode")

	report, err := deps.Discoverer.Run(ctx, a.buildOpts())
	if err != nil {
		return fmt.Errorf("discover mode: %w", err)
	}
	a.logger.InfoContext(ctx, "discover mode: rebuild complete",
		slog.String("run_id", report.RunID),
		slog.Int("markets", report.Markets),
		slog.Int("processed", report.Processed),
		slog.Int("candidates", report.Candidates),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("market_errors", report.MarketErrors),
		slog.String("snapshot", report.SnapshotPath),
		slog.Duration("elapsed", report.Duration),
	)
	return nil
}

// FullMode runs the HTTP server together with the scrape, embed and rebuild
// loops.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Pipeline.Enabled {
		var embedder *pipeline.EmbedWorker
		if deps.Embeddings.Enabled() {
			embedder = pipeline.NewEmbedWorker(deps.Embeddings, a.cfg.Pipeline.EmbedLimit, a.logger)
		}
		orch := pipeline.NewOrchestrator(
			a.newScraper(deps),
			embedder,
			pipeline.NewRebuildWorker(deps.Discoverer, a.buildOpts(), a.logger),
			pipeline.Intervals{
				Scrape:  a.cfg.Pipeline.ScrapeInterval.Duration,
				Embed:   a.cfg.Pipeline.EmbedInterval.Duration,
				Rebuild: a.cfg.Discovery.Interval.Duration,
			},
			a.logger,
		)
		g.Go(func() error {
			return orch.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

func (a *App) newScraper(deps *Dependencies) *pipeline.MarketScraper {
	pm := a.cfg.Polymarket
	return pipeline.NewMarketScraper(deps.Markets, deps.Gamma, polymarket.FetchOpts{
		PageSize:   pm.PageSize,
		MaxPages:   pm.MaxPages,
		Tags:       pm.Tags,
		ActiveOnly: pm.ActiveOnly,
	}, 0, a.logger)
}

func (a *App) buildOpts() service.BuildOpts {
	d := a.cfg.Discovery
	return service.BuildOpts{
		DiscoverOpts: service.DiscoverOpts{
			SimilarityThreshold:  d.SimilarityThreshold,
			CorrelationThreshold: d.CorrelationThreshold,
			LimitPerMarket:       d.LimitPerMarket,
		},
		SkipExisting: d.SkipExisting,
		BatchSize:    d.BatchSize,
	}
}

// startHTTPServer adds the HTTP server to g. The server is shut down
// gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:               sc.Port,
		CORSOrigins:        sc.CORSOrigins,
		APIKey:             sc.APIKey,
		RateLimitPerMinute: sc.RateLimitPerMinute,
		WriteTimeout:       sc.WriteTimeout.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Health, a.logger),
		Markets:   handler.NewMarketHandler(deps.Markets, a.logger),
		Relations: handler.NewRelationHandler(deps.Relations, deps.Analysis, a.logger),
		Search:    handler.NewSearchHandler(deps.Embeddings, a.logger),
		Snapshots: handler.NewSnapshotHandler(deps.SnapshotReader, a.logger),
	}, deps.APIRateLimiter, deps.Metrics, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
