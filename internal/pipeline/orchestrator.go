package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Intervals sets how often each loop fires. A zero interval disables the loop.
type Intervals struct {
	Scrape  time.Duration
	Embed   time.Duration
	Rebuild time.Duration
}

// Orchestrator manages the background loops: market scraping, embedding of
// new markets, and periodic relation rebuilds.
type Orchestrator struct {
	scraper   *MarketScraper
	embedder  *EmbedWorker
	rebuilder *RebuildWorker
	intervals Intervals
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Any worker may be nil, in which
// case its loop is not started.
func NewOrchestrator(
	scraper *MarketScraper,
	embedder *EmbedWorker,
	rebuilder *RebuildWorker,
	intervals Intervals,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		scraper:   scraper,
		embedder:  embedder,
		rebuilder: rebuilder,
		intervals: intervals,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every configured loop in an errgroup. Each loop respects ctx
// cancellation. If any loop returns a non-context error, the errgroup cancels
// the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("scrape_interval", o.intervals.Scrape),
		slog.Duration("embed_interval", o.intervals.Embed),
		slog.Duration("rebuild_interval", o.intervals.Rebuild),
	)

	g, ctx := errgroup.WithContext(ctx)
	start := func(name string, interval time.Duration, loop func(context.Context, time.Duration) error) {
		if interval <= 0 {
			return
		}
		g.Go(func() error {
			o.logger.Info("starting " + name + " loop")
			err := loop(ctx, interval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("%s: %w", name, err)
		})
	}

	if o.scraper != nil {
		start("market scraper", o.intervals.Scrape, o.scraper.RunLoop)
	}
	if o.embedder != nil {
		start("embed worker", o.intervals.Embed, o.embedder.RunLoop)
	}
	if o.rebuilder != nil {
		start("rebuild worker", o.intervals.Rebuild, o.rebuilder.RunLoop)
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
