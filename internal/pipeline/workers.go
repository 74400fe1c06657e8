package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/service"
)

// MissingEmbedder embeds markets that have no stored vector yet.
type MissingEmbedder interface {
	EmbedMissing(ctx context.Context, limit int) (service.EmbedReport, error)
}

// RelationBuilder runs a full relation rebuild.
type RelationBuilder interface {
	Run(ctx context.Context, opts service.BuildOpts) (service.BuildReport, error)
}

// EmbedWorker periodically embeds markets missing a vector.
type EmbedWorker struct {
	embedder MissingEmbedder
	limit    int
	logger   *slog.Logger
}

// NewEmbedWorker creates an EmbedWorker. limit <= 0 embeds every missing
// market per tick.
func NewEmbedWorker(embedder MissingEmbedder, limit int, logger *slog.Logger) *EmbedWorker {
	return &EmbedWorker{
		embedder: embedder,
		limit:    limit,
		logger:   logger.With(slog.String("component", "embed_worker")),
	}
}

// Run embeds one round of missing markets.
func (w *EmbedWorker) Run(ctx context.Context) (service.EmbedReport, error) {
	report, err := w.embedder.EmbedMissing(ctx, w.limit)
	if err != nil {
		return report, err
	}
	if report.Requested > 0 {
		w.logger.Info("embed_worker: round complete",
			slog.Int("requested", report.Requested),
			slog.Int("created", report.Created),
			slog.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// RunLoop embeds missing markets on a repeating interval.
func (w *EmbedWorker) RunLoop(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, w.logger, "embed round", func(ctx context.Context) error {
		_, err := w.Run(ctx)
		return err
	})
}

// RebuildWorker periodically rebuilds the relation graph.
type RebuildWorker struct {
	builder RelationBuilder
	opts    service.BuildOpts
	logger  *slog.Logger
}

// NewRebuildWorker creates a RebuildWorker that runs builder with opts.
func NewRebuildWorker(builder RelationBuilder, opts service.BuildOpts, logger *slog.Logger) *RebuildWorker {
	return &RebuildWorker{
		builder: builder,
		opts:    opts,
		logger:  logger.With(slog.String("component", "rebuild_worker")),
	}
}

// Run performs one rebuild. A rebuild already held by another process is not
// an error.
func (w *RebuildWorker) Run(ctx context.Context) error {
	report, err := w.builder.Run(ctx, w.opts)
	if errors.Is(err, domain.ErrLockHeld) {
		w.logger.Info("rebuild_worker: another rebuild is running, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	w.logger.Info("rebuild_worker: rebuild complete",
		slog.String("run_id", report.RunID),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("failed", report.Failed),
		slog.Duration("elapsed", report.Duration),
	)
	return nil
}

// RunLoop rebuilds on a repeating interval.
func (w *RebuildWorker) RunLoop(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, w.logger, "rebuild", w.Run)
}

// every runs fn immediately and then on each tick until ctx is done. Failures
// are logged and the loop keeps going.
func every(ctx context.Context, interval time.Duration, logger *slog.Logger, name string, fn func(context.Context) error) error {
	run := func() {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Error(name+" failed", slog.String("error", err.Error()))
		}
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(name + " loop stopped")
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}
