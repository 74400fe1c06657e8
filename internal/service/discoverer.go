package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/metrics"
	"github.com/alanyoungcy/polyrelate/internal/scoring"
	"github.com/alanyoungcy/polyrelate/internal/similarity"
)

// RebuildLockKey guards full-corpus rebuilds across processes.
const RebuildLockKey = "relations:rebuild"

const pageSize = 1000

// BuildOpts configures a full-corpus discovery run.
type BuildOpts struct {
	DiscoverOpts
	SkipExisting bool
	BatchSize    int
	// MarketIDs restricts the markets searched from. Empty means all.
	MarketIDs []int64
}

// BuildReport summarises a discovery run. Counts are relations except
// Markets, Processed and MarketErrors.
type BuildReport struct {
	RunID        string        `json:"run_id"`
	Markets      int           `json:"markets"`
	Processed    int           `json:"processed"`
	Candidates   int           `json:"candidates"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	MarketErrors int           `json:"market_errors"`
	SnapshotPath string        `json:"snapshot_path,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// DiscovererConfig tunes a Discoverer.
type DiscovererConfig struct {
	FetchChunkSize       int
	FetchConcurrency     int
	CorrelateConcurrency int
	LockTTL              time.Duration
}

// Discoverer rebuilds relations for the whole corpus from in-memory caches of
// markets, embeddings and existing pairs.
type Discoverer struct {
	markets   domain.MarketStore
	relations domain.RelationStore
	corpus    corpusLoader
	scorer    scorer
	lock      domain.LockManager
	snapshots domain.SnapshotWriter
	lockTTL   time.Duration
	newRunID  func() string
	metrics   *metrics.Registry
	logger    *slog.Logger
}

// NewDiscoverer creates a Discoverer. lock and snapshots may be nil.
func NewDiscoverer(
	markets domain.MarketStore,
	relations domain.RelationStore,
	embeddings domain.EmbeddingStore,
	correlator scoring.Correlator,
	lock domain.LockManager,
	snapshots domain.SnapshotWriter,
	cfg DiscovererConfig,
	reg *metrics.Registry,
	logger *slog.Logger,
) *Discoverer {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Hour
	}
	return &Discoverer{
		markets:   markets,
		relations: relations,
		corpus:    newCorpusLoader(embeddings, cfg.FetchChunkSize, cfg.FetchConcurrency),
		scorer:    newScorer(correlator, cfg.CorrelateConcurrency),
		lock:      lock,
		snapshots: snapshots,
		lockTTL:   cfg.LockTTL,
		newRunID:  uuid.NewString,
		metrics:   reg,
		logger:    logger.With(slog.String("component", "discoverer")),
	}
}

// Run executes one rebuild. Cancellation is honoured between commit chunks;
// chunks already committed stay committed and the partial report is returned
// with the context error.
func (d *Discoverer) Run(ctx context.Context, opts BuildOpts) (report BuildReport, err error) {
	report.RunID = d.newRunID()
	if err := opts.Validate(); err != nil {
		return report, err
	}
	if opts.BatchSize < 1 {
		return report, domain.NewValidationError("batch_size", "must be >= 1")
	}

	if d.lock != nil {
		unlock, err := d.lock.Acquire(ctx, RebuildLockKey, d.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				d.metrics.ObserveDiscovery("locked", 0, metrics.DiscoveryCounts{})
			}
			return report, fmt.Errorf("discoverer: acquire lock: %w", err)
		}
		defer unlock()
	}

	log := d.logger.With(slog.String("run_id", report.RunID))
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		d.metrics.ObserveDiscovery(runResult(err), report.Duration, metrics.DiscoveryCounts{
			Candidates: report.Candidates,
			Created:    report.Created,
			Updated:    report.Updated,
			Skipped:    report.Skipped,
			Failed:     report.Failed,
		})
	}()

	markets, err := d.loadMarkets(ctx)
	if err != nil {
		return report, err
	}
	report.Markets = len(markets)

	existing, err := d.loadRelationIndex(ctx)
	if err != nil {
		return report, err
	}

	loaded, err := d.corpus.loadAll(ctx)
	if err != nil {
		return report, fmt.Errorf("discoverer: %w", err)
	}
	for _, id := range loaded.Failed {
		if _, ok := markets[id]; ok {
			report.MarketErrors++
		}
	}
	loaded.logFailures(ctx, log, "discoverer: embedding chunks skipped")
	corpus := loaded.Vectors
	for id := range corpus {
		if _, ok := markets[id]; !ok {
			delete(corpus, id)
		}
	}
	idx, err := similarity.NewIndex(corpus, 0)
	if err != nil {
		return report, fmt.Errorf("discoverer: build index: %w", err)
	}
	log.InfoContext(ctx, "discoverer: caches loaded",
		slog.Int("markets", len(markets)),
		slog.Int("embeddings", idx.Len()),
		slog.Int("excluded_embeddings", len(idx.Excluded())),
		slog.Int("related_markets", len(existing)),
	)

	toProcess := d.selectMarkets(corpus, existing, opts)
	var searchable []int64
	for _, id := range toProcess {
		if idx.Contains(id) {
			searchable = append(searchable, id)
			continue
		}
		report.MarketErrors++
		log.DebugContext(ctx, "discoverer: market has unusable embedding", slog.Int64("market_id", id))
	}
	report.Processed = len(searchable)
	if len(searchable) == 0 {
		log.InfoContext(ctx, "discoverer: nothing to process")
		return report, nil
	}

	results, err := idx.SearchBatch(ctx, searchable, similarity.Query{
		Threshold: opts.SimilarityThreshold,
		Limit:     opts.LimitPerMarket,
	})
	if err != nil {
		return report, fmt.Errorf("discoverer: search: %w", err)
	}

	var staged []domain.Relation
	for _, id := range searchable {
		res, err := d.scorer.stage(ctx, markets[id], results[id], markets,
			func(other int64) bool { return existing.has(id, other) }, opts.CorrelationThreshold)
		report.Candidates += res.Candidates
		report.Skipped += res.Skipped
		report.Failed += res.Failed
		if err != nil {
			return report, err
		}
		if len(res.Errs) > 0 {
			report.MarketErrors++
			log.WarnContext(ctx, "discoverer: market had failed candidates",
				slog.Int64("market_id", id),
				slog.Int("failed", res.Failed),
				slog.String("error", errors.Join(res.Errs...).Error()),
			)
		}
		staged = append(staged, res.Relations...)
	}

	unique := DedupeRelations(staged)
	log.InfoContext(ctx, "discoverer: relations staged",
		slog.Int("staged", len(staged)),
		slog.Int("unique", len(unique)),
	)

	committed, err := d.commit(ctx, unique, opts.BatchSize, &report, log)
	if err != nil {
		return report, err
	}

	if d.snapshots != nil && len(committed) > 0 {
		path, err := d.snapshots.WriteRelations(ctx, report.RunID, committed)
		if err != nil {
			log.WarnContext(ctx, "discoverer: snapshot failed", slog.String("error", err.Error()))
		} else {
			report.SnapshotPath = path
		}
	}

	log.InfoContext(ctx, "discoverer: run complete",
		slog.Int("processed", report.Processed),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("market_errors", report.MarketErrors),
	)
	return report, nil
}

// commit writes relations in chunks. A failed chunk counts as failed and the
// run continues with the next one.
func (d *Discoverer) commit(ctx context.Context, relations []domain.Relation, batchSize int, report *BuildReport, log *slog.Logger) ([]domain.Relation, error) {
	committed := make([]domain.Relation, 0, len(relations))
	total := (len(relations) + batchSize - 1) / batchSize
	for start, n := 0, 1; start < len(relations); start, n = start+batchSize, n+1 {
		if err := ctx.Err(); err != nil {
			log.WarnContext(ctx, "discoverer: cancelled before chunk",
				slog.Int("chunk", n),
				slog.Int("remaining", len(relations)-start),
			)
			return committed, err
		}
		chunk := relations[start:min(start+batchSize, len(relations))]
		res, err := d.relations.UpsertBatch(ctx, chunk)
		report.Created += res.Created
		report.Updated += res.Updated
		report.Failed += res.Failed
		if err != nil {
			log.ErrorContext(ctx, "discoverer: chunk failed",
				slog.Int("chunk", n),
				slog.Int("chunks", total),
				slog.Int("failed", res.Failed),
				slog.String("error", err.Error()),
			)
			continue
		}
		committed = append(committed, chunk...)
		log.DebugContext(ctx, "discoverer: chunk committed",
			slog.Int("chunk", n),
			slog.Int("chunks", total),
		)
	}
	return committed, nil
}

func (d *Discoverer) loadMarkets(ctx context.Context) (map[int64]domain.Market, error) {
	out := make(map[int64]domain.Market)
	for offset := 0; ; offset += pageSize {
		page, err := d.markets.List(ctx, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("discoverer: load markets: %w", err)
		}
		for _, m := range page {
			out[m.ID] = m
		}
		if len(page) < pageSize {
			return out, nil
		}
	}
}

func (d *Discoverer) loadRelationIndex(ctx context.Context) (relationIndex, error) {
	idx := relationIndex{}
	var after domain.PairKey
	for {
		pairs, err := d.relations.ListPairs(ctx, after.Lo, after.Hi, pageSize)
		if err != nil {
			return nil, fmt.Errorf("discoverer: load relations: %w", err)
		}
		for _, k := range pairs {
			idx.add(k)
		}
		if len(pairs) < pageSize {
			return idx, nil
		}
		after = pairs[len(pairs)-1]
	}
}

// selectMarkets returns the embedded markets to search from, ascending.
func (d *Discoverer) selectMarkets(corpus map[int64][]float32, existing relationIndex, opts BuildOpts) []int64 {
	var ids []int64
	if len(opts.MarketIDs) > 0 {
		for _, id := range opts.MarketIDs {
			if _, ok := corpus[id]; ok {
				ids = append(ids, id)
			}
		}
	} else {
		ids = make([]int64, 0, len(corpus))
		for id := range corpus {
			ids = append(ids, id)
		}
	}
	if opts.SkipExisting {
		ids = slices.DeleteFunc(ids, func(id int64) bool { return existing.degree(id) > 0 })
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func runResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
