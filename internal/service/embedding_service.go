package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/metrics"
	"github.com/alanyoungcy/polyrelate/internal/similarity"
)

// EmbedReport counts the outcome of an embedding pass.
type EmbedReport struct {
	Requested int     `json:"requested"`
	Created   int     `json:"created"`
	Failed    int     `json:"failed"`
	FailedIDs []int64 `json:"failed_ids,omitempty"`
}

// SimilarMarket is a text search hit.
type SimilarMarket struct {
	Market     domain.Market `json:"market"`
	Similarity float64       `json:"similarity"`
}

// EmbeddingService creates market embeddings and answers free-text
// similarity queries.
type EmbeddingService struct {
	markets    domain.MarketStore
	embeddings domain.EmbeddingStore
	embedder   domain.Embedder
	corpus     corpusLoader
	batchSize  int
	metrics    *metrics.Registry
	logger     *slog.Logger
}

// NewEmbeddingService creates an EmbeddingService. embedder may be nil, in
// which case every operation that needs it fails with domain.ErrUnavailable.
func NewEmbeddingService(
	markets domain.MarketStore,
	embeddings domain.EmbeddingStore,
	embedder domain.Embedder,
	batchSize int,
	fetchChunk, fetchConcurrency int,
	reg *metrics.Registry,
	logger *slog.Logger,
) *EmbeddingService {
	if batchSize < 1 {
		batchSize = 100
	}
	return &EmbeddingService{
		markets:    markets,
		embeddings: embeddings,
		embedder:   embedder,
		corpus:     newCorpusLoader(embeddings, fetchChunk, fetchConcurrency),
		batchSize:  batchSize,
		metrics:    reg,
		logger:     logger.With(slog.String("component", "embedding_service")),
	}
}

// Enabled reports whether an embedding provider is configured.
func (s *EmbeddingService) Enabled() bool { return s.embedder != nil }

// EmbedMarkets embeds and stores the given markets batch by batch. A failed
// provider batch marks every market in it failed; nothing is stored for them.
// Unknown IDs count as failed.
func (s *EmbeddingService) EmbedMarkets(ctx context.Context, ids []int64) (EmbedReport, error) {
	report := EmbedReport{Requested: len(ids)}
	if len(ids) == 0 {
		return report, nil
	}
	if s.embedder == nil {
		return report, fmt.Errorf("embedding_service: %w: no embedding provider", domain.ErrUnavailable)
	}
	defer func() { s.metrics.AddEmbeddings(report.Created, report.Failed) }()

	found, err := s.markets.GetByIDs(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("embedding_service: load markets: %w", err)
	}
	markets := make([]domain.Market, 0, len(ids))
	for _, id := range ids {
		m, ok := found[id]
		if !ok {
			report.fail(id)
			continue
		}
		markets = append(markets, m)
	}

	for start := 0; start < len(markets); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			for _, m := range markets[start:] {
				report.fail(m.ID)
			}
			return report, err
		}
		batch := markets[start:min(start+s.batchSize, len(markets))]
		if err := s.embedBatch(ctx, batch); err != nil {
			for _, m := range batch {
				report.fail(m.ID)
			}
			s.logger.ErrorContext(ctx, "embedding_service: batch failed",
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Created += len(batch)
	}

	s.logger.InfoContext(ctx, "embedding_service: embedded markets",
		slog.Int("requested", report.Requested),
		slog.Int("created", report.Created),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (r *EmbedReport) fail(id int64) {
	r.Failed++
	r.FailedIDs = append(r.FailedIDs, id)
}

func (s *EmbeddingService) embedBatch(ctx context.Context, batch []domain.Market) error {
	texts := make([]string, len(batch))
	for i, m := range batch {
		texts[i] = m.EmbeddingText()
	}

	start := time.Now()
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	s.metrics.ObserveProvider("embed", time.Since(start), err)
	if err != nil {
		return err
	}
	if len(vecs) != len(batch) {
		return &domain.UpstreamError{Op: "embed", Err: fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(batch))}
	}

	model := s.embedder.Model()
	rows := make([]domain.Embedding, len(batch))
	for i, m := range batch {
		rows[i] = domain.Embedding{MarketID: m.ID, Vector: vecs[i], Model: model}
	}
	if err := s.embeddings.UpsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("embedding_service: store embeddings: %w", err)
	}
	return nil
}

// EmbedMissing embeds up to limit markets that have no stored embedding.
func (s *EmbeddingService) EmbedMissing(ctx context.Context, limit int) (EmbedReport, error) {
	ids, err := s.embeddings.MissingMarketIDs(ctx, limit)
	if err != nil {
		return EmbedReport{}, fmt.Errorf("embedding_service: list missing: %w", err)
	}
	return s.EmbedMarkets(ctx, ids)
}

// FindSimilarToText embeds text and returns the closest markets scoring at
// least minSimilarity, best first.
func (s *EmbeddingService) FindSimilarToText(ctx context.Context, text string, limit int, minSimilarity float64) ([]SimilarMarket, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	if limit < 1 {
		return nil, domain.NewValidationError("limit", "must be >= 1")
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("embedding_service: %w: no embedding provider", domain.ErrUnavailable)
	}

	start := time.Now()
	query, err := s.embedder.Embed(ctx, text)
	s.metrics.ObserveProvider("embed", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("embedding_service: embed query: %w", err)
	}

	return s.search(ctx, query, similarity.Query{Threshold: minSimilarity, Limit: limit})
}

// Market similarity bounds.
const (
	DefaultSimilarLimit     = 10
	MaxSimilarLimit         = 100
	DefaultProximityMinimum = 0.7
)

// FindSimilarToMarket returns the limit markets closest to marketID's stored
// embedding, best first. The market itself is never returned.
func (s *EmbeddingService) FindSimilarToMarket(ctx context.Context, marketID int64, limit int) ([]SimilarMarket, error) {
	if limit < 1 || limit > MaxSimilarLimit {
		return nil, domain.NewValidationError("limit", fmt.Sprintf("must be within [1,%d]", MaxSimilarLimit))
	}
	query, err := embeddingFor(ctx, s.embeddings, marketID)
	if err != nil {
		return nil, fmt.Errorf("embedding_service: %w", err)
	}
	return s.search(ctx, query, similarity.Query{
		Threshold: math.Inf(-1),
		Limit:     limit,
		Exclude:   func(id int64) bool { return id == marketID },
	})
}

// FindWithinThreshold returns every market whose similarity to marketID is at
// least threshold, best first.
func (s *EmbeddingService) FindWithinThreshold(ctx context.Context, marketID int64, threshold float64) ([]SimilarMarket, error) {
	if !(threshold >= 0 && threshold <= 1) {
		return nil, domain.NewValidationError("threshold", "must be within [0,1]")
	}
	query, err := embeddingFor(ctx, s.embeddings, marketID)
	if err != nil {
		return nil, fmt.Errorf("embedding_service: %w", err)
	}
	return s.search(ctx, query, similarity.Query{
		Threshold: threshold,
		Exclude:   func(id int64) bool { return id == marketID },
	})
}

// search ranks the stored corpus against query and hydrates the matches.
// Matches whose market row is gone are dropped.
func (s *EmbeddingService) search(ctx context.Context, query []float32, q similarity.Query) ([]SimilarMarket, error) {
	corpus, err := s.corpus.loadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedding_service: %w", err)
	}
	corpus.logFailures(ctx, s.logger, "embedding_service: embedding chunks skipped")
	idx, err := similarity.NewIndex(corpus.Vectors, len(query))
	if err != nil {
		return nil, fmt.Errorf("embedding_service: build index: %w", err)
	}
	matches, err := idx.Search(query, q)
	if err != nil {
		return nil, fmt.Errorf("embedding_service: search: %w", err)
	}
	if len(matches) == 0 {
		return []SimilarMarket{}, nil
	}

	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.MarketID
	}
	markets, err := s.markets.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("embedding_service: load matches: %w", err)
	}
	out := make([]SimilarMarket, 0, len(matches))
	for _, m := range matches {
		if mk, ok := markets[m.MarketID]; ok {
			out = append(out, SimilarMarket{Market: mk, Similarity: m.Score})
		}
	}
	return out, nil
}

// embeddingFor loads one market's vector, mapping absence to ErrNotFound.
func embeddingFor(ctx context.Context, store domain.EmbeddingStore, marketID int64) ([]float32, error) {
	e, err := store.Get(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("embedding for market %d: %w", marketID, domain.ErrNotFound)
		}
		return nil, err
	}
	return e.Vector, nil
}
