package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/scoring"
	"github.com/alanyoungcy/polyrelate/internal/similarity"
)

// Related listing defaults.
const (
	DefaultRelatedLimit         = 10
	DefaultRelatedMinSimilarity = 0.7
	// relatedOverfetch widens the store query so volume filtering can still
	// fill the requested limit.
	relatedOverfetch = 3
)

// Sort keys accepted by GetRelated.
const (
	SortByPressure    = "pressure"
	SortBySimilarity  = "similarity"
	SortByCorrelation = "correlation"
	SortByInvestment  = "investment"
)

// RelatedOpts filters and enriches a related-market listing.
type RelatedOpts struct {
	Limit           int
	MinSimilarity   float64
	MinVolume       *float64
	IncludeMarkets  bool
	IncludeAnalysis bool
	Model           string
	SortBy          string
}

// DefaultRelatedOpts returns the listing defaults.
func DefaultRelatedOpts() RelatedOpts {
	return RelatedOpts{Limit: DefaultRelatedLimit, MinSimilarity: DefaultRelatedMinSimilarity}
}

// DiscoverReport summarises discovery for one market.
type DiscoverReport struct {
	MarketID   int64             `json:"market_id"`
	Candidates int               `json:"candidates"`
	Created    int               `json:"created"`
	Updated    int               `json:"updated"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Relations  []domain.Relation `json:"relations"`
}

// RelationEstimate extrapolates how many relations a discovery run would add.
type RelationEstimate struct {
	EstimatedTotal     int     `json:"estimated_total"`
	SampledMarkets     int     `json:"sampled_markets"`
	TotalMarkets       int     `json:"total_markets"`
	RelationsPerMarket float64 `json:"relations_per_market"`
	SampleRelations    int     `json:"sample_relations"`
	IsSampled          bool    `json:"is_sampled"`
}

// RelationConfig tunes a RelationService.
type RelationConfig struct {
	Discover             DiscoverOpts
	FetchChunkSize       int
	FetchConcurrency     int
	CorrelateConcurrency int
}

// RelationService answers relation queries and discovers relations for
// single markets.
type RelationService struct {
	markets    *MarketService
	relations  domain.RelationStore
	embeddings domain.EmbeddingStore
	analysis   *AnalysisService
	corpus     corpusLoader
	scorer     scorer
	defaults   DiscoverOpts
	shuffle    func(n int) []int
	logger     *slog.Logger
}

// NewRelationService creates a RelationService. analysis may be nil, which
// disables IncludeAnalysis. A nil correlator selects the constant one.
func NewRelationService(
	markets *MarketService,
	relations domain.RelationStore,
	embeddings domain.EmbeddingStore,
	analysis *AnalysisService,
	correlator scoring.Correlator,
	cfg RelationConfig,
	logger *slog.Logger,
) *RelationService {
	return &RelationService{
		markets:    markets,
		relations:  relations,
		embeddings: embeddings,
		analysis:   analysis,
		corpus:     newCorpusLoader(embeddings, cfg.FetchChunkSize, cfg.FetchConcurrency),
		scorer:     newScorer(correlator, cfg.CorrelateConcurrency),
		defaults:   cfg.Discover,
		shuffle:    rand.Perm,
		logger:     logger.With(slog.String("component", "relation_service")),
	}
}

// DiscoverDefaults returns the configured discovery thresholds.
func (s *RelationService) DiscoverDefaults() DiscoverOpts { return s.defaults }

// DiscoverForMarket finds markets similar to marketID that are not yet related
// to it, scores them and upserts the resulting relations.
func (s *RelationService) DiscoverForMarket(ctx context.Context, marketID int64, opts DiscoverOpts) (DiscoverReport, error) {
	report := DiscoverReport{MarketID: marketID}
	if err := opts.Validate(); err != nil {
		return report, err
	}

	base, err := s.markets.GetMarket(ctx, marketID)
	if err != nil {
		return report, fmt.Errorf("relation_service: %w", err)
	}
	query, err := embeddingFor(ctx, s.embeddings, marketID)
	if err != nil {
		return report, fmt.Errorf("relation_service: %w", err)
	}

	existing, err := s.relations.ListForMarket(ctx, marketID, 0, 0)
	if err != nil {
		return report, fmt.Errorf("relation_service: load existing relations: %w", err)
	}
	related := make(map[int64]bool, len(existing))
	for _, r := range existing {
		related[r.Other(marketID)] = true
	}

	corpus, err := s.corpus.loadAll(ctx)
	if err != nil {
		return report, fmt.Errorf("relation_service: %w", err)
	}
	corpus.logFailures(ctx, s.logger, "relation_service: embedding chunks skipped")
	idx, err := similarity.NewIndex(corpus.Vectors, len(query))
	if err != nil {
		return report, fmt.Errorf("relation_service: build index: %w", err)
	}
	matches, err := idx.Search(query, similarity.Query{
		Threshold: opts.SimilarityThreshold,
		Limit:     opts.LimitPerMarket,
		Exclude:   func(id int64) bool { return id == marketID },
	})
	if err != nil {
		return report, fmt.Errorf("relation_service: search: %w", err)
	}

	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		if !related[m.MarketID] {
			ids = append(ids, m.MarketID)
		}
	}
	others, err := s.markets.GetMarkets(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("relation_service: %w", err)
	}

	staged, err := s.scorer.stage(ctx, base, matches, others, func(id int64) bool { return related[id] }, opts.CorrelationThreshold)
	report.Candidates, report.Skipped, report.Failed = staged.Candidates, staged.Skipped, staged.Failed
	if err != nil {
		return report, err
	}
	for _, e := range staged.Errs {
		s.logger.WarnContext(ctx, "relation_service: candidate failed",
			slog.Int64("market_id", marketID),
			slog.String("error", e.Error()),
		)
	}
	if len(staged.Relations) == 0 {
		return report, nil
	}

	res, err := s.relations.UpsertBatch(ctx, staged.Relations)
	report.Created, report.Updated = res.Created, res.Updated
	report.Failed += res.Failed
	if err != nil {
		s.logger.ErrorContext(ctx, "relation_service: commit failed",
			slog.Int64("market_id", marketID),
			slog.Int("failed", res.Failed),
			slog.String("error", err.Error()),
		)
	}
	if res.Failed == 0 {
		report.Relations = staged.Relations
	}

	s.logger.InfoContext(ctx, "relation_service: discovered relations",
		slog.Int64("market_id", marketID),
		slog.Int("candidates", report.Candidates),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// GetRelated lists stored relations of marketID. The store is asked for the
// most similar relations; the page is then sorted by SortBy, descending.
// With IncludeAnalysis the default order is investment score then pressure.
func (s *RelationService) GetRelated(ctx context.Context, marketID int64, opts RelatedOpts) ([]domain.RelatedMarket, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultRelatedLimit
	}
	if !(opts.MinSimilarity >= 0 && opts.MinSimilarity <= 1) {
		return nil, domain.NewValidationError("min_similarity", "must be within [0,1]")
	}
	sortBy, err := relatedSortKey(opts)
	if err != nil {
		return nil, err
	}
	if opts.IncludeAnalysis && (s.analysis == nil || !s.analysis.Enabled()) {
		return nil, fmt.Errorf("relation_service: %w: no analysis provider", domain.ErrUnavailable)
	}

	base, err := s.markets.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("relation_service: %w", err)
	}

	rels, err := s.relations.ListForMarket(ctx, marketID, opts.MinSimilarity, opts.Limit*relatedOverfetch)
	if err != nil {
		return nil, fmt.Errorf("relation_service: list related: %w", err)
	}
	out := make([]domain.RelatedMarket, 0, min(len(rels), opts.Limit))

	needMarkets := opts.MinVolume != nil || opts.IncludeMarkets || opts.IncludeAnalysis
	if !needMarkets {
		for _, r := range rels[:min(len(rels), opts.Limit)] {
			out = append(out, domain.RelatedFrom(r, marketID))
		}
		sortRelated(out, sortBy)
		return out, nil
	}

	ids := make([]int64, len(rels))
	for i, r := range rels {
		ids[i] = r.Other(marketID)
	}
	markets, err := s.markets.GetMarkets(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("relation_service: %w", err)
	}
	for _, r := range rels {
		if len(out) >= opts.Limit {
			break
		}
		rm := domain.RelatedFrom(r, marketID)
		m, ok := markets[rm.RelatedID]
		if !ok {
			continue
		}
		if opts.MinVolume != nil && m.Volume < *opts.MinVolume {
			continue
		}
		if opts.IncludeMarkets || opts.IncludeAnalysis {
			rm.Market = &m
		}
		out = append(out, rm)
	}

	if opts.IncludeAnalysis {
		others := make([]domain.Market, len(out))
		for i, rm := range out {
			others[i] = *rm.Market
		}
		analyses, err := s.analysis.AnalyzeMany(ctx, base, others, opts.Model)
		if err != nil {
			return nil, fmt.Errorf("relation_service: %w", err)
		}
		for i := range out {
			out[i].Analysis = analyses[i]
			if !opts.IncludeMarkets {
				out[i].Market = nil
			}
		}
	}

	sortRelated(out, sortBy)
	return out, nil
}

func relatedSortKey(opts RelatedOpts) (string, error) {
	switch opts.SortBy {
	case "":
		if opts.IncludeAnalysis {
			return SortByInvestment, nil
		}
		return SortByPressure, nil
	case SortByPressure, SortBySimilarity, SortByCorrelation, SortByInvestment:
		return opts.SortBy, nil
	}
	return "", domain.NewValidationError("sort_by", "unknown sort key "+opts.SortBy)
}

// sortRelated orders descending by key. Investment treats a missing analysis
// as -1 and breaks ties on pressure. Remaining ties go to the lower ID.
func sortRelated(rs []domain.RelatedMarket, key string) {
	value := func(r domain.RelatedMarket) float64 {
		switch key {
		case SortBySimilarity:
			return r.Similarity
		case SortByCorrelation:
			return r.Correlation
		case SortByInvestment:
			if r.Analysis == nil {
				return -1
			}
			return r.Analysis.InvestmentScore
		}
		return r.Pressure
	}
	slices.SortStableFunc(rs, func(a, b domain.RelatedMarket) int {
		c := cmp.Compare(value(b), value(a))
		if c == 0 && key == SortByInvestment {
			c = cmp.Compare(b.Pressure, a.Pressure)
		}
		return cmp.Or(c, cmp.Compare(a.RelatedID, b.RelatedID))
	})
}

// GetRelationBetween returns the stored relation of a and b in either order.
func (s *RelationService) GetRelationBetween(ctx context.Context, a, b int64) (domain.Relation, error) {
	if a == b {
		return domain.Relation{}, domain.NewValidationError("market_id", "relation requires two distinct markets")
	}
	r, err := s.relations.Get(ctx, domain.CanonicalPair(a, b))
	if err != nil {
		return domain.Relation{}, fmt.Errorf("relation_service: get %d/%d: %w", a, b, err)
	}
	return r, nil
}

// CreateRelation upserts one relation after validating its scores.
func (s *RelationService) CreateRelation(ctx context.Context, a, b int64, sim, corr, press float64) (domain.Relation, error) {
	r, err := validRelation(a, b, sim, corr, press)
	if err != nil {
		return domain.Relation{}, err
	}
	if err := s.relations.Upsert(ctx, r); err != nil {
		return domain.Relation{}, fmt.Errorf("relation_service: create: %w", err)
	}
	return r, nil
}

func validRelation(a, b int64, sim, corr, press float64) (domain.Relation, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{{"similarity", sim}, {"correlation", corr}, {"pressure", press}} {
		if !(f.v >= 0 && f.v <= 1) {
			return domain.Relation{}, domain.NewValidationError(f.name, "must be within [0,1]")
		}
	}
	return domain.NewRelation(a, b, sim, corr, press)
}

// CreateRelationsBatch validates and upserts relations. Invalid records and
// failed chunks are counted, not returned as errors.
func (s *RelationService) CreateRelationsBatch(ctx context.Context, relations []domain.Relation) (domain.BatchResult, error) {
	res := domain.BatchResult{Total: len(relations)}
	valid := make([]domain.Relation, 0, len(relations))
	for _, r := range relations {
		v, err := validRelation(r.MarketID1, r.MarketID2, r.Similarity, r.Correlation, r.Pressure)
		if err != nil {
			res.Failed++
			continue
		}
		valid = append(valid, v)
	}
	if len(valid) == 0 {
		return res, nil
	}

	written, err := s.relations.UpsertBatch(ctx, valid)
	res.Created += written.Created
	res.Updated += written.Updated
	res.Failed += written.Failed
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.logger.ErrorContext(ctx, "relation_service: batch create failed",
			slog.Int("failed", written.Failed),
			slog.String("error", err.Error()),
		)
	}
	return res, nil
}

// DeleteRelation removes the relation of a and b. It returns ErrNotFound when
// there is none.
func (s *RelationService) DeleteRelation(ctx context.Context, a, b int64) error {
	ok, err := s.relations.Delete(ctx, domain.CanonicalPair(a, b))
	if err != nil {
		return fmt.Errorf("relation_service: delete: %w", err)
	}
	if !ok {
		return fmt.Errorf("relation_service: delete %d/%d: %w", a, b, domain.ErrNotFound)
	}
	return nil
}

// DeleteRelationsForMarket removes every relation touching marketID.
func (s *RelationService) DeleteRelationsForMarket(ctx context.Context, marketID int64) (int64, error) {
	n, err := s.relations.DeleteForMarket(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("relation_service: delete for market: %w", err)
	}
	s.logger.InfoContext(ctx, "relation_service: deleted relations",
		slog.Int64("market_id", marketID),
		slog.Int64("count", n),
	)
	return n, nil
}

// CountRelations counts every relation, or those touching marketID.
func (s *RelationService) CountRelations(ctx context.Context, marketID *int64) (int64, error) {
	n, err := s.relations.Count(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("relation_service: count: %w", err)
	}
	return n, nil
}

// EstimateRelations counts, over a random sample of ids, the relations a
// discovery run would add, and extrapolates to all of ids. An empty ids
// estimates over every embedded market. sampleSize <= 0 disables sampling.
// Markets without a match are left out of the average.
func (s *RelationService) EstimateRelations(ctx context.Context, ids []int64, opts DiscoverOpts, sampleSize int) (RelationEstimate, error) {
	if err := opts.Validate(); err != nil {
		return RelationEstimate{}, err
	}
	if len(ids) == 0 {
		var err error
		if ids, err = s.embeddings.ListMarketIDs(ctx); err != nil {
			return RelationEstimate{}, fmt.Errorf("relation_service: list embedding ids: %w", err)
		}
	}
	est := RelationEstimate{TotalMarkets: len(ids)}

	sample := ids
	if sampleSize > 0 && sampleSize < len(ids) {
		est.IsSampled = true
		perm := s.shuffle(len(ids))[:sampleSize]
		sample = make([]int64, len(perm))
		for i, p := range perm {
			sample[i] = ids[p]
		}
	}

	corpus, err := s.corpus.loadAll(ctx)
	if err != nil {
		return est, fmt.Errorf("relation_service: %w", err)
	}
	corpus.logFailures(ctx, s.logger, "relation_service: embedding chunks skipped")
	idx, err := similarity.NewIndex(corpus.Vectors, 0)
	if err != nil {
		return est, fmt.Errorf("relation_service: build index: %w", err)
	}
	results, err := idx.SearchBatch(ctx, sample, similarity.Query{
		Threshold: opts.SimilarityThreshold,
		Limit:     opts.LimitPerMarket,
	})
	if err != nil {
		return est, fmt.Errorf("relation_service: search: %w", err)
	}

	total, processed := 0, 0
	for _, id := range sample {
		matches := results[id]
		if len(matches) == 0 {
			continue
		}
		count, err := s.estimateMarket(ctx, id, matches, opts.CorrelationThreshold)
		if err != nil {
			if ctx.Err() != nil {
				return est, ctx.Err()
			}
			s.logger.DebugContext(ctx, "relation_service: estimate skipped market",
				slog.Int64("market_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		total += count
		processed++
	}

	est.SampledMarkets = processed
	est.SampleRelations = total
	if processed > 0 {
		avg := float64(total) / float64(processed)
		est.RelationsPerMarket = math.Round(avg*100) / 100
		est.EstimatedTotal = int(avg * float64(len(ids)))
	}
	return est, nil
}

func (s *RelationService) estimateMarket(ctx context.Context, id int64, matches []similarity.Match, corrThreshold float64) (int, error) {
	base, err := s.markets.GetMarket(ctx, id)
	if err != nil {
		return 0, err
	}
	existing, err := s.relations.ListForMarket(ctx, id, 0, 0)
	if err != nil {
		return 0, err
	}
	related := make(map[int64]bool, len(existing))
	for _, r := range existing {
		related[r.Other(id)] = true
	}
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.MarketID)
	}
	others, err := s.markets.GetMarkets(ctx, ids)
	if err != nil {
		return 0, err
	}
	staged, err := s.scorer.stage(ctx, base, matches, others, func(o int64) bool { return related[o] }, corrThreshold)
	if err != nil {
		return 0, err
	}
	if staged.Failed > 0 && len(staged.Relations) == 0 {
		return 0, errors.Join(staged.Errs...)
	}
	return len(staged.Relations), nil
}
