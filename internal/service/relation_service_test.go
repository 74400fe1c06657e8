package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/scoring"
)

type relationFixture struct {
	markets    *memMarkets
	embeddings *memEmbeddings
	relations  *memRelations
	analyzer   *fakeAnalyzer
	svc        *RelationService
}

func newRelationFixture(t *testing.T, correlator scoring.Correlator, rels ...domain.Relation) *relationFixture {
	t.Helper()
	markets, embeddings := corpusFixture()
	relations := newMemRelations(rels...)
	analyzer := &fakeAnalyzer{fn: func(m1, m2 domain.Market) (domain.CorrelationAnalysis, error) {
		return domain.CorrelationAnalysis{CorrelationScore: 0.5, InvestmentScore: float64(m2.ID) / 10}, nil
	}}
	ms := NewMarketService(markets, nil, nil, testLogger())
	analysis := NewAnalysisService(ms, analyzer, nil, nil, AnalysisConfig{Concurrency: 2}, nil, testLogger())
	svc := NewRelationService(ms, relations, embeddings, analysis, correlator, RelationConfig{
		Discover:         DiscoverOpts{SimilarityThreshold: 0.75, LimitPerMarket: 100},
		FetchChunkSize:   2,
		FetchConcurrency: 2,
	}, testLogger())
	return &relationFixture{markets: markets, embeddings: embeddings, relations: relations, analyzer: analyzer, svc: svc}
}

func discoverOpts() DiscoverOpts {
	return DiscoverOpts{SimilarityThreshold: 0.75, LimitPerMarket: 100}
}

func TestDiscoverForMarket(t *testing.T) {
	f := newRelationFixture(t, nil)
	report, err := f.svc.DiscoverForMarket(context.Background(), 1, discoverOpts())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 2, report.Created)
	assert.Zero(t, report.Skipped)
	require.Len(t, report.Relations, 2)

	r, err := f.relations.Get(context.Background(), domain.CanonicalPair(1, 2))
	require.NoError(t, err)
	assert.InDelta(t, 0.99, r.Similarity, 1e-4)
	assert.Equal(t, scoring.DefaultCorrelation, r.Correlation)
	m1, _ := f.markets.GetByID(context.Background(), 1)
	m2, _ := f.markets.GetByID(context.Background(), 2)
	assert.InDelta(t, scoring.MarketPressure(r.Similarity, 1, m1, m2), r.Pressure, 1e-12)
}

func TestDiscoverForMarketSkipsExisting(t *testing.T) {
	existing := domain.Relation{MarketID1: 1, MarketID2: 2, Similarity: 0.5, Correlation: 1, Pressure: 0.1}
	f := newRelationFixture(t, nil, existing)

	report, err := f.svc.DiscoverForMarket(context.Background(), 1, discoverOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Skipped)

	r, err := f.relations.Get(context.Background(), domain.CanonicalPair(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 0.5, r.Similarity, "existing relation is left alone")
}

func TestDiscoverForMarketCorrelationThreshold(t *testing.T) {
	corr := scoring.CorrelatorFunc(func(_ context.Context, _, m2 domain.Market) (float64, error) {
		if m2.ID == 3 {
			return 0.1, nil
		}
		return 0.9, nil
	})
	f := newRelationFixture(t, corr)
	opts := discoverOpts()
	opts.CorrelationThreshold = 0.5

	report, err := f.svc.DiscoverForMarket(context.Background(), 1, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Skipped)
}

func TestDiscoverForMarketErrors(t *testing.T) {
	f := newRelationFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.DiscoverForMarket(ctx, 99, discoverOpts())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _ = f.markets.UpsertBatch(ctx, []domain.Market{{PolymarketID: "p6", Question: "No vector?"}})
	_, err = f.svc.DiscoverForMarket(ctx, 6, discoverOpts())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.DiscoverForMarket(ctx, 1, DiscoverOpts{SimilarityThreshold: 1.5, LimitPerMarket: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func seededRelations() []domain.Relation {
	return []domain.Relation{
		{MarketID1: 1, MarketID2: 2, Similarity: 0.99, Correlation: 1, Pressure: 0.2},
		{MarketID1: 1, MarketID2: 3, Similarity: 0.80, Correlation: 1, Pressure: 0.6},
		{MarketID1: 1, MarketID2: 4, Similarity: 0.75, Correlation: 1, Pressure: 0.4},
		{MarketID1: 1, MarketID2: 5, Similarity: 0.50, Correlation: 1, Pressure: 0.9},
	}
}

func relatedIDs(rs []domain.RelatedMarket) []int64 {
	ids := make([]int64, len(rs))
	for i, r := range rs {
		ids[i] = r.RelatedID
	}
	return ids
}

func TestGetRelatedDefaults(t *testing.T) {
	f := newRelationFixture(t, nil, seededRelations()...)
	got, err := f.svc.GetRelated(context.Background(), 1, DefaultRelatedOpts())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 2}, relatedIDs(got), "min similarity 0.7, sorted by pressure")
	assert.Nil(t, got[0].Market)
}

func TestGetRelatedLimitTakesMostSimilar(t *testing.T) {
	f := newRelationFixture(t, nil, seededRelations()...)
	opts := DefaultRelatedOpts()
	opts.Limit = 2
	got, err := f.svc.GetRelated(context.Background(), 1, opts)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, relatedIDs(got))
}

func TestGetRelatedMinVolumeAndMarkets(t *testing.T) {
	f := newRelationFixture(t, nil, seededRelations()...)
	opts := DefaultRelatedOpts()
	opts.MinVolume = f64(1000)
	opts.IncludeMarkets = true
	opts.SortBy = SortBySimilarity
	got, err := f.svc.GetRelated(context.Background(), 1, opts)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, relatedIDs(got))
	require.NotNil(t, got[0].Market)
	assert.Equal(t, "Will B happen?", got[0].Market.Question)
}

func TestGetRelatedWithAnalysis(t *testing.T) {
	f := newRelationFixture(t, nil, seededRelations()...)
	f.analyzer.fn = func(_, m2 domain.Market) (domain.CorrelationAnalysis, error) {
		if m2.ID == 4 {
			return domain.CorrelationAnalysis{}, &domain.UpstreamError{Op: "analyze", Err: errors.New("down")}
		}
		return domain.CorrelationAnalysis{CorrelationScore: 0.5, InvestmentScore: float64(m2.ID) / 10}, nil
	}
	opts := DefaultRelatedOpts()
	opts.IncludeAnalysis = true
	got, err := f.svc.GetRelated(context.Background(), 1, opts)
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 2, 4}, relatedIDs(got), "investment score desc, missing analysis last")
	require.NotNil(t, got[0].Analysis)
	assert.NotNil(t, got[0].Analysis.ExpectedValues)
	assert.Nil(t, got[2].Analysis)
	assert.Nil(t, got[0].Market, "markets are only kept when requested")
	assert.Equal(t, 3, f.analyzer.count())
}

func TestGetRelatedValidation(t *testing.T) {
	f := newRelationFixture(t, nil)
	_, err := f.svc.GetRelated(context.Background(), 1, RelatedOpts{SortBy: "volume"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.GetRelated(context.Background(), 1, RelatedOpts{MinSimilarity: -1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.GetRelated(context.Background(), 42, DefaultRelatedOpts())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateAndDeleteRelation(t *testing.T) {
	f := newRelationFixture(t, nil)
	ctx := context.Background()

	r, err := f.svc.CreateRelation(ctx, 5, 2, 0.9, 1, 0.3)
	require.NoError(t, err)
	assert.Equal(t, domain.PairKey{Lo: 2, Hi: 5}, r.Key())
	assert.Equal(t, int64(2), r.MarketID1)

	got, err := f.svc.GetRelationBetween(ctx, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Similarity)

	_, err = f.svc.CreateRelation(ctx, 3, 3, 0.9, 1, 0.3)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.CreateRelation(ctx, 1, 3, 1.2, 1, 0.3)
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, f.svc.DeleteRelation(ctx, 2, 5))
	assert.ErrorIs(t, f.svc.DeleteRelation(ctx, 2, 5), domain.ErrNotFound)
	_, err = f.svc.GetRelationBetween(ctx, 2, 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateRelationsBatchCounts(t *testing.T) {
	f := newRelationFixture(t, nil, domain.Relation{MarketID1: 1, MarketID2: 2, Similarity: 0.1})
	res, err := f.svc.CreateRelationsBatch(context.Background(), []domain.Relation{
		{MarketID1: 2, MarketID2: 1, Similarity: 0.9, Correlation: 1, Pressure: 0.1},
		{MarketID1: 1, MarketID2: 3, Similarity: 0.9, Correlation: 1, Pressure: 0.1},
		{MarketID1: 4, MarketID2: 4, Similarity: 0.9, Correlation: 1, Pressure: 0.1},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchResult{Created: 1, Updated: 1, Failed: 1, Total: 3}, res)

	f.relations.failChunk = func(int) error { return errors.New("db down") }
	res, err = f.svc.CreateRelationsBatch(context.Background(), []domain.Relation{
		{MarketID1: 2, MarketID2: 3, Similarity: 0.9, Correlation: 1, Pressure: 0.1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}

func TestDeleteForMarketAndCount(t *testing.T) {
	f := newRelationFixture(t, nil, seededRelations()...)
	ctx := context.Background()
	id := int64(1)

	n, err := f.svc.CountRelations(ctx, &id)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	deleted, err := f.svc.DeleteRelationsForMarket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	n, err = f.svc.CountRelations(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEstimateRelations(t *testing.T) {
	f := newRelationFixture(t, nil, domain.Relation{MarketID1: 1, MarketID2: 2, Similarity: 0.99})

	est, err := f.svc.EstimateRelations(context.Background(), nil, discoverOpts(), 0)
	require.NoError(t, err)
	// New pairs per market: 1→{3}, 2→{3}, 3→{4,2,1}, 4→{3,5}, 5→{4}.
	assert.Equal(t, RelationEstimate{
		EstimatedTotal:     8,
		SampledMarkets:     5,
		TotalMarkets:       5,
		RelationsPerMarket: 1.6,
		SampleRelations:    8,
		IsSampled:          false,
	}, est)
}

func TestEstimateRelationsSampled(t *testing.T) {
	f := newRelationFixture(t, nil)
	f.svc.shuffle = func(n int) []int {
		p := make([]int, n)
		for i := range p {
			p[i] = n - 1 - i
		}
		return p
	}

	// The reversed permutation samples markets 5 and 4.
	est, err := f.svc.EstimateRelations(context.Background(), []int64{1, 2, 3, 4, 5}, discoverOpts(), 2)
	require.NoError(t, err)
	assert.True(t, est.IsSampled)
	assert.Equal(t, 2, est.SampledMarkets)
	assert.Equal(t, 3, est.SampleRelations)
	assert.Equal(t, 1.5, est.RelationsPerMarket)
	assert.Equal(t, 7, est.EstimatedTotal)
}
