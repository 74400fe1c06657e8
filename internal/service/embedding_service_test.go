package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// textVector embeds anything mentioning "A" near the x axis.
func textVector(text string) []float32 {
	if strings.Contains(text, "A") {
		return []float32{1, 0.05}
	}
	return []float32{0.05, 1}
}

func TestEmbedMarketsFailedBatchIsNotZeroFilled(t *testing.T) {
	markets := newMemMarkets(
		domain.Market{ID: 1, Question: "Will A happen?"},
		domain.Market{ID: 2, Question: "Will B happen?"},
		domain.Market{ID: 3, Question: "Will C happen?"},
	)
	embeddings := newMemEmbeddings(markets, nil)
	embedder := &fakeEmbedder{fn: textVector, failCall: 1}
	svc := NewEmbeddingService(markets, embeddings, embedder, 2, 10, 1, nil, testLogger())

	report, err := svc.EmbedMarkets(context.Background(), []int64{1, 2, 3, 9})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Requested)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 3, report.Failed)
	assert.ElementsMatch(t, []int64{9, 1, 2}, report.FailedIDs)

	_, err = embeddings.Get(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound, "failed markets get no vector at all")
	e, err := embeddings.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "fake-embed", e.Model)
}

func TestEmbedMissing(t *testing.T) {
	markets, embeddings := corpusFixture()
	_, _ = markets.UpsertBatch(context.Background(), []domain.Market{{PolymarketID: "p6", Question: "Will A close?"}})
	svc := NewEmbeddingService(markets, embeddings, &fakeEmbedder{fn: textVector}, 10, 10, 1, nil, testLogger())

	report, err := svc.EmbedMissing(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, EmbedReport{Requested: 1, Created: 1}, report)
	_, err = embeddings.Get(context.Background(), 6)
	assert.NoError(t, err)
}

func TestFindSimilarToText(t *testing.T) {
	markets, embeddings := corpusFixture()
	svc := NewEmbeddingService(markets, embeddings, &fakeEmbedder{fn: textVector}, 10, 2, 2, nil, testLogger())

	got, err := svc.FindSimilarToText(context.Background(), "A", 2, 0.7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Market.ID)
	assert.Equal(t, int64(2), got[1].Market.ID)
	assert.Greater(t, got[0].Similarity, got[1].Similarity)
}

func TestEmbeddingServiceValidationAndUnavailable(t *testing.T) {
	markets, embeddings := corpusFixture()
	svc := NewEmbeddingService(markets, embeddings, nil, 10, 10, 1, nil, testLogger())
	assert.False(t, svc.Enabled())

	_, err := svc.FindSimilarToText(context.Background(), "  ", 5, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.FindSimilarToText(context.Background(), "A", 5, 0)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	_, err = svc.EmbedMarkets(context.Background(), []int64{1})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestFindSimilarToMarket(t *testing.T) {
	markets, embeddings := corpusFixture()
	svc := NewEmbeddingService(markets, embeddings, nil, 10, 2, 2, nil, testLogger())
	ctx := context.Background()

	got, err := svc.FindSimilarToMarket(ctx, 1, 3)
	require.NoError(t, err)
	var ids []int64
	for _, m := range got {
		ids = append(ids, m.Market.ID)
	}
	assert.Equal(t, []int64{2, 3, 4}, ids, "market 1 is excluded from its own results")
	assert.InDelta(t, 0.99, got[0].Similarity, 1e-6)

	got, err = svc.FindWithinThreshold(ctx, 1, 0.7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Market.ID)
	assert.Equal(t, int64(3), got[1].Market.ID)

	got, err = svc.FindWithinThreshold(ctx, 5, 0.99)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = svc.FindSimilarToMarket(ctx, 42, 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.FindWithinThreshold(ctx, 42, 0.7)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, limit := range []int{0, MaxSimilarLimit + 1} {
		_, err = svc.FindSimilarToMarket(ctx, 1, limit)
		assert.ErrorIs(t, err, domain.ErrValidation, "limit %d", limit)
	}
	_, err = svc.FindWithinThreshold(ctx, 1, 1.5)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
