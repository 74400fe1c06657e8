package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/metrics"
)

func TestSyncMarketsInvalidatesReturnedIDs(t *testing.T) {
	store := newMemMarkets(domain.Market{ID: 7, PolymarketID: "p7", Question: "old"})
	cache := newMemMarketCache()
	require.NoError(t, cache.Set(context.Background(), domain.Market{ID: 7, Question: "old"}))
	reg := metrics.New()
	svc := NewMarketService(store, cache, reg, testLogger())

	ids, err := svc.SyncMarkets(context.Background(), []domain.Market{
		{PolymarketID: "p7", Question: "new"},
		{PolymarketID: "p8", Question: "fresh"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, ids)
	assert.Equal(t, []int64{7, 8}, cache.invalidated)
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.MarketsSynced))

	m, err := svc.GetMarket(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "new", m.Question)

	ids, err = svc.SyncMarkets(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestGetMarketCacheAside(t *testing.T) {
	store := newMemMarkets(domain.Market{ID: 1, Question: "q"})
	cache := newMemMarketCache()
	svc := NewMarketService(store, cache, nil, testLogger())

	_, err := svc.GetMarket(context.Background(), 1)
	require.NoError(t, err)
	_, err = svc.GetMarket(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets, "second read is served from cache")

	_, err = svc.GetMarket(context.Background(), 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketListAndCount(t *testing.T) {
	store, _ := corpusFixture()
	svc := NewMarketService(store, nil, nil, testLogger())

	page, err := svc.List(context.Background(), domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].ID)

	n, err := svc.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	got, err := svc.GetMarkets(context.Background(), []int64{1, 99})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
