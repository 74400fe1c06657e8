package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/platform/polymarket"
	"github.com/alanyoungcy/polyrelate/internal/service"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubFetcher struct {
	markets []domain.Market
	err     error
	opts    polymarket.FetchOpts
}

func (f *stubFetcher) FetchActiveMarkets(_ context.Context, opts polymarket.FetchOpts, _ *slog.Logger) ([]domain.Market, polymarket.FetchStats, error) {
	f.opts = opts
	return f.markets, polymarket.FetchStats{Pages: 1, Events: len(f.markets)}, f.err
}

type recordingSyncer struct {
	batches [][]domain.Market
	nextID  int64
	err     error
}

func (s *recordingSyncer) SyncMarkets(_ context.Context, markets []domain.Market) ([]int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.batches = append(s.batches, markets)
	ids := make([]int64, len(markets))
	for i := range markets {
		s.nextID++
		ids[i] = s.nextID
	}
	return ids, nil
}

func marketsN(n int) []domain.Market {
	out := make([]domain.Market, n)
	for i := range out {
		out[i] = domain.Market{PolymarketID: string(rune('a' + i)), Question: "q"}
	}
	return out
}

func TestMarketScraperSyncsInBatches(t *testing.T) {
	fetcher := &stubFetcher{markets: marketsN(5)}
	syncer := &recordingSyncer{}
	opts := polymarket.FetchOpts{PageSize: 50, Tags: []string{"Politics"}}
	s := NewMarketScraper(syncer, fetcher, opts, 2, quietLogger())

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, opts, fetcher.opts)
	assert.Equal(t, 5, report.Fetched)
	assert.Equal(t, 5, report.Synced)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, report.IDs)
	require.Len(t, syncer.batches, 3)
	assert.Len(t, syncer.batches[2], 1)
}

func TestMarketScraperPartialCrawl(t *testing.T) {
	fetcher := &stubFetcher{markets: marketsN(3), err: errors.New("gamma 502")}
	s := NewMarketScraper(&recordingSyncer{}, fetcher, polymarket.FetchOpts{}, 0, quietLogger())

	report, err := s.Run(context.Background())
	require.NoError(t, err, "gathered markets are still synced")
	assert.Equal(t, 3, report.Synced)

	fetcher.markets = nil
	_, err = s.Run(context.Background())
	assert.ErrorContains(t, err, "gamma 502")
}

func TestMarketScraperSyncError(t *testing.T) {
	fetcher := &stubFetcher{markets: marketsN(2)}
	s := NewMarketScraper(&recordingSyncer{err: errors.New("pool closed")}, fetcher, polymarket.FetchOpts{}, 10, quietLogger())
	_, err := s.Run(context.Background())
	assert.ErrorContains(t, err, "pool closed")
}

type stubEmbedder struct {
	mu     sync.Mutex
	limits []int
}

func (e *stubEmbedder) EmbedMissing(_ context.Context, limit int) (service.EmbedReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = append(e.limits, limit)
	return service.EmbedReport{Requested: 2, Created: 2}, nil
}

func (e *stubEmbedder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.limits)
}

func TestEmbedWorkerPassesLimit(t *testing.T) {
	e := &stubEmbedder{}
	w := NewEmbedWorker(e, 250, quietLogger())
	report, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, []int{250}, e.limits)
}

type stubBuilder struct {
	err  error
	opts service.BuildOpts
}

func (b *stubBuilder) Run(_ context.Context, opts service.BuildOpts) (service.BuildReport, error) {
	b.opts = opts
	return service.BuildReport{RunID: "r1", Created: 3}, b.err
}

func TestRebuildWorkerToleratesHeldLock(t *testing.T) {
	b := &stubBuilder{err: domain.ErrLockHeld}
	opts := service.BuildOpts{SkipExisting: true, BatchSize: 100}
	w := NewRebuildWorker(b, opts, quietLogger())
	assert.NoError(t, w.Run(context.Background()))
	assert.Equal(t, opts, b.opts)

	b.err = errors.New("relation store down")
	assert.Error(t, w.Run(context.Background()))
}

func TestOrchestratorStopsCleanly(t *testing.T) {
	e := &stubEmbedder{}
	o := NewOrchestrator(nil, NewEmbedWorker(e, 0, quietLogger()), nil,
		Intervals{Embed: time.Millisecond, Rebuild: time.Millisecond}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return e.calls() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
