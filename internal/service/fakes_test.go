package service

import (
	"cmp"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func f64(v float64) *float64 { return &v }

// memMarkets is an in-memory domain.MarketStore.
type memMarkets struct {
	mu     sync.Mutex
	byID   map[int64]domain.Market
	nextID int64
	gets   int
}

func newMemMarkets(ms ...domain.Market) *memMarkets {
	s := &memMarkets{byID: map[int64]domain.Market{}}
	for _, m := range ms {
		s.byID[m.ID] = m
		s.nextID = max(s.nextID, m.ID)
	}
	return s
}

func (s *memMarkets) UpsertBatch(_ context.Context, markets []domain.Market) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(markets))
	for _, m := range markets {
		id := int64(0)
		for _, cur := range s.byID {
			if cur.PolymarketID == m.PolymarketID {
				id = cur.ID
			}
		}
		if id == 0 {
			s.nextID++
			id = s.nextID
		}
		m.ID = id
		s.byID[id] = m
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memMarkets) GetByID(_ context.Context, id int64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	m, ok := s.byID[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarkets) GetByPolymarketID(_ context.Context, pid string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.byID {
		if m.PolymarketID == pid {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *memMarkets) GetByPolymarketIDs(_ context.Context, pids []string) (map[string]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, pid := range pids {
		want[pid] = true
	}
	out := map[string]domain.Market{}
	for _, m := range s.byID {
		if want[m.PolymarketID] {
			out[m.PolymarketID] = m
		}
	}
	return out, nil
}

func (s *memMarkets) GetByIDs(_ context.Context, ids []int64) (map[int64]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]domain.Market{}
	for _, id := range ids {
		if m, ok := s.byID[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (s *memMarkets) sorted() []domain.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.byID))
	for _, m := range s.byID {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.Market) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *memMarkets) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	all := s.sorted()
	if opts.ActiveOnly {
		all = slices.DeleteFunc(all, func(m domain.Market) bool { return !m.Active })
	}
	if opts.Offset >= len(all) {
		return nil, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (s *memMarkets) ListIDs(ctx context.Context, opts domain.ListOpts) ([]int64, error) {
	ms, _ := s.List(ctx, opts)
	ids := make([]int64, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids, nil
}

func (s *memMarkets) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byID)), nil
}

// memEmbeddings is an in-memory domain.EmbeddingStore. failChunk, when set,
// is consulted once per GetByIDs call.
type memEmbeddings struct {
	mu        sync.Mutex
	vecs      map[int64]domain.Embedding
	markets   *memMarkets
	getErr    error
	failChunk func(ids []int64) error
}

func newMemEmbeddings(markets *memMarkets, vecs map[int64][]float32) *memEmbeddings {
	s := &memEmbeddings{vecs: map[int64]domain.Embedding{}, markets: markets}
	for id, v := range vecs {
		s.vecs[id] = domain.Embedding{MarketID: id, Vector: v, Model: "test"}
	}
	return s
}

func (s *memEmbeddings) Get(_ context.Context, id int64) (domain.Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.vecs[id]
	if !ok {
		return domain.Embedding{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *memEmbeddings) GetByIDs(_ context.Context, ids []int64) (map[int64][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.failChunk != nil {
		if err := s.failChunk(ids); err != nil {
			return nil, err
		}
	}
	out := map[int64][]float32{}
	for _, id := range ids {
		if e, ok := s.vecs[id]; ok {
			out[id] = e.Vector
		}
	}
	return out, nil
}

func (s *memEmbeddings) ListMarketIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.vecs))
	for id := range s.vecs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *memEmbeddings) MissingMarketIDs(_ context.Context, limit int) ([]int64, error) {
	var ids []int64
	for _, m := range s.markets.sorted() {
		s.mu.Lock()
		_, ok := s.vecs[m.ID]
		s.mu.Unlock()
		if !ok {
			ids = append(ids, m.ID)
		}
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (s *memEmbeddings) UpsertBatch(_ context.Context, es []domain.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range es {
		s.vecs[e.MarketID] = e
	}
	return nil
}

// memRelations is an in-memory domain.RelationStore. failChunk, when set, is
// consulted once per UpsertBatch call.
type memRelations struct {
	mu        sync.Mutex
	rels      map[domain.PairKey]domain.Relation
	calls     int
	failChunk func(call int) error
	onUpsert  func(call int)
}

func newMemRelations(rs ...domain.Relation) *memRelations {
	s := &memRelations{rels: map[domain.PairKey]domain.Relation{}}
	for _, r := range rs {
		s.rels[r.Key()] = r
	}
	return s
}

func (s *memRelations) Upsert(_ context.Context, r domain.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rels[r.Key()] = r
	return nil
}

func (s *memRelations) UpsertBatch(_ context.Context, rs []domain.Relation) (domain.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.onUpsert != nil {
		s.onUpsert(s.calls)
	}
	res := domain.BatchResult{Total: len(rs)}
	if s.failChunk != nil {
		if err := s.failChunk(s.calls); err != nil {
			res.Failed = len(rs)
			return res, err
		}
	}
	for _, r := range rs {
		if _, ok := s.rels[r.Key()]; ok {
			res.Updated++
		} else {
			res.Created++
		}
		s.rels[r.Key()] = r
	}
	return res, nil
}

func (s *memRelations) Get(_ context.Context, k domain.PairKey) (domain.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rels[k]
	if !ok {
		return domain.Relation{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memRelations) all() []domain.Relation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Relation, 0, len(s.rels))
	for _, r := range s.rels {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b domain.Relation) int {
		return cmp.Or(cmp.Compare(a.MarketID1, b.MarketID1), cmp.Compare(a.MarketID2, b.MarketID2))
	})
	return out
}

func (s *memRelations) ListForMarket(_ context.Context, id int64, minSim float64, limit int) ([]domain.Relation, error) {
	var out []domain.Relation
	for _, r := range s.all() {
		if r.Key().Contains(id) && r.Similarity >= minSim {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Relation) int { return cmp.Compare(b.Similarity, a.Similarity) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memRelations) ListInvolving(_ context.Context, ids []int64, minSim float64) ([]domain.Relation, error) {
	var out []domain.Relation
	for _, r := range s.all() {
		k := r.Key()
		if (slices.Contains(ids, k.Lo) || slices.Contains(ids, k.Hi)) && r.Similarity >= minSim {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Relation) int { return cmp.Compare(b.Similarity, a.Similarity) })
	return out, nil
}

func (s *memRelations) ListPairs(_ context.Context, afterLo, afterHi int64, limit int) ([]domain.PairKey, error) {
	var out []domain.PairKey
	for _, r := range s.all() {
		k := r.Key()
		if k.Lo > afterLo || (k.Lo == afterLo && k.Hi > afterHi) {
			out = append(out, k)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memRelations) Delete(_ context.Context, k domain.PairKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rels[k]
	delete(s.rels, k)
	return ok, nil
}

func (s *memRelations) DeleteForMarket(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.rels {
		if k.Contains(id) {
			delete(s.rels, k)
			n++
		}
	}
	return n, nil
}

func (s *memRelations) Count(_ context.Context, id *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == nil {
		return int64(len(s.rels)), nil
	}
	var n int64
	for k := range s.rels {
		if k.Contains(*id) {
			n++
		}
	}
	return n, nil
}

// memMarketCache is an in-memory domain.MarketCache.
type memMarketCache struct {
	mu          sync.Mutex
	items       map[int64]domain.Market
	invalidated []int64
}

func newMemMarketCache() *memMarketCache {
	return &memMarketCache{items: map[int64]domain.Market{}}
}

func (c *memMarketCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[m.ID] = m
	return nil
}

func (c *memMarketCache) Get(_ context.Context, id int64) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.items[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memMarketCache) Invalidate(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

// memAnalysisCache is an in-memory domain.AnalysisCache.
type memAnalysisCache struct {
	mu    sync.Mutex
	items map[string]domain.CorrelationAnalysis
}

func newMemAnalysisCache() *memAnalysisCache {
	return &memAnalysisCache{items: map[string]domain.CorrelationAnalysis{}}
}

func (c *memAnalysisCache) Set(_ context.Context, model string, a domain.CorrelationAnalysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[model+"/"+domain.CanonicalPair(a.Market1ID, a.Market2ID).String()] = a
	return nil
}

func (c *memAnalysisCache) Get(_ context.Context, model string, k domain.PairKey) (domain.CorrelationAnalysis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.items[model+"/"+k.String()]
	if !ok {
		return domain.CorrelationAnalysis{}, domain.ErrNotFound
	}
	return a, nil
}

// fakeEmbedder maps texts to vectors through fn. failCall, when positive,
// fails that EmbedBatch call (1-based).
type fakeEmbedder struct {
	mu       sync.Mutex
	fn       func(text string) []float32
	calls    int
	failCall int
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls == e.failCall {
		return nil, &domain.UpstreamError{Op: "embed", Err: errors.New("provider down")}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.fn(t)
	}
	return out, nil
}

func (e *fakeEmbedder) Model() string  { return "fake-embed" }
func (e *fakeEmbedder) Dimension() int { return 2 }

// fakeAnalyzer answers with fn and counts calls.
type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	fn    func(m1, m2 domain.Market) (domain.CorrelationAnalysis, error)
}

func (a *fakeAnalyzer) Analyze(_ context.Context, m1, m2 domain.Market, model string) (domain.CorrelationAnalysis, error) {
	if _, err := domain.ResolveAnalysisModel(model); err != nil {
		return domain.CorrelationAnalysis{}, err
	}
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.fn(m1, m2)
}

func (a *fakeAnalyzer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// fakeLock is a single-holder domain.LockManager.
type fakeLock struct {
	mu       sync.Mutex
	held     bool
	released int
}

func (l *fakeLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.held = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.released++
	}, nil
}

// fakeSnapshots records snapshot writes.
type fakeSnapshots struct {
	runID     string
	relations []domain.Relation
	err       error
}

func (s *fakeSnapshots) WriteRelations(_ context.Context, runID string, rs []domain.Relation) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.runID = runID
	s.relations = append([]domain.Relation(nil), rs...)
	return "snapshots/relations/" + runID + ".jsonl", nil
}

// waitCounter is a domain.RateLimiter that admits everything.
type waitCounter struct {
	mu    sync.Mutex
	waits int
}

func (w *waitCounter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (w *waitCounter) Wait(ctx context.Context, _ string) error {
	w.mu.Lock()
	w.waits++
	w.mu.Unlock()
	return ctx.Err()
}

// corpusFixture is five markets on the unit circle. Cosine with market 1:
// m2 0.99, m3 0.8, m4 0.6, m5 0.
func corpusFixture() (*memMarkets, *memEmbeddings) {
	markets := newMemMarkets(
		domain.Market{ID: 1, PolymarketID: "p1", Question: "Will A happen?", Volume: 5000, OutcomePrices: []string{"0.40", "0.60"}, OneDayPriceChange: f64(0.05)},
		domain.Market{ID: 2, PolymarketID: "p2", Question: "Will A happen by June?", Volume: 100, OutcomePrices: []string{"0.55", "0.45"}, OneDayPriceChange: f64(0.30)},
		domain.Market{ID: 3, PolymarketID: "p3", Question: "Will B happen?", Volume: 9000, OutcomePrices: []string{"0.60", "0.40"}},
		domain.Market{ID: 4, PolymarketID: "p4", Question: "Will C happen?", Volume: 7000},
		domain.Market{ID: 5, PolymarketID: "p5", Question: "Unrelated?", Volume: 1},
	)
	embeddings := newMemEmbeddings(markets, map[int64][]float32{
		1: {1, 0},
		2: {0.99, 0.14106736},
		3: {0.8, 0.6},
		4: {0.6, 0.8},
		5: {0, 1},
	})
	return markets, embeddings
}
