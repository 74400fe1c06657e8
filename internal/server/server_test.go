package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/metrics"
	"github.com/alanyoungcy/polyrelate/internal/server/handler"
	"github.com/alanyoungcy/polyrelate/internal/service"
)

type stubMarkets struct{}

func (stubMarkets) GetMarket(_ context.Context, id int64) (domain.Market, error) {
	if id == 1 {
		return domain.Market{ID: 1, Question: "Will it rain?"}, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (stubMarkets) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return []domain.Market{{ID: int64(opts.Offset + 1)}}, nil
}

func (stubMarkets) Count(context.Context) (int64, error) { return 42, nil }

type stubRelations struct {
	relatedOpts  service.RelatedOpts
	discoverOpts service.DiscoverOpts
	deleted      []domain.PairKey
	countFor     *int64
	graphOpts    service.GraphOpts
	batchMinSim  *float64
}

func (s *stubRelations) GetRelated(_ context.Context, id int64, opts service.RelatedOpts) ([]domain.RelatedMarket, error) {
	s.relatedOpts = opts
	if opts.IncludeAnalysis {
		return nil, domain.ErrUnavailable
	}
	return []domain.RelatedMarket{{RelatedID: id + 1, Similarity: 0.9, Pressure: 0.1}}, nil
}

func (s *stubRelations) GetRelationBetween(_ context.Context, a, b int64) (domain.Relation, error) {
	if a == b {
		return domain.Relation{}, domain.NewValidationError("market_id", "relation requires two distinct markets")
	}
	k := domain.CanonicalPair(a, b)
	return domain.Relation{MarketID1: k.Lo, MarketID2: k.Hi, Similarity: 0.9}, nil
}

func (s *stubRelations) CreateRelation(_ context.Context, a, b int64, sim, corr, press float64) (domain.Relation, error) {
	if sim > 1 {
		return domain.Relation{}, domain.NewValidationError("similarity", "must be within [0,1]")
	}
	return domain.NewRelation(a, b, sim, corr, press)
}

func (s *stubRelations) CreateRelationsBatch(_ context.Context, rels []domain.Relation) (domain.BatchResult, error) {
	return domain.BatchResult{Created: len(rels), Total: len(rels)}, nil
}

func (s *stubRelations) DeleteRelation(_ context.Context, a, b int64) error {
	if a == 9 {
		return domain.ErrNotFound
	}
	s.deleted = append(s.deleted, domain.CanonicalPair(a, b))
	return nil
}

func (s *stubRelations) DeleteRelationsForMarket(context.Context, int64) (int64, error) {
	return 3, nil
}

func (s *stubRelations) CountRelations(_ context.Context, id *int64) (int64, error) {
	s.countFor = id
	return 7, nil
}

func (s *stubRelations) DiscoverForMarket(_ context.Context, id int64, opts service.DiscoverOpts) (service.DiscoverReport, error) {
	s.discoverOpts = opts
	if id == 5 {
		return service.DiscoverReport{}, &domain.UpstreamError{Op: "analyze", Err: errors.New("timeout")}
	}
	return service.DiscoverReport{MarketID: id, Created: 2}, nil
}

func (s *stubRelations) EstimateRelations(_ context.Context, ids []int64, opts service.DiscoverOpts, sample int) (service.RelationEstimate, error) {
	s.discoverOpts = opts
	return service.RelationEstimate{TotalMarkets: len(ids), SampledMarkets: sample}, nil
}

func (s *stubRelations) DiscoverDefaults() service.DiscoverOpts {
	return service.DiscoverOpts{SimilarityThreshold: 0.8, LimitPerMarket: 100}
}

func (s *stubRelations) Graph(_ context.Context, opts service.GraphOpts) (service.Graph, error) {
	s.graphOpts = opts
	return service.Graph{
		Nodes:            []service.GraphNode{{ID: "p1", MarketID: 1}, {ID: "p2", MarketID: 2}},
		Connections:      []service.GraphConnection{{Source: "p1", Target: "p2", Similarity: 0.9}},
		TotalNodes:       2,
		TotalConnections: 1,
	}, nil
}

func (s *stubRelations) Statistics(_ context.Context, id int64) (service.RelationStatistics, error) {
	if id == 404 {
		return service.RelationStatistics{}, domain.ErrNotFound
	}
	return service.RelationStatistics{MarketID: id, TotalRelated: 3, HighCount: 1}, nil
}

func (s *stubRelations) RelationsByPolymarketIDs(_ context.Context, pids []string, minSim *float64) (service.BatchRelations, error) {
	s.batchMinSim = minSim
	if len(pids) == 0 {
		return service.BatchRelations{}, domain.NewValidationError("polymarket_ids", "must not be empty")
	}
	return service.BatchRelations{
		Relations:       []domain.Relation{{MarketID1: 1, MarketID2: 2, Similarity: 0.9}},
		TotalRelations:  1,
		MarketsFound:    len(pids) - 1,
		MarketsNotFound: pids[len(pids)-1:],
	}, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) AnalyzeByID(_ context.Context, a, b int64, model string) (domain.CorrelationAnalysis, error) {
	if model == "bogus" {
		return domain.CorrelationAnalysis{}, domain.NewValidationError("model", "unsupported")
	}
	return domain.CorrelationAnalysis{Market1ID: a, Market2ID: b, CorrelationScore: 0.7}, nil
}

type stubSearcher struct{}

func (stubSearcher) FindSimilarToText(_ context.Context, text string, limit int, _ float64) ([]service.SimilarMarket, error) {
	if text == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	return []service.SimilarMarket{{Market: domain.Market{ID: 1}, Similarity: 0.9}}, nil
}

func (stubSearcher) FindSimilarToMarket(_ context.Context, id int64, limit int) ([]service.SimilarMarket, error) {
	if id == 404 {
		return nil, domain.ErrNotFound
	}
	if limit < 1 || limit > service.MaxSimilarLimit {
		return nil, domain.NewValidationError("limit", "out of range")
	}
	out := make([]service.SimilarMarket, limit)
	for i := range out {
		out[i] = service.SimilarMarket{Market: domain.Market{ID: id + int64(i) + 1}, Similarity: 0.9}
	}
	return out, nil
}

func (stubSearcher) FindWithinThreshold(_ context.Context, id int64, threshold float64) ([]service.SimilarMarket, error) {
	if threshold > 1 {
		return nil, domain.NewValidationError("threshold", "must be within [0,1]")
	}
	return []service.SimilarMarket{{Market: domain.Market{ID: id + 1}, Similarity: threshold}}, nil
}

type stubSnapshots struct {
	byPath map[string][]domain.Relation
	path  string
}

func (s *stubSnapshots) Latest(context.Context) (domain.BlobInfo, error) {
	if s.path == "" {
		return domain.BlobInfo{}, domain.ErrNotFound
	}
	return domain.BlobInfo{Path: s.path, Size: 128, LastModified: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (s *stubSnapshots) ReadRelations(_ context.Context, p string) ([]domain.Relation, error) {
	return s.byPath[p], nil
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type denyLimiter struct{ calls int }

func (l *denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.calls++
	return l.calls <= 1, nil
}

func (l *denyLimiter) Wait(context.Context, string) error { return nil }

type testEnv struct {
	relations *stubRelations
	snapshots *stubSnapshots
	reg       *metrics.Registry
	h         http.Handler
}

func newTestEnv(cfg Config, limiter domain.RateLimiter, dbErr error) *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rels := &stubRelations{}
	snaps := &stubSnapshots{byPath: map[string][]domain.Relation{}}
	reg := metrics.New()
	handlers := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": pingerFunc(func(context.Context) error { return dbErr }),
		}, logger),
		Markets:   handler.NewMarketHandler(stubMarkets{}, logger),
		Relations: handler.NewRelationHandler(rels, stubAnalyzer{}, logger),
		Search:    handler.NewSearchHandler(stubSearcher{}, logger),
		Snapshots: handler.NewSnapshotHandler(snaps, logger),
	}
	return &testEnv{relations: rels, snapshots: snaps, reg: reg, h: Routes(cfg, handlers, limiter, reg, logger)}
}

func (e *testEnv) do(t *testing.T, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	rec := newTestEnv(Config{}, nil, nil).do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = newTestEnv(Config{}, nil, errors.New("conn refused")).do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestMarketRoutes(t *testing.T) {
	env := newTestEnv(Config{}, nil, nil)

	rec := env.do(t, http.MethodGet, "/api/markets/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Will it rain?", decode(t, rec)["question"])

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/markets/2", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/markets/abc", "").Code)

	rec = env.do(t, http.MethodGet, "/api/markets?limit=5&offset=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 42.0, body["total"])
	assert.Equal(t, 5.0, body["limit"])
}

func TestRelatedQueryParsing(t *testing.T) {
	env := newTestEnv(Config{}, nil, nil)

	rec := env.do(t, http.MethodGet, "/api/markets/3/related?limit=4&min_similarity=0.75&min_volume=1000&include_markets=true&sort_by=similarity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["count"])

	opts := env.relations.relatedOpts
	assert.Equal(t, 4, opts.Limit)
	assert.Equal(t, 0.75, opts.MinSimilarity)
	require.NotNil(t, opts.MinVolume)
	assert.Equal(t, 1000.0, *opts.MinVolume)
	assert.True(t, opts.IncludeMarkets)
	assert.Equal(t, "similarity", opts.SortBy)

	rec = env.do(t, http.MethodGet, "/api/markets/3/related", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.DefaultRelatedOpts(), env.relations.relatedOpts)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/markets/3/related?limit=x", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/markets/3/related?include_analysis=true", "").Code)
}

func TestRelationCRUD(t *testing.T) {
	env := newTestEnv(Config{}, nil, nil)

	rec := env.do(t, http.MethodGet, "/api/relations/9/4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4.0, decode(t, rec)["market_id_1"])
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/relations/4/4", "").Code)

	rec = env.do(t, http.MethodPost, "/api/relations", `{"market_id_1":5,"market_id_2":2,"similarity":0.9,"correlation":1,"pressure":0.2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["market_id_1"])
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/relations", `{"market_id_1":5,"market_id_2":2,"similarity":1.5}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/relations", `{"nope":1}`).Code)

	rec = env.do(t, http.MethodPost, "/api/relations/batch", `[{"market_id_1":1,"market_id_2":2,"similarity":0.9}]`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["created"])

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/relations/3/1", "").Code)
	assert.Equal(t, []domain.PairKey{{Lo: 1, Hi: 3}}, env.relations.deleted)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/relations/9/1", "").Code)

	rec = env.do(t, http.MethodDelete, "/api/markets/3/relations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, decode(t, rec)["deleted"])
}

func TestRelationCount(t *testing.T) {
	env := newTestEnv(Config{}, nil, nil)

	rec := env.do(t, http.MethodGet, "/api/relations/count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, env.relations.countFor)
	assert.Equal(t, 7.0, decode(t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/api/relations/count?market_id=12", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.relations.countFor)
	assert.Equal(t, int64(12), *env.relations.countFor)
}

func TestDiscoverAndEstimate(t *testing.T) {
	env := newTestEnv(Config{}, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/markets/3/relations/discover", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["created"])
	assert.Equal(t, env.relations.DiscoverDefaults(), env.relations.discoverOpts)

	rec = env.do(t, http.MethodPost, "/api/markets/3/relations/discover", `{"similarity_threshold":0.9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.9, env.relations.discoverOpts.SimilarityThreshold)
	assert.Equal(t, 100, env.relations.discoverOpts.LimitPerMarket)

	assert.Equal(t, http.StatusBadGateway, env.do(t, http.MethodPost, "/api/markets/5/relations/discover", "").Code)

	rec = env.do(t, http.MethodPost, "/api/relations/estimate", `{"market_ids":[1,2,3],"sample_size":2,"limit_per_market":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 3.0, body["total_markets"])
	assert.Equal(t, 2.0, body["sampled_markets"])
	assert.Equal(t, 5, env.relations.discoverOpts.LimitPerMarket)
}

func TestAnalysisAndSearch(t *testing.T) {
	env := newTestEnv(Config{}, nil, nil)

	rec := env.do(t, http.MethodGet, "/api/relations/1/2/analysis?model=gemini-flash", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.7, decode(t, rec)["correlation_score"])
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/relations/1/2/analysis?model=bogus", "").Code)

	rec = env.do(t, http.MethodPost, "/api/search", `{"text":"rain in london","limit":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["count"])
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/search", `{"text":""}`).Code)
}

func TestMarketSimilarityRoutes(t *testing.T) {
	env := newTestEnv(Config{}, nil, nil)

	rec := env.do(t, http.MethodGet, "/api/search/similar-to-market/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 7.0, body["market_id"])
	assert.Equal(t, float64(service.DefaultSimilarLimit), body["count"])

	rec = env.do(t, http.MethodGet, "/api/search/similar-to-market/7?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, decode(t, rec)["count"])
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/search/similar-to-market/7?limit=101", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/search/similar-to-market/404", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/search/similar-to-market/abc", "").Code)

	rec = env.do(t, http.MethodGet, "/api/search/proximity-to-market/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode(t, rec)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, service.DefaultProximityMinimum, results[0].(map[string]any)["similarity"])
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/search/proximity-to-market/7?threshold=1.5", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/search/proximity-to-market/7?threshold=x", "").Code)
}

func TestGraphStatisticsAndBatchQuery(t *testing.T) {
	env := newTestEnv(Config{}, nil, nil)

	rec := env.do(t, http.MethodGet, "/api/relations/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 2.0, body["total_nodes"])
	assert.Equal(t, 1.0, body["total_connections"])
	assert.Equal(t, service.DefaultGraphOpts(), env.relations.graphOpts)

	rec = env.do(t, http.MethodGet, "/api/relations/graph?limit=20&min_similarity=0.5&is_active=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.GraphOpts{Limit: 20, MinSimilarity: 0.5}, env.relations.graphOpts)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/relations/graph?is_active=maybe", "").Code)

	rec = env.do(t, http.MethodGet, "/api/relations/statistics/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, 3.0, body["market_id"])
	assert.Equal(t, 3.0, body["total_related_markets"])
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/relations/statistics/404", "").Code)

	rec = env.do(t, http.MethodPost, "/api/relations/batch/query?min_similarity=0.6", `{"polymarket_ids":["p1","p2","zz"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, 1.0, body["total_relations"])
	assert.Equal(t, 2.0, body["markets_found"])
	assert.Equal(t, []any{"zz"}, body["markets_not_found"])
	require.NotNil(t, env.relations.batchMinSim)
	assert.Equal(t, 0.6, *env.relations.batchMinSim)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/relations/batch/query", `{"polymarket_ids":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/relations/batch/query", `{"ids":["p1"]}`).Code)
	assert.Nil(t, env.relations.batchMinSim)
}

func TestLatestSnapshot(t *testing.T) {
	env := newTestEnv(Config{}, nil, nil)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/relations/snapshots/latest", "").Code)

	env.snapshots.path = "snapshots/relations/run-2.jsonl"
	env.snapshots.byPath[env.snapshots.path] = []domain.Relation{
		{MarketID1: 1, MarketID2: 2, Similarity: 0.9},
		{MarketID1: 2, MarketID2: 3, Similarity: 0.8},
	}
	rec := env.do(t, http.MethodGet, "/api/relations/snapshots/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "snapshots/relations/run-2.jsonl", body["path"])
	assert.Equal(t, 2.0, body["count"])
	assert.Equal(t, 128.0, body["size"])
	assert.Len(t, body["relations"], 2)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Routes(Config{}, Handlers{Snapshots: handler.NewSnapshotHandler(nil, logger)}, nil, nil, logger)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/relations/snapshots/latest", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWriteAuth(t *testing.T) {
	env := newTestEnv(Config{APIKey: "s3cret"}, nil, nil)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/relations/count", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodDelete, "/api/relations/3/1", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodDelete, "/api/relations/3/1", "", "X-API-Key", "nope").Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/relations/3/1", "", "Authorization", "Bearer s3cret").Code)
}

func TestRateLimitAndMetrics(t *testing.T) {
	limiter := &denyLimiter{}
	env := newTestEnv(Config{RateLimitPerMinute: 1}, limiter, nil)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/markets/1", "").Code)
	rec := env.do(t, http.MethodGet, "/api/markets/1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, 1.0, testutil.ToFloat64(env.reg.HTTPRequests.WithLabelValues("GET", "GET /api/markets/{id}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.reg.HTTPRequests.WithLabelValues("GET", "unmatched", "429")))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(Config{CORSOrigins: []string{"http://localhost:3000"}}, nil, nil)

	rec := env.do(t, http.MethodOptions, "/api/relations", "",
		"Origin", "http://localhost:3000", "Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodGet, "/api/health", "", "Origin", "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
