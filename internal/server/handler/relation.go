package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/service"
)

// RelationService is the subset of the relation service the handlers call.
type RelationService interface {
	GetRelated(ctx context.Context, marketID int64, opts service.RelatedOpts) ([]domain.RelatedMarket, error)
	GetRelationBetween(ctx context.Context, a, b int64) (domain.Relation, error)
	CreateRelation(ctx context.Context, a, b int64, sim, corr, press float64) (domain.Relation, error)
	CreateRelationsBatch(ctx context.Context, relations []domain.Relation) (domain.BatchResult, error)
	DeleteRelation(ctx context.Context, a, b int64) error
	DeleteRelationsForMarket(ctx context.Context, marketID int64) (int64, error)
	CountRelations(ctx context.Context, marketID *int64) (int64, error)
	DiscoverForMarket(ctx context.Context, marketID int64, opts service.DiscoverOpts) (service.DiscoverReport, error)
	EstimateRelations(ctx context.Context, ids []int64, opts service.DiscoverOpts, sampleSize int) (service.RelationEstimate, error)
	DiscoverDefaults() service.DiscoverOpts
	Graph(ctx context.Context, opts service.GraphOpts) (service.Graph, error)
	Statistics(ctx context.Context, marketID int64) (service.RelationStatistics, error)
	RelationsByPolymarketIDs(ctx context.Context, polymarketIDs []string, minSimilarity *float64) (service.BatchRelations, error)
}

// PairAnalyzer runs an AI analysis of two markets.
type PairAnalyzer interface {
	AnalyzeByID(ctx context.Context, id1, id2 int64, model string) (domain.CorrelationAnalysis, error)
}

// maxBatchRelations bounds POST /api/relations/batch.
const maxBatchRelations = 5000

// RelationHandler serves relation endpoints.
type RelationHandler struct {
	relations RelationService
	analysis  PairAnalyzer
	logger    *slog.Logger
}

// NewRelationHandler creates a RelationHandler.
func NewRelationHandler(relations RelationService, analysis PairAnalyzer, logger *slog.Logger) *RelationHandler {
	return &RelationHandler{
		relations: relations,
		analysis:  analysis,
		logger:    logHandler(logger, "relation"),
	}
}

type relatedResponse struct {
	MarketID int64                  `json:"market_id"`
	Related  []domain.RelatedMarket `json:"related"`
	Count    int                    `json:"count"`
}

// GetRelated lists markets related to one market.
// GET /api/markets/{id}/related?limit=10&min_similarity=0.7&min_volume=&include_markets=&include_analysis=&model=&sort_by=
func (h *RelationHandler) GetRelated(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, h.logger, err, "invalid market id")
		return
	}
	opts, err := relatedOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "invalid query")
		return
	}

	related, err := h.relations.GetRelated(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list related markets")
		return
	}
	if related == nil {
		related = []domain.RelatedMarket{}
	}
	writeJSON(w, http.StatusOK, relatedResponse{MarketID: id, Related: related, Count: len(related)})
}

func relatedOpts(r *http.Request) (service.RelatedOpts, error) {
	opts := service.DefaultRelatedOpts()
	var err error
	if opts.Limit, err = queryInt(r, "limit", opts.Limit); err != nil {
		return opts, err
	}
	if v, ok, err := queryFloat(r, "min_similarity"); err != nil {
		return opts, err
	} else if ok {
		opts.MinSimilarity = v
	}
	if v, ok, err := queryFloat(r, "min_volume"); err != nil {
		return opts, err
	} else if ok {
		opts.MinVolume = &v
	}
	if opts.IncludeMarkets, err = queryBool(r, "include_markets"); err != nil {
		return opts, err
	}
	if opts.IncludeAnalysis, err = queryBool(r, "include_analysis"); err != nil {
		return opts, err
	}
	q := r.URL.Query()
	opts.Model = q.Get("model")
	opts.SortBy = q.Get("sort_by")
	return opts, nil
}

// GetBetween returns the stored relation of two markets.
// GET /api/relations/{id1}/{id2}
func (h *RelationHandler) GetBetween(w http.ResponseWriter, r *http.Request) {
	a, b, ok := h.pair(w, r)
	if !ok {
		return
	}
	rel, err := h.relations.GetRelationBetween(r.Context(), a, b)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get relation")
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// Analyze runs the AI pair analysis with a locally solved EV.
// GET /api/relations/{id1}/{id2}/analysis?model=
func (h *RelationHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	a, b, ok := h.pair(w, r)
	if !ok {
		return
	}
	if h.analysis == nil {
		writeServiceError(w, r, h.logger, domain.ErrUnavailable, "analysis unavailable")
		return
	}
	res, err := h.analysis.AnalyzeByID(r.Context(), a, b, r.URL.Query().Get("model"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to analyze pair")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createRelationRequest struct {
	MarketID1   int64   `json:"market_id_1"`
	MarketID2   int64   `json:"market_id_2"`
	Similarity  float64 `json:"similarity"`
	Correlation float64 `json:"correlation"`
	Pressure    float64 `json:"pressure"`
}

// Create upserts one relation.
// POST /api/relations
func (h *RelationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRelationRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err, "invalid body")
		return
	}
	rel, err := h.relations.CreateRelation(r.Context(), req.MarketID1, req.MarketID2, req.Similarity, req.Correlation, req.Pressure)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to create relation")
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

// CreateBatch upserts many relations and reports counts.
// POST /api/relations/batch
func (h *RelationHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req []createRelationRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err, "invalid body")
		return
	}
	if len(req) > maxBatchRelations {
		writeError(w, http.StatusRequestEntityTooLarge, "too many relations in one batch")
		return
	}
	rels := make([]domain.Relation, len(req))
	for i, q := range req {
		rels[i] = domain.Relation{
			MarketID1:   q.MarketID1,
			MarketID2:   q.MarketID2,
			Similarity:  q.Similarity,
			Correlation: q.Correlation,
			Pressure:    q.Pressure,
		}
	}
	res, err := h.relations.CreateRelationsBatch(r.Context(), rels)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to create relations")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Delete removes a relation.
// DELETE /api/relations/{id1}/{id2}
func (h *RelationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	a, b, ok := h.pair(w, r)
	if !ok {
		return
	}
	if err := h.relations.DeleteRelation(r.Context(), a, b); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to delete relation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteForMarket removes every relation touching a market.
// DELETE /api/markets/{id}/relations
func (h *RelationHandler) DeleteForMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, h.logger, err, "invalid market id")
		return
	}
	n, err := h.relations.DeleteRelationsForMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to delete relations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"market_id": id, "deleted": n})
}

// Count counts relations, optionally for one market.
// GET /api/relations/count?market_id=
func (h *RelationHandler) Count(w http.ResponseWriter, r *http.Request) {
	var marketID *int64
	if r.URL.Query().Get("market_id") != "" {
		id, err := queryInt(r, "market_id", 0)
		if err != nil {
			writeServiceError(w, r, h.logger, err, "invalid market id")
			return
		}
		v := int64(id)
		marketID = &v
	}
	n, err := h.relations.CountRelations(r.Context(), marketID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to count relations")
		return
	}
	resp := map[string]any{"count": n}
	if marketID != nil {
		resp["market_id"] = *marketID
	}
	writeJSON(w, http.StatusOK, resp)
}

// discoverRequest overrides the configured thresholds. Omitted fields keep
// the defaults.
type discoverRequest struct {
	SimilarityThreshold  *float64 `json:"similarity_threshold"`
	CorrelationThreshold *float64 `json:"correlation_threshold"`
	LimitPerMarket       *int     `json:"limit_per_market"`
}

func (q discoverRequest) apply(opts service.DiscoverOpts) service.DiscoverOpts {
	if q.SimilarityThreshold != nil {
		opts.SimilarityThreshold = *q.SimilarityThreshold
	}
	if q.CorrelationThreshold != nil {
		opts.CorrelationThreshold = *q.CorrelationThreshold
	}
	if q.LimitPerMarket != nil {
		opts.LimitPerMarket = *q.LimitPerMarket
	}
	return opts
}

// Discover finds and stores relations for one market.
// POST /api/markets/{id}/relations/discover
func (h *RelationHandler) Discover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, h.logger, err, "invalid market id")
		return
	}
	var req discoverRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeServiceError(w, r, h.logger, err, "invalid body")
		return
	}
	report, err := h.relations.DiscoverForMarket(r.Context(), id, req.apply(h.relations.DiscoverDefaults()))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to discover relations")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type estimateRequest struct {
	discoverRequest
	MarketIDs  []int64 `json:"market_ids"`
	SampleSize int     `json:"sample_size"`
}

// defaultEstimateSample bounds the markets an estimate searches.
const defaultEstimateSample = 200

// Estimate extrapolates how many relations a rebuild would add.
// POST /api/relations/estimate
func (h *RelationHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	req := estimateRequest{SampleSize: defaultEstimateSample}
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeServiceError(w, r, h.logger, err, "invalid body")
		return
	}
	est, err := h.relations.EstimateRelations(r.Context(), req.MarketIDs, req.apply(h.relations.DiscoverDefaults()), req.SampleSize)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to estimate relations")
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// Graph lists markets as nodes and their relations as edges.
// GET /api/relations/graph?limit=100&min_similarity=0.7&is_active=true
func (h *RelationHandler) Graph(w http.ResponseWriter, r *http.Request) {
	opts := service.DefaultGraphOpts()
	var err error
	if opts.Limit, err = queryInt(r, "limit", opts.Limit); err != nil {
		writeServiceError(w, r, h.logger, err, "invalid query")
		return
	}
	if v, ok, err := queryFloat(r, "min_similarity"); err != nil {
		writeServiceError(w, r, h.logger, err, "invalid query")
		return
	} else if ok {
		opts.MinSimilarity = v
	}
	if r.URL.Query().Get("is_active") != "" {
		if opts.ActiveOnly, err = queryBool(r, "is_active"); err != nil {
			writeServiceError(w, r, h.logger, err, "invalid query")
			return
		}
	}
	g, err := h.relations.Graph(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to build graph")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// Statistics summarises a market's relations by similarity band.
// GET /api/relations/statistics/{id}
func (h *RelationHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, h.logger, err, "invalid market id")
		return
	}
	st, err := h.relations.Statistics(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type batchQueryRequest struct {
	PolymarketIDs []string `json:"polymarket_ids"`
}

// BatchQuery returns every relation touching any of the given markets.
// POST /api/relations/batch/query?min_similarity=
func (h *RelationHandler) BatchQuery(w http.ResponseWriter, r *http.Request) {
	var minSim *float64
	if v, ok, err := queryFloat(r, "min_similarity"); err != nil {
		writeServiceError(w, r, h.logger, err, "invalid query")
		return
	} else if ok {
		minSim = &v
	}
	var req batchQueryRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err, "invalid body")
		return
	}
	res, err := h.relations.RelationsByPolymarketIDs(r.Context(), req.PolymarketIDs, minSim)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to query relations")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// pair parses the {id1}/{id2} path segments, writing the error response
// itself on failure.
func (h *RelationHandler) pair(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	a, err := pathID(r, "id1")
	if err == nil {
		var b int64
		if b, err = pathID(r, "id2"); err == nil {
			return a, b, true
		}
	}
	writeServiceError(w, r, h.logger, err, "invalid market id")
	return 0, 0, false
}
