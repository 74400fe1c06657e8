package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyrelate/internal/service"
)

// Searcher finds markets similar to free text or to a stored market.
type Searcher interface {
	FindSimilarToText(ctx context.Context, text string, limit int, minSimilarity float64) ([]service.SimilarMarket, error)
	FindSimilarToMarket(ctx context.Context, marketID int64, limit int) ([]service.SimilarMarket, error)
	FindWithinThreshold(ctx context.Context, marketID int64, threshold float64) ([]service.SimilarMarket, error)
}

// SearchHandler serves similarity search.
type SearchHandler struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(searcher Searcher, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, logger: logHandler(logger, "search")}
}

type searchRequest struct {
	Text          string  `json:"text"`
	Limit         int     `json:"limit"`
	MinSimilarity float64 `json:"min_similarity"`
}

type searchResponse struct {
	Query   string                  `json:"query"`
	Results []service.SimilarMarket `json:"results"`
	Count   int                     `json:"count"`
}

// Search embeds the query text and returns the closest markets.
// POST /api/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	req := searchRequest{Limit: 10, MinSimilarity: 0.5}
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeServiceError(w, r, h.logger, err, "invalid body")
		return
	}
	results, err := h.searcher.FindSimilarToText(r.Context(), req.Text, req.Limit, req.MinSimilarity)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "search failed")
		return
	}
	if results == nil {
		results = []service.SimilarMarket{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: req.Text, Results: results, Count: len(results)})
}

type marketSearchResponse struct {
	MarketID int64                   `json:"market_id"`
	Results  []service.SimilarMarket `json:"results"`
	Count    int                     `json:"count"`
}

// SimilarToMarket returns the markets closest to a stored market's embedding.
// GET /api/search/similar-to-market/{id}?limit=10
func (h *SearchHandler) SimilarToMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, h.logger, err, "invalid market id")
		return
	}
	limit, err := queryInt(r, "limit", service.DefaultSimilarLimit)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "invalid query")
		return
	}
	results, err := h.searcher.FindSimilarToMarket(r.Context(), id, limit)
	h.writeMarketResults(w, r, id, results, err)
}

// ProximityToMarket returns every market within threshold of a stored market.
// GET /api/search/proximity-to-market/{id}?threshold=0.7
func (h *SearchHandler) ProximityToMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, h.logger, err, "invalid market id")
		return
	}
	threshold := service.DefaultProximityMinimum
	if v, ok, err := queryFloat(r, "threshold"); err != nil {
		writeServiceError(w, r, h.logger, err, "invalid query")
		return
	} else if ok {
		threshold = v
	}
	results, err := h.searcher.FindWithinThreshold(r.Context(), id, threshold)
	h.writeMarketResults(w, r, id, results, err)
}

func (h *SearchHandler) writeMarketResults(w http.ResponseWriter, r *http.Request, id int64, results []service.SimilarMarket, err error) {
	if err != nil {
		writeServiceError(w, r, h.logger, err, "search failed")
		return
	}
	if results == nil {
		results = []service.SimilarMarket{}
	}
	writeJSON(w, http.StatusOK, marketSearchResponse{MarketID: id, Results: results, Count: len(results)})
}
