package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// Graph listing bounds.
const (
	DefaultGraphLimit         = 100
	MaxGraphLimit             = 500
	DefaultGraphMinSimilarity = 0.7
	// ungroupedNode groups markets without tags.
	ungroupedNode = "ungrouped"
)

// Statistics similarity bands.
const (
	statsHigh   = 0.9
	statsMedium = 0.7
	statsLow    = 0.5
)

// MaxBatchQueryMarkets bounds RelationsByPolymarketIDs.
const MaxBatchQueryMarkets = 100

// GraphOpts selects the markets and edges of a relation graph.
type GraphOpts struct {
	Limit         int
	MinSimilarity float64
	ActiveOnly    bool
}

// DefaultGraphOpts returns the graph defaults.
func DefaultGraphOpts() GraphOpts {
	return GraphOpts{Limit: DefaultGraphLimit, MinSimilarity: DefaultGraphMinSimilarity, ActiveOnly: true}
}

// GraphNode is one market in a relation graph, keyed by its Polymarket ID.
type GraphNode struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Group      string    `json:"group"`
	Volatility *float64  `json:"volatility"`
	Volume     float64   `json:"volume"`
	LastUpdate time.Time `json:"last_update"`
	MarketID   int64     `json:"market_id"`
}

// GraphConnection is a stored relation between two graph nodes.
type GraphConnection struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Correlation float64 `json:"correlation"`
	Pressure    float64 `json:"pressure"`
	Similarity  float64 `json:"similarity"`
}

// Graph is a node and edge listing ready for a force layout.
type Graph struct {
	Nodes            []GraphNode       `json:"nodes"`
	Connections      []GraphConnection `json:"connections"`
	TotalNodes       int               `json:"total_nodes"`
	TotalConnections int               `json:"total_connections"`
}

// Graph lists up to Limit markets and the stored relations among them. An
// edge is kept only when both of its markets are nodes.
func (s *RelationService) Graph(ctx context.Context, opts GraphOpts) (Graph, error) {
	if opts.Limit < 1 || opts.Limit > MaxGraphLimit {
		return Graph{}, domain.NewValidationError("limit", fmt.Sprintf("must be within [1,%d]", MaxGraphLimit))
	}
	if !(opts.MinSimilarity >= 0 && opts.MinSimilarity <= 1) {
		return Graph{}, domain.NewValidationError("min_similarity", "must be within [0,1]")
	}

	markets, err := s.markets.List(ctx, domain.ListOpts{Limit: opts.Limit, ActiveOnly: opts.ActiveOnly})
	if err != nil {
		return Graph{}, fmt.Errorf("relation_service: %w", err)
	}
	g := Graph{Nodes: make([]GraphNode, 0, len(markets)), Connections: []GraphConnection{}}
	if len(markets) == 0 {
		return g, nil
	}

	pids := make(map[int64]string, len(markets))
	ids := make([]int64, len(markets))
	for i, m := range markets {
		ids[i] = m.ID
		pids[m.ID] = m.PolymarketID
		g.Nodes = append(g.Nodes, graphNode(m))
	}

	rels, err := s.relations.ListInvolving(ctx, ids, opts.MinSimilarity)
	if err != nil {
		return Graph{}, fmt.Errorf("relation_service: list graph relations: %w", err)
	}
	for _, r := range rels {
		src, ok1 := pids[r.MarketID1]
		dst, ok2 := pids[r.MarketID2]
		if !ok1 || !ok2 {
			continue
		}
		g.Connections = append(g.Connections, GraphConnection{
			Source:      src,
			Target:      dst,
			Correlation: r.Correlation,
			Pressure:    r.Pressure,
			Similarity:  r.Similarity,
		})
	}
	g.TotalNodes, g.TotalConnections = len(g.Nodes), len(g.Connections)
	return g, nil
}

// graphNode uses the first tag as the group and the absolute 24h price move
// as volatility.
func graphNode(m domain.Market) GraphNode {
	n := GraphNode{
		ID:         m.PolymarketID,
		Name:       m.Question,
		Group:      ungroupedNode,
		Volume:     m.Volume,
		LastUpdate: m.UpdatedAt,
		MarketID:   m.ID,
	}
	if len(m.Tags) > 0 && m.Tags[0] != "" {
		n.Group = m.Tags[0]
	}
	if m.OneDayPriceChange != nil {
		v := math.Abs(*m.OneDayPriceChange)
		n.Volatility = &v
	}
	return n
}

// RelationStatistics summarises one market's stored relations by similarity
// band. Averages cover the low band, which contains the others.
type RelationStatistics struct {
	MarketID          int64   `json:"market_id"`
	TotalRelated      int     `json:"total_related_markets"`
	HighCount         int     `json:"high_similarity_count"`
	MediumCount       int     `json:"medium_similarity_count"`
	LowCount          int     `json:"low_similarity_count"`
	AverageSimilarity float64 `json:"average_similarity"`
	MaxSimilarity     float64 `json:"max_similarity"`
}

// Statistics counts marketID's relations at similarity >= 0.9, 0.7 and 0.5.
func (s *RelationService) Statistics(ctx context.Context, marketID int64) (RelationStatistics, error) {
	st := RelationStatistics{MarketID: marketID}
	if _, err := s.markets.GetMarket(ctx, marketID); err != nil {
		return st, fmt.Errorf("relation_service: %w", err)
	}
	rels, err := s.relations.ListForMarket(ctx, marketID, statsLow, 0)
	if err != nil {
		return st, fmt.Errorf("relation_service: list for statistics: %w", err)
	}
	var sum float64
	for _, r := range rels {
		sum += r.Similarity
		st.MaxSimilarity = max(st.MaxSimilarity, r.Similarity)
		if r.Similarity >= statsHigh {
			st.HighCount++
		}
		if r.Similarity >= statsMedium {
			st.MediumCount++
		}
	}
	st.LowCount = len(rels)
	st.TotalRelated = st.LowCount
	if st.LowCount > 0 {
		st.AverageSimilarity = sum / float64(st.LowCount)
	}
	return st, nil
}

// BatchRelations is the result of a relation lookup by Polymarket IDs.
type BatchRelations struct {
	Relations       []domain.Relation `json:"relations"`
	TotalRelations  int               `json:"total_relations"`
	MarketsFound    int               `json:"markets_found"`
	MarketsNotFound []string          `json:"markets_not_found"`
}

// RelationsByPolymarketIDs returns every stored relation touching any of the
// given markets. Unknown Polymarket IDs are reported, not treated as errors.
// A nil minSimilarity returns relations of any similarity.
func (s *RelationService) RelationsByPolymarketIDs(ctx context.Context, polymarketIDs []string, minSimilarity *float64) (BatchRelations, error) {
	out := BatchRelations{Relations: []domain.Relation{}, MarketsNotFound: []string{}}
	if len(polymarketIDs) == 0 {
		return out, domain.NewValidationError("polymarket_ids", "must not be empty")
	}
	if len(polymarketIDs) > MaxBatchQueryMarkets {
		return out, domain.NewValidationError("polymarket_ids", fmt.Sprintf("at most %d ids per query", MaxBatchQueryMarkets))
	}
	minSim := 0.0
	if minSimilarity != nil {
		if !(*minSimilarity >= 0 && *minSimilarity <= 1) {
			return out, domain.NewValidationError("min_similarity", "must be within [0,1]")
		}
		minSim = *minSimilarity
	}

	found, err := s.markets.GetByPolymarketIDs(ctx, polymarketIDs)
	if err != nil {
		return out, fmt.Errorf("relation_service: %w", err)
	}
	seen := make(map[string]bool, len(polymarketIDs))
	ids := make([]int64, 0, len(found))
	for _, pid := range polymarketIDs {
		if seen[pid] {
			continue
		}
		seen[pid] = true
		m, ok := found[pid]
		if !ok {
			out.MarketsNotFound = append(out.MarketsNotFound, pid)
			continue
		}
		ids = append(ids, m.ID)
	}
	out.MarketsFound = len(ids)
	if len(ids) == 0 {
		return out, nil
	}

	rels, err := s.relations.ListInvolving(ctx, ids, minSim)
	if err != nil {
		return out, fmt.Errorf("relation_service: list relations: %w", err)
	}
	if rels != nil {
		out.Relations = rels
	}
	out.TotalRelations = len(out.Relations)
	return out, nil
}
