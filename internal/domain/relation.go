package domain

import (
	"fmt"
	"time"
)

// PairKey identifies an unordered market pair. Lo is always less than Hi.
type PairKey struct {
	Lo int64
	Hi int64
}

// CanonicalPair orders two market IDs so that the smaller comes first.
func CanonicalPair(a, b int64) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// String renders the pair as "lo:hi", which is also its cache key suffix.
func (k PairKey) String() string {
	return fmt.Sprintf("%d:%d", k.Lo, k.Hi)
}

// Contains reports whether id is one of the pair's members.
func (k PairKey) Contains(id int64) bool {
	return k.Lo == id || k.Hi == id
}

// Relation is a scored edge between two distinct markets.
type Relation struct {
	MarketID1   int64     `json:"market_id_1"`
	MarketID2   int64     `json:"market_id_2"`
	Similarity  float64   `json:"similarity"`
	Correlation float64   `json:"correlation"`
	Pressure    float64   `json:"pressure"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewRelation builds a relation for the pair (a, b) in canonical order. It
// rejects self relations.
func NewRelation(a, b int64, similarity, correlation, pressure float64) (Relation, error) {
	if a == b {
		return Relation{}, NewValidationError("market_id", "relation requires two distinct markets")
	}
	k := CanonicalPair(a, b)
	return Relation{
		MarketID1:   k.Lo,
		MarketID2:   k.Hi,
		Similarity:  similarity,
		Correlation: correlation,
		Pressure:    pressure,
	}, nil
}

// Key returns the canonical pair of the relation.
func (r Relation) Key() PairKey {
	return CanonicalPair(r.MarketID1, r.MarketID2)
}

// Other returns the counterpart of id in the relation.
func (r Relation) Other(id int64) int64 {
	if r.MarketID1 == id {
		return r.MarketID2
	}
	return r.MarketID1
}

// RelatedMarket is a relation viewed from one of its endpoints.
type RelatedMarket struct {
	RelatedID   int64                `json:"related_id"`
	Similarity  float64              `json:"similarity"`
	Correlation float64              `json:"correlation"`
	Pressure    float64              `json:"pressure"`
	Market      *Market              `json:"market,omitempty"`
	Analysis    *CorrelationAnalysis `json:"analysis,omitempty"`
}

// RelatedFrom projects r onto the endpoint id.
func RelatedFrom(r Relation, id int64) RelatedMarket {
	return RelatedMarket{
		RelatedID:   r.Other(id),
		Similarity:  r.Similarity,
		Correlation: r.Correlation,
		Pressure:    r.Pressure,
	}
}

// BatchResult summarises a bulk relation write.
type BatchResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Add accumulates o into r.
func (r *BatchResult) Add(o BatchResult) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Failed += o.Failed
	r.Total += o.Total
}
