package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit      int
	Offset     int
	ActiveOnly bool
	MinVolume  *float64
	Since      *time.Time
}

// MarketStore persists market metadata.
type MarketStore interface {
	// UpsertBatch returns the local IDs of markets in input order.
	UpsertBatch(ctx context.Context, markets []Market) ([]int64, error)
	GetByID(ctx context.Context, id int64) (Market, error)
	GetByPolymarketID(ctx context.Context, polymarketID string) (Market, error)
	// GetByPolymarketIDs returns the markets that exist among polymarketIDs,
	// keyed by Polymarket ID.
	GetByPolymarketIDs(ctx context.Context, polymarketIDs []string) (map[string]Market, error)
	// GetByIDs returns the markets that exist among ids. Unknown IDs are
	// omitted rather than reported as errors.
	GetByIDs(ctx context.Context, ids []int64) (map[int64]Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListIDs(ctx context.Context, opts ListOpts) ([]int64, error)
	Count(ctx context.Context) (int64, error)
}

// EmbeddingStore persists market embeddings.
type EmbeddingStore interface {
	Get(ctx context.Context, marketID int64) (Embedding, error)
	GetByIDs(ctx context.Context, marketIDs []int64) (map[int64][]float32, error)
	ListMarketIDs(ctx context.Context) ([]int64, error)
	// MissingMarketIDs lists markets that have no stored embedding.
	MissingMarketIDs(ctx context.Context, limit int) ([]int64, error)
	UpsertBatch(ctx context.Context, embeddings []Embedding) error
}

// RelationStore persists scored market pairs. Writes are upserts keyed on the
// canonical pair.
type RelationStore interface {
	Upsert(ctx context.Context, r Relation) error
	UpsertBatch(ctx context.Context, relations []Relation) (BatchResult, error)
	Get(ctx context.Context, pair PairKey) (Relation, error)
	// ListForMarket orders by descending similarity. limit <= 0 is unbounded.
	ListForMarket(ctx context.Context, marketID int64, minSimilarity float64, limit int) ([]Relation, error)
	// ListInvolving returns every relation touching any of marketIDs, each
	// once, by descending similarity.
	ListInvolving(ctx context.Context, marketIDs []int64, minSimilarity float64) ([]Relation, error)
	ListPairs(ctx context.Context, afterLo, afterHi int64, limit int) ([]PairKey, error)
	Delete(ctx context.Context, pair PairKey) (bool, error)
	DeleteForMarket(ctx context.Context, marketID int64) (int64, error)
	// Count counts all relations, or only those touching marketID when it is
	// non-nil.
	Count(ctx context.Context, marketID *int64) (int64, error)
}
