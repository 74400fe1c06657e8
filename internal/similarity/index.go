// Package similarity ranks market embeddings by cosine similarity.
//
// An Index normalises every corpus vector once into a row-major float32
// matrix, so a query is a single matrix-vector product and a batch of queries
// is a single matrix-matrix product per block.
package similarity

import (
	"context"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// batchBlock is the number of query rows multiplied against the corpus at once.
const batchBlock = 256

// Match is one ranked corpus entry.
type Match struct {
	MarketID int64   `json:"market_id"`
	Score    float64 `json:"score"`
}

// Query selects matches. Limit <= 0 means unbounded. Exclude, when set, drops
// corpus IDs before ranking.
type Query struct {
	Threshold float64
	Limit     int
	Exclude   func(id int64) bool
}

// Index is an immutable, normalised embedding corpus. It is safe for
// concurrent queries.
type Index struct {
	ids      []int64
	pos      map[int64]int
	dim      int
	mat      blas32.General
	excluded []int64
}

// NewIndex builds an index from corpus. dim fixes the expected dimension; when
// it is 0 the most common dimension in corpus is used. Vectors with zero norm,
// non-finite components or a different dimension are excluded.
func NewIndex(corpus map[int64][]float32, dim int) (*Index, error) {
	if dim < 0 {
		return nil, domain.NewValidationError("dim", "must not be negative")
	}
	if dim == 0 {
		dim = dominantDim(corpus)
	}

	ids := make([]int64, 0, len(corpus))
	for id := range corpus {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	idx := &Index{pos: make(map[int64]int, len(ids)), dim: dim}
	data := make([]float32, 0, len(ids)*dim)
	for _, id := range ids {
		v := corpus[id]
		if len(v) != dim || dim == 0 {
			idx.excluded = append(idx.excluded, id)
			continue
		}
		norm, ok := norm(v)
		if !ok {
			idx.excluded = append(idx.excluded, id)
			continue
		}
		idx.pos[id] = len(idx.ids)
		idx.ids = append(idx.ids, id)
		for _, x := range v {
			data = append(data, x/norm)
		}
	}
	idx.mat = blas32.General{Rows: len(idx.ids), Cols: dim, Data: data, Stride: dim}
	return idx, nil
}

// Len is the number of searchable vectors.
func (x *Index) Len() int { return len(x.ids) }

// Dim is the vector dimension of the index.
func (x *Index) Dim() int { return x.dim }

// Excluded lists corpus IDs that were dropped while building the index.
func (x *Index) Excluded() []int64 { return slices.Clone(x.excluded) }

// Contains reports whether id is searchable.
func (x *Index) Contains(id int64) bool {
	_, ok := x.pos[id]
	return ok
}

// SimilarTo returns at most topK matches in descending score order.
func (x *Index) SimilarTo(query []float32, topK int) ([]Match, error) {
	if topK < 0 {
		return nil, domain.NewValidationError("top_k", "must not be negative")
	}
	if topK == 0 {
		return []Match{}, nil
	}
	return x.Search(query, Query{Threshold: math.Inf(-1), Limit: topK})
}

// WithinThreshold returns every match scoring at least threshold.
func (x *Index) WithinThreshold(query []float32, threshold float64) ([]Match, error) {
	return x.Search(query, Query{Threshold: threshold})
}

// Search scores query against the whole corpus and applies q.
func (x *Index) Search(query []float32, q Query) ([]Match, error) {
	if math.IsNaN(q.Threshold) {
		return nil, domain.NewValidationError("threshold", "must be a number")
	}
	if x.Len() == 0 {
		if _, ok := norm(query); !ok {
			return nil, domain.NewValidationError("query", "zero or non-finite vector")
		}
		return []Match{}, nil
	}
	unit, err := x.normalise(query)
	if err != nil {
		return nil, err
	}
	scores := make([]float32, x.Len())
	blas32.Gemv(blas.NoTrans, 1, x.mat,
		blas32.Vector{N: x.dim, Data: unit, Inc: 1},
		0, blas32.Vector{N: len(scores), Data: scores, Inc: 1})
	return x.rank(scores, -1, q), nil
}

// SearchBatch runs q for every indexed ID in ids. A row never matches itself.
// IDs that are not in the index are absent from the result. The context is
// checked between blocks.
func (x *Index) SearchBatch(ctx context.Context, ids []int64, q Query) (map[int64][]Match, error) {
	if math.IsNaN(q.Threshold) {
		return nil, domain.NewValidationError("threshold", "must be a number")
	}
	out := make(map[int64][]Match, len(ids))
	rows := make([]int, 0, len(ids))
	for _, id := range ids {
		if r, ok := x.pos[id]; ok {
			rows = append(rows, r)
		}
	}

	n := x.Len()
	for start := 0; start < len(rows); start += batchBlock {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := min(start+batchBlock, len(rows))
		block := rows[start:end]

		a := blas32.General{Rows: len(block), Cols: x.dim, Stride: x.dim, Data: make([]float32, len(block)*x.dim)}
		for i, r := range block {
			copy(a.Data[i*x.dim:(i+1)*x.dim], x.row(r))
		}
		c := blas32.General{Rows: len(block), Cols: n, Stride: n, Data: make([]float32, len(block)*n)}
		blas32.Gemm(blas.NoTrans, blas.Trans, 1, a, x.mat, 0, c)

		for i, r := range block {
			out[x.ids[r]] = x.rank(c.Data[i*n:(i+1)*n], r, q)
		}
	}
	return out, nil
}

func (x *Index) row(r int) []float32 {
	return x.mat.Data[r*x.mat.Stride : r*x.mat.Stride+x.dim]
}

func (x *Index) normalise(query []float32) ([]float32, error) {
	if len(query) != x.dim {
		return nil, domain.NewValidationError("query", fmt.Sprintf("dimension %d, index has %d", len(query), x.dim))
	}
	n, ok := norm(query)
	if !ok {
		return nil, domain.NewValidationError("query", "zero or non-finite vector")
	}
	unit := make([]float32, len(query))
	for i, v := range query {
		unit[i] = v / n
	}
	return unit, nil
}

// rank filters and orders one row of scores. self is the row index to skip,
// or -1.
func (x *Index) rank(scores []float32, self int, q Query) []Match {
	matches := make([]Match, 0)
	for r, s := range scores {
		if r == self {
			continue
		}
		score := clampScore(float64(s))
		if score < q.Threshold {
			continue
		}
		id := x.ids[r]
		if q.Exclude != nil && q.Exclude(id) {
			continue
		}
		matches = append(matches, Match{MarketID: id, Score: score})
	}
	slices.SortFunc(matches, compareMatch)
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches
}

// compareMatch orders by descending score, then ascending ID.
func compareMatch(a, b Match) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	case a.MarketID < b.MarketID:
		return -1
	case a.MarketID > b.MarketID:
		return 1
	}
	return 0
}

func norm(v []float32) (float32, bool) {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return 0, false
		}
	}
	n := blas32.Nrm2(blas32.Vector{N: len(v), Data: v, Inc: 1})
	if !(n > 0) || math.IsInf(float64(n), 0) {
		return 0, false
	}
	return n, true
}

func clampScore(s float64) float64 {
	return math.Max(-1, math.Min(1, s))
}

func dominantDim(corpus map[int64][]float32) int {
	counts := make(map[int]int)
	for _, v := range corpus {
		if len(v) > 0 {
			counts[len(v)]++
		}
	}
	best, bestN := 0, 0
	for d, n := range counts {
		if n > bestN || (n == bestN && d > best) {
			best, bestN = d, n
		}
	}
	return best
}
