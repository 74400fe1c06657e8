package service

import (
	"cmp"
	"slices"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// DedupeRelations collapses relations that share a canonical pair. The kept
// record has the highest similarity; ties go to the higher pressure and then
// to the earliest record. The result is sorted by pair.
func DedupeRelations(relations []domain.Relation) []domain.Relation {
	best := make(map[domain.PairKey]domain.Relation, len(relations))
	for _, r := range relations {
		k := r.Key()
		r.MarketID1, r.MarketID2 = k.Lo, k.Hi
		cur, ok := best[k]
		if !ok || r.Similarity > cur.Similarity ||
			(r.Similarity == cur.Similarity && r.Pressure > cur.Pressure) {
			best[k] = r
		}
	}

	out := make([]domain.Relation, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b domain.Relation) int {
		return cmp.Or(cmp.Compare(a.MarketID1, b.MarketID1), cmp.Compare(a.MarketID2, b.MarketID2))
	})
	return out
}

// relationIndex is an adjacency view of stored relations.
type relationIndex map[int64]map[int64]struct{}

func (x relationIndex) add(k domain.PairKey) {
	for _, e := range [2][2]int64{{k.Lo, k.Hi}, {k.Hi, k.Lo}} {
		set, ok := x[e[0]]
		if !ok {
			set = make(map[int64]struct{})
			x[e[0]] = set
		}
		set[e[1]] = struct{}{}
	}
}

func (x relationIndex) has(a, b int64) bool {
	_, ok := x[a][b]
	return ok
}

// degree is the number of markets related to id.
func (x relationIndex) degree(id int64) int {
	return len(x[id])
}
