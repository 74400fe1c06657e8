package similarity

import "math"

// Cosine returns the cosine similarity of a and b, accumulated in float64 so
// that a vector scores exactly 1 against itself. ok is false when the
// dimensions differ or either vector has zero or non-finite norm.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if !(na > 0) || !(nb > 0) || math.IsInf(na, 0) || math.IsInf(nb, 0) || math.IsNaN(dot) {
		return 0, false
	}
	return clampScore(dot / math.Sqrt(na*nb)), true
}

// SimilarTo ranks corpus against query and keeps the topK best matches.
func SimilarTo(query []float32, corpus map[int64][]float32, topK int) ([]Match, error) {
	idx, err := NewIndex(corpus, len(query))
	if err != nil {
		return nil, err
	}
	return idx.SimilarTo(query, topK)
}

// WithinThreshold returns every corpus entry scoring at least threshold
// against query.
func WithinThreshold(query []float32, corpus map[int64][]float32, threshold float64) ([]Match, error) {
	idx, err := NewIndex(corpus, len(query))
	if err != nil {
		return nil, err
	}
	return idx.WithinThreshold(query, threshold)
}
