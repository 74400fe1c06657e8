// Package scoring holds the pure functions that turn market statistics and
// similarity into relation strength.
package scoring

import (
	"math"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// Volatility is the mean absolute price change over the day, week and month
// fields that are present on m. A market with none of them scores 0.
func Volatility(m domain.Market) float64 {
	return VolatilityOf(m.PriceChanges()...)
}

// VolatilityOf averages the absolute value of the non-nil, finite changes.
func VolatilityOf(changes ...*float64) float64 {
	var sum float64
	var n int
	for _, c := range changes {
		if c == nil || math.IsNaN(*c) || math.IsInf(*c, 0) {
			continue
		}
		sum += math.Abs(*c)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
