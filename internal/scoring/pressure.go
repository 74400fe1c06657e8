package scoring

import (
	"math"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// Floor and ceiling of the volatility factor.
const (
	MinPressureFactor = 0.1
	MaxPressureFactor = 1.0
)

// PressureFactor scales relation strength by how differently the two markets
// move. Equal volatility collapses to the floor.
func PressureFactor(vol1, vol2 float64) float64 {
	diff := math.Abs(vol1 - vol2)
	if !(diff > 0) {
		return MinPressureFactor
	}
	return clamp(math.Sqrt(diff), MinPressureFactor, MaxPressureFactor)
}

// Pressure combines similarity, correlation and the volatility factor into a
// score in [0,1].
func Pressure(similarity, correlation, vol1, vol2 float64) float64 {
	p := similarity * correlation * PressureFactor(vol1, vol2)
	if math.IsNaN(p) {
		return 0
	}
	return clamp(p, 0, 1)
}

// MarketPressure is Pressure with volatilities derived from the two markets.
func MarketPressure(similarity, correlation float64, m1, m2 domain.Market) float64 {
	return Pressure(similarity, correlation, Volatility(m1), Volatility(m2))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
