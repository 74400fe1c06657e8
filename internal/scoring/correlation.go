package scoring

import (
	"context"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// DefaultCorrelation is the value the constant correlator reports.
const DefaultCorrelation = 1.0

// Correlator estimates how strongly two markets co-move, in [0,1].
type Correlator interface {
	Correlate(ctx context.Context, m1, m2 domain.Market) (float64, error)
}

// CorrelatorFunc adapts a function to Correlator.
type CorrelatorFunc func(ctx context.Context, m1, m2 domain.Market) (float64, error)

func (f CorrelatorFunc) Correlate(ctx context.Context, m1, m2 domain.Market) (float64, error) {
	return f(ctx, m1, m2)
}

// ConstantCorrelator reports the same correlation for every pair.
type ConstantCorrelator struct {
	Value float64
}

// NewConstantCorrelator returns a correlator fixed at DefaultCorrelation.
func NewConstantCorrelator() ConstantCorrelator {
	return ConstantCorrelator{Value: DefaultCorrelation}
}

func (c ConstantCorrelator) Correlate(context.Context, domain.Market, domain.Market) (float64, error) {
	return clamp(c.Value, 0, 1), nil
}
