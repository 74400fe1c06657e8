package ev

import "github.com/alanyoungcy/polyrelate/internal/domain"

// FromAnalysis builds solver input from two markets and an analysis of the
// pair. Prices come from the markets and probabilities from the analysis.
func FromAnalysis(m1, m2 domain.Market, a domain.CorrelationAnalysis) Input {
	return Input{
		Market1:     Leg{Price: marketPrice(m1), TrueProbability: a.Market1TrueProbability, Position: position(a.Market1Position)},
		Market2:     Leg{Price: marketPrice(m2), TrueProbability: a.Market2TrueProbability, Position: position(a.Market2Position)},
		Correlation: clamp(a.CorrelationScore, 0, 1),
	}
}

func marketPrice(m domain.Market) *float64 {
	p, ok := m.PriceAt(0)
	if !ok {
		return nil
	}
	return &p
}

func position(p domain.Position) domain.Position {
	if p.Valid() {
		return p
	}
	return domain.PositionAvoid
}
