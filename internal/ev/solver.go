// Package ev solves the expected value of a two-market position given
// estimated true probabilities and a correlation between the markets.
package ev

import (
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

const (
	// MaxCorrelation bounds the signed correlation fed to the joint table.
	MaxCorrelation = 0.95
	// Epsilon keeps marginals away from 0 and 1.
	Epsilon = 1e-6
)

// Leg is one side of the two-market position.
type Leg struct {
	// Price is the market-implied YES probability. Nil means 0.5.
	Price *float64
	// TrueProbability is the estimated YES probability. Nil means Price.
	TrueProbability *float64
	Position        domain.Position
}

// Input describes the pair to solve.
type Input struct {
	Market1     Leg
	Market2     Leg
	Correlation float64
}

// Validate rejects inputs that are caller mistakes rather than bad data.
func (in Input) Validate() error {
	if math.IsNaN(in.Correlation) || in.Correlation < 0 || in.Correlation > 1 {
		return domain.NewValidationError("correlation", "must be within [0,1]")
	}
	if !in.Market1.Position.Valid() {
		return domain.NewValidationError("market1_position", fmt.Sprintf("unknown position %q", in.Market1.Position))
	}
	if !in.Market2.Position.Valid() {
		return domain.NewValidationError("market2_position", fmt.Sprintf("unknown position %q", in.Market2.Position))
	}
	return nil
}

// leg is a Leg with defaults applied.
type leg struct {
	price    float64
	prob     float64
	position domain.Position
}

func resolve(l Leg) leg {
	price := domain.DefaultPrice
	if l.Price != nil && isFinite(*l.Price) {
		price = clamp(*l.Price, 0, 1)
	}
	prob := price
	if l.TrueProbability != nil && isFinite(*l.TrueProbability) {
		prob = clamp(*l.TrueProbability, 0, 1)
	}
	return leg{price: price, prob: prob, position: l.Position}
}

func (l leg) stake() float64 {
	switch l.position {
	case domain.PositionYes:
		return l.price
	case domain.PositionNo:
		return 1 - l.price
	default:
		return 0
	}
}

// profit is the payoff of the leg when the market resolves YES (yes=true) or NO.
func (l leg) profit(yes bool) float64 {
	switch l.position {
	case domain.PositionYes:
		if yes {
			return 1 - l.price
		}
		return -l.price
	case domain.PositionNo:
		if !yes {
			return l.price
		}
		return -(1 - l.price)
	default:
		return 0
	}
}

// expected is the leg's standalone expected profit under its true probability.
func (l leg) expected() float64 {
	return l.prob*l.profit(true) + (1-l.prob)*l.profit(false)
}

// Direction is +1 when both legs take the same label, -1 when they oppose and
// 0 when at most one leg is active.
func Direction(p1, p2 domain.Position) float64 {
	if !p1.Active() || !p2.Active() {
		return 0
	}
	if p1 == p2 {
		return 1
	}
	return -1
}

// Solve computes the joint outcome table and the resulting profit statistics.
func Solve(in Input) (domain.ExpectedValueResult, error) {
	if err := in.Validate(); err != nil {
		return domain.ExpectedValueResult{}, err
	}
	a, b := resolve(in.Market1), resolve(in.Market2)

	res := domain.ExpectedValueResult{
		Market1Probability: a.prob,
		Market2Probability: b.prob,
		Market1Price:       a.price,
		Market2Price:       b.price,
		Market1Position:    a.position,
		Market2Position:    b.position,
	}

	stake := a.stake() + b.stake()
	if !a.position.Active() && !b.position.Active() {
		res.JointProbabilities = zeroTable()
		res.ScenarioProfits = zeroTable()
		res.Strategy = "No actionable strategy: hold cash (both positions AVOID)"
		return res, nil
	}

	rho := clamp(in.Correlation*Direction(a.position, b.position), -MaxCorrelation, MaxCorrelation)
	joint := JointTable(a.prob, b.prob, rho)

	profits := map[domain.Scenario]float64{
		domain.ScenarioBothYes: a.profit(true) + b.profit(true),
		domain.ScenarioYesNo:   a.profit(true) + b.profit(false),
		domain.ScenarioNoYes:   a.profit(false) + b.profit(true),
		domain.ScenarioBothNo:  a.profit(false) + b.profit(false),
	}

	var expected float64
	best, worst := math.Inf(-1), math.Inf(1)
	for _, s := range domain.Scenarios {
		expected += joint[s] * profits[s]
		best = math.Max(best, profits[s])
		worst = math.Min(worst, profits[s])
	}

	res.TotalExpectedProfit = expected
	res.TotalStake = stake
	if stake > 0 {
		res.ExpectedROI = expected / stake
	}
	res.Market1EV = a.expected()
	res.Market2EV = b.expected()
	res.JointProbabilities = joint
	res.ScenarioProfits = profits
	res.BestCaseProfit = best
	res.WorstCaseProfit = worst
	res.SignedCorrelation = rho
	res.Strategy = describe(a, b, res)
	return res, nil
}

// JointTable builds the 2x2 outcome distribution for marginals pa and pb with
// correlation rho. The result always sums to 1 and has no negative cells.
func JointTable(pa, pb, rho float64) map[domain.Scenario]float64 {
	pa = clamp(pa, Epsilon, 1-Epsilon)
	pb = clamp(pb, Epsilon, 1-Epsilon)
	if !isFinite(rho) {
		rho = 0
	}
	rho = clamp(rho, -MaxCorrelation, MaxCorrelation)

	p11 := pa*pb + rho*math.Sqrt(pa*(1-pa)*pb*(1-pb))
	p11 = clamp(p11, math.Max(0, pa+pb-1), math.Min(pa, pb))

	cells := [4]float64{p11, pa - p11, pb - p11, 1 - pa - pb + p11}
	if t, ok := normalise(cells); ok {
		return table(t)
	}
	indep := [4]float64{pa * pb, pa * (1 - pb), (1 - pa) * pb, (1 - pa) * (1 - pb)}
	t, _ := normalise(indep)
	return table(t)
}

func normalise(cells [4]float64) ([4]float64, bool) {
	var sum float64
	for i, c := range cells {
		if !isFinite(c) {
			return cells, false
		}
		if c < 0 {
			// Rounding can leave a cell a hair below zero at the Fréchet bound.
			if c < -1e-12 {
				return cells, false
			}
			cells[i] = 0
		}
		sum += cells[i]
	}
	if !(sum > 0) {
		return cells, false
	}
	for i := range cells {
		cells[i] /= sum
	}
	return cells, true
}

func table(c [4]float64) map[domain.Scenario]float64 {
	return map[domain.Scenario]float64{
		domain.ScenarioBothYes: c[0],
		domain.ScenarioYesNo:   c[1],
		domain.ScenarioNoYes:   c[2],
		domain.ScenarioBothNo:  c[3],
	}
}

func zeroTable() map[domain.Scenario]float64 {
	return table([4]float64{})
}

func describe(a, b leg, res domain.ExpectedValueResult) string {
	var legs []string
	if a.position.Active() {
		legs = append(legs, fmt.Sprintf("%s on market 1 at %.3f", a.position, a.price))
	}
	if b.position.Active() {
		legs = append(legs, fmt.Sprintf("%s on market 2 at %.3f", b.position, b.price))
	}
	return fmt.Sprintf("Buy %s. Expected profit %.4f on stake %.4f (ROI %.2f%%). Best case %.4f, worst case %.4f.",
		strings.Join(legs, " and "),
		res.TotalExpectedProfit, res.TotalStake, res.ExpectedROI*100,
		res.BestCaseProfit, res.WorstCaseProfit)
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

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
