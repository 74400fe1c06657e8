package domain

import (
	"strings"
	"time"
)

// Position is a recommended stance on one market.
type Position string

const (
	PositionYes   Position = "YES"
	PositionNo    Position = "NO"
	PositionAvoid Position = "AVOID"
)

// ParsePosition normalises a free-form label. Unknown labels map to AVOID and
// ok is false.
func ParsePosition(s string) (Position, bool) {
	switch Position(strings.ToUpper(strings.TrimSpace(s))) {
	case PositionYes:
		return PositionYes, true
	case PositionNo:
		return PositionNo, true
	case PositionAvoid:
		return PositionAvoid, true
	default:
		return PositionAvoid, false
	}
}

// Valid reports whether p is one of the three known positions.
func (p Position) Valid() bool {
	return p == PositionYes || p == PositionNo || p == PositionAvoid
}

// Active reports whether the position puts capital at risk.
func (p Position) Active() bool {
	return p == PositionYes || p == PositionNo
}

// RiskLevel grades an investment recommendation.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel defaults unknown values to medium.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow
	case RiskHigh:
		return RiskHigh
	default:
		return RiskMedium
	}
}

// Scenario names one cell of the joint outcome table.
type Scenario string

const (
	ScenarioBothYes Scenario = "both_yes"
	ScenarioYesNo   Scenario = "m1_yes_m2_no"
	ScenarioNoYes   Scenario = "m1_no_m2_yes"
	ScenarioBothNo  Scenario = "both_no"
)

// Scenarios lists the joint outcomes in table order.
var Scenarios = []Scenario{ScenarioBothYes, ScenarioYesNo, ScenarioNoYes, ScenarioBothNo}

// ExpectedValueResult is the outcome of solving the two-market EV problem.
type ExpectedValueResult struct {
	TotalExpectedProfit float64              `json:"total_expected_profit"`
	ExpectedROI         float64              `json:"expected_roi"`
	TotalStake          float64              `json:"total_stake"`
	Market1EV           float64              `json:"market1_ev"`
	Market2EV           float64              `json:"market2_ev"`
	JointProbabilities  map[Scenario]float64 `json:"joint_probabilities"`
	ScenarioProfits     map[Scenario]float64 `json:"scenario_profits"`
	BestCaseProfit      float64              `json:"best_case_profit"`
	WorstCaseProfit     float64              `json:"worst_case_profit"`
	SignedCorrelation   float64              `json:"signed_correlation"`
	Market1Probability  float64              `json:"market1_true_probability"`
	Market2Probability  float64              `json:"market2_true_probability"`
	Market1Price        float64              `json:"market1_price"`
	Market2Price        float64              `json:"market2_price"`
	Market1Position     Position             `json:"market1_position"`
	Market2Position     Position             `json:"market2_position"`
	Strategy            string               `json:"strategy"`
}

// CorrelationAnalysis is the structured judgement about a market pair.
type CorrelationAnalysis struct {
	Market1ID              int64                `json:"market1_id"`
	Market2ID              int64                `json:"market2_id"`
	CorrelationScore       float64              `json:"correlation_score"`
	Explanation            string               `json:"explanation"`
	InvestmentScore        float64              `json:"investment_score"`
	InvestmentRationale    string               `json:"investment_rationale"`
	RiskLevel              RiskLevel            `json:"risk_level"`
	Market1Position        Position             `json:"market1_position"`
	Market2Position        Position             `json:"market2_position"`
	Market1TrueProbability *float64             `json:"market1_true_probability,omitempty"`
	Market2TrueProbability *float64             `json:"market2_true_probability,omitempty"`
	ExpectedValues         *ExpectedValueResult `json:"expected_values,omitempty"`
	BestStrategy           string               `json:"best_strategy,omitempty"`
	Model                  string               `json:"model"`
	AnalyzedAt             time.Time            `json:"analyzed_at"`
}

// DefaultAnalysisModel is used when a caller does not select a model.
const DefaultAnalysisModel = "gemini-flash"

// analysisModels maps every accepted model name to the provider model it runs.
var analysisModels = map[string]string{
	"gemini-flash":                  "gemini-2.0-flash-exp",
	"gemini-pro":                    "gemini-2.0-flash-thinking-exp",
	"gemini-2.0-flash":              "gemini-2.0-flash",
	"gemini-2.0-flash-exp":          "gemini-2.0-flash-exp",
	"gemini-2.0-flash-thinking-exp": "gemini-2.0-flash-thinking-exp",
	"gemini-1.5-flash":              "gemini-1.5-flash",
	"gemini-1.5-flash-002":          "gemini-1.5-flash-002",
	"gpt-4o-mini":                   "gpt-4o-mini",
	"gpt-4o":                        "gpt-4o",
}

// ResolveAnalysisModel maps a requested model (or alias) to the provider model
// name. An empty name selects DefaultAnalysisModel.
func ResolveAnalysisModel(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultAnalysisModel
	}
	resolved, ok := analysisModels[name]
	if !ok {
		return "", NewValidationError("model", "unsupported analysis model "+name)
	}
	return resolved, nil
}
