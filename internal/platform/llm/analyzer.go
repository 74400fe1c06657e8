package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// analysisReply is the structured output requested from the model.
type analysisReply struct {
	CorrelationScore       float64 `json:"correlation_score" description:"Relationship strength from 0 to 1, counting contradiction as strong"`
	Explanation            string  `json:"explanation" description:"How the two events relate"`
	InvestmentScore        float64 `json:"investment_score" description:"Arbitrage opportunity from 0 to 1"`
	InvestmentRationale    string  `json:"investment_rationale" description:"Why the opportunity is rated this way"`
	RiskLevel              string  `json:"risk_level" enum:"low,medium,high"`
	Market1Position        string  `json:"market1_position" enum:"YES,NO,AVOID"`
	Market2Position        string  `json:"market2_position" enum:"YES,NO,AVOID"`
	Market1TrueProbability float64 `json:"market1_true_probability" description:"Estimated YES probability of market 1"`
	Market2TrueProbability float64 `json:"market2_true_probability" description:"Estimated YES probability of market 2"`
}

// Analyzer implements domain.Analyzer with a JSON-schema constrained chat
// completion.
type Analyzer struct {
	client *Client
	schema *jsonschema.Definition
	now    func() time.Time
}

var _ domain.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(c *Client) (*Analyzer, error) {
	schema, err := jsonschema.GenerateSchemaForType(analysisReply{})
	if err != nil {
		return nil, fmt.Errorf("llm: analysis schema: %w", err)
	}
	return &Analyzer{client: c, schema: schema, now: time.Now}, nil
}

// Analyze asks the model about the pair (m1, m2). The model name is resolved
// before any network call.
func (a *Analyzer) Analyze(ctx context.Context, m1, m2 domain.Market, model string) (domain.CorrelationAnalysis, error) {
	resolved, err := domain.ResolveAnalysisModel(model)
	if err != nil {
		return domain.CorrelationAnalysis{}, err
	}

	req := openai.ChatCompletionRequest{
		Model: resolved,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(m1, m2)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "market_correlation_analysis",
				Schema: a.schema,
				Strict: true,
			},
		},
	}

	resp, err := do(ctx, a.client, "analyze", func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return a.client.api.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		return domain.CorrelationAnalysis{}, &domain.UpstreamError{Op: "analyze", MarketID: m1.ID, Err: err}
	}
	if len(resp.Choices) == 0 {
		return domain.CorrelationAnalysis{}, &domain.UpstreamError{Op: "analyze", MarketID: m1.ID, Err: fmt.Errorf("no choices returned")}
	}

	reply, err := parseReply(resp.Choices[0].Message.Content)
	if err != nil {
		return domain.CorrelationAnalysis{}, &domain.UpstreamError{Op: "analyze", MarketID: m1.ID, Err: err}
	}
	return a.toAnalysis(m1, m2, resolved, reply), nil
}

// parseReply decodes the model output, tolerating a markdown code fence.
func parseReply(content string) (analysisReply, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	var r analysisReply
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return analysisReply{}, fmt.Errorf("%w: analysis reply: %v", domain.ErrInputData, err)
	}
	if math.IsNaN(r.CorrelationScore) || math.IsInf(r.CorrelationScore, 0) {
		return analysisReply{}, fmt.Errorf("%w: correlation_score is not finite", domain.ErrInputData)
	}
	return r, nil
}

func (a *Analyzer) toAnalysis(m1, m2 domain.Market, model string, r analysisReply) domain.CorrelationAnalysis {
	pos1, _ := domain.ParsePosition(r.Market1Position)
	pos2, _ := domain.ParsePosition(r.Market2Position)
	return domain.CorrelationAnalysis{
		Market1ID:              m1.ID,
		Market2ID:              m2.ID,
		CorrelationScore:       unit(r.CorrelationScore),
		Explanation:            r.Explanation,
		InvestmentScore:        unit(r.InvestmentScore),
		InvestmentRationale:    r.InvestmentRationale,
		RiskLevel:              domain.ParseRiskLevel(r.RiskLevel),
		Market1Position:        pos1,
		Market2Position:        pos2,
		Market1TrueProbability: probability(r.Market1TrueProbability),
		Market2TrueProbability: probability(r.Market2TrueProbability),
		Model:                  model,
		AnalyzedAt:             a.now().UTC(),
	}
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// probability drops estimates outside [0,1] so the solver falls back to the
// market price.
func probability(v float64) *float64 {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return nil
	}
	return &v
}
