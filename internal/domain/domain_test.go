package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRelationCanonicalizes(t *testing.T) {
	r, err := NewRelation(9, 3, 0.9, 1, 0.09)
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.MarketID1)
	assert.Equal(t, int64(9), r.MarketID2)
	assert.Equal(t, PairKey{Lo: 3, Hi: 9}, r.Key())
	assert.Equal(t, int64(3), r.Other(9))
	assert.Equal(t, int64(9), r.Other(3))

	same, err := NewRelation(3, 9, 0.9, 1, 0.09)
	require.NoError(t, err)
	assert.Equal(t, r.Key(), same.Key())
}

func TestNewRelationRejectsSelf(t *testing.T) {
	_, err := NewRelation(4, 4, 1, 1, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestCanonicalPair(t *testing.T) {
	assert.Equal(t, CanonicalPair(1, 2), CanonicalPair(2, 1))
	assert.Equal(t, "1:2", CanonicalPair(2, 1).String())
	assert.True(t, CanonicalPair(5, 7).Contains(7))
	assert.False(t, CanonicalPair(5, 7).Contains(6))
}

func TestMarketYesPrice(t *testing.T) {
	tests := []struct {
		name   string
		prices []string
		want   float64
	}{
		{"present", []string{"0.42", "0.58"}, 0.42},
		{"missing", nil, DefaultPrice},
		{"malformed", []string{"abc"}, DefaultPrice},
		{"above one", []string{"1.7"}, 1},
		{"negative", []string{"-0.2"}, 0},
		{"padded", []string{" 0.3 "}, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Market{OutcomePrices: tt.prices}
			assert.InDelta(t, tt.want, m.YesPrice(), 1e-12)
		})
	}
}

func TestMarketEmbeddingText(t *testing.T) {
	m := Market{Question: "Will it rain?", Description: "Daily weather", Outcomes: []string{"Yes", "No"}}
	assert.Equal(t, "Question: Will it rain? | Description: Daily weather | Outcomes: Yes, No", m.EmbeddingText())

	bare := Market{Question: "Q"}
	assert.Equal(t, "Question: Q", bare.EmbeddingText())
}

func TestResolveAnalysisModel(t *testing.T) {
	got, err := ResolveAnalysisModel("")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash-exp", got)

	got, err = ResolveAnalysisModel("gemini-pro")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash-thinking-exp", got)

	_, err = ResolveAnalysisModel("claude-9")
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "model", verr.Field)
}

func TestParsePosition(t *testing.T) {
	p, ok := ParsePosition(" yes ")
	assert.True(t, ok)
	assert.Equal(t, PositionYes, p)

	p, ok = ParsePosition("maybe")
	assert.False(t, ok)
	assert.Equal(t, PositionAvoid, p)
	assert.False(t, PositionAvoid.Active())
	assert.True(t, PositionNo.Active())
}

func TestUpstreamErrorMatching(t *testing.T) {
	cause := errors.New("503 from provider")
	err := fmt.Errorf("embed batch: %w", &UpstreamError{Op: "embed", MarketID: 7, Err: cause})
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "market 7")
}

func TestParseRiskLevel(t *testing.T) {
	assert.Equal(t, RiskHigh, ParseRiskLevel("HIGH"))
	assert.Equal(t, RiskMedium, ParseRiskLevel("unknown"))
}
