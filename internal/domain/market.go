package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultPrice is used when a market has no parseable YES price.
const DefaultPrice = 0.5

// Market represents a Polymarket prediction market as stored locally.
type Market struct {
	ID                  int64      `json:"id"`
	PolymarketID        string     `json:"polymarket_id"`
	Question            string     `json:"question"`
	Description         string     `json:"description,omitempty"`
	Slug                string     `json:"slug,omitempty"`
	Outcomes            []string   `json:"outcomes"`
	OutcomePrices       []string   `json:"outcome_prices"` // index 0 is YES
	Volume              float64    `json:"volume"`
	OneDayPriceChange   *float64   `json:"one_day_price_change,omitempty"`
	OneWeekPriceChange  *float64   `json:"one_week_price_change,omitempty"`
	OneMonthPriceChange *float64   `json:"one_month_price_change,omitempty"`
	Tags                []string   `json:"tags,omitempty"`
	Active              bool       `json:"active"`
	EndDate             *time.Time `json:"end_date,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// YesPrice returns the first outcome price clamped to [0,1]. Missing or
// malformed prices fall back to DefaultPrice.
func (m Market) YesPrice() float64 {
	p, ok := m.PriceAt(0)
	if !ok {
		return DefaultPrice
	}
	return p
}

// PriceAt parses the outcome price at index i. ok is false when the index is
// out of range or the value is not a finite number.
func (m Market) PriceAt(i int) (float64, bool) {
	if i < 0 || i >= len(m.OutcomePrices) {
		return 0, false
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(m.OutcomePrices[i]), 64)
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, false
	}
	return math.Min(1, math.Max(0, p)), true
}

// PriceChanges returns the three price change fields in day, week, month order.
func (m Market) PriceChanges() []*float64 {
	return []*float64{m.OneDayPriceChange, m.OneWeekPriceChange, m.OneMonthPriceChange}
}

// EmbeddingText builds the text that is sent to the embedding provider.
func (m Market) EmbeddingText() string {
	parts := []string{"Question: " + m.Question}
	if strings.TrimSpace(m.Description) != "" {
		parts = append(parts, "Description: "+m.Description)
	}
	if len(m.Outcomes) > 0 {
		parts = append(parts, "Outcomes: "+strings.Join(m.Outcomes, ", "))
	}
	return strings.Join(parts, " | ")
}

// Embedding is the semantic vector for one market.
type Embedding struct {
	MarketID  int64
	Vector    []float32
	Model     string
	CreatedAt time.Time
}
