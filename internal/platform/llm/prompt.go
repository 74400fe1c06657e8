package llm

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/scoring"
)

var printer = message.NewPrinter(language.English)

const systemPrompt = `You are an expert analyst evaluating pairs of prediction markets for causal relationships and arbitrage opportunities.

1. correlation_score (0.0-1.0): how strongly the two events are related. Direct prevention or contradiction counts as a STRONG relationship, the same as direct causation. Mutually exclusive outcomes score near 1.0; independent events score below 0.3.

2. investment_score (0.0-1.0): arbitrage potential. Price differentials matter most; markets with the same or very similar prices score 0.0-0.2. Stronger correlation, higher volatility and enough volume raise the score.

3. risk_level: low when volatility is under 5%, medium for 5-15%, high above 15%.

4. market1_position and market2_position: YES, NO or AVOID for each market, and your own estimate of the true YES probability of each market.

Keep explanation and investment_rationale to two or three sentences each.`

// marketContext renders one market block of the user prompt.
func marketContext(label string, m domain.Market) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", label, m.Question)
	if strings.TrimSpace(m.Description) != "" {
		fmt.Fprintf(&b, "\nDescription: %s", m.Description)
	}
	prices := "N/A"
	if len(m.OutcomePrices) > 0 {
		prices = strings.Join(m.OutcomePrices, ", ")
	}
	fmt.Fprintf(&b, "\nOutcome Prices: %s", prices)
	b.WriteString(printer.Sprintf("\nVolume: $%.2f", m.Volume))
	fmt.Fprintf(&b, "\nVolatility (avg price change): %.2f%%", scoring.Volatility(m)*100)
	if m.OneDayPriceChange != nil {
		fmt.Fprintf(&b, "\n24h Change: %+.2f%%", *m.OneDayPriceChange*100)
	}
	if m.OneWeekPriceChange != nil {
		fmt.Fprintf(&b, "\n7d Change: %+.2f%%", *m.OneWeekPriceChange*100)
	}
	if m.OneMonthPriceChange != nil {
		fmt.Fprintf(&b, "\n30d Change: %+.2f%%", *m.OneMonthPriceChange*100)
	}
	return b.String()
}

func userPrompt(m1, m2 domain.Market) string {
	return marketContext("Market 1", m1) + "\n\n" + marketContext("Market 2", m2) + `

Analyze these markets:
- Does Market 2 cause Market 1, prevent it, or contradict it? Inverse relationships still score high.
- Rate the arbitrage opportunity, focusing on price differentials first.
- Assess risk from the volatility figures.
- Recommend a position on each market and estimate each true probability.`
}
