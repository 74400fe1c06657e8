package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat accepts a JSON number or a numeric string. Unparseable strings
// decode to zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, _ = strconv.ParseFloat(strings.TrimSpace(s), 64)
	*f = flexFloat(n)
	return nil
}

// flexStrings accepts a JSON array or a JSON-encoded array inside a string,
// e.g. "[\"Yes\",\"No\"]". A string that is not an array becomes a single
// element. Numbers are kept in their JSON text form.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		*f = rawToStrings(raw)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &raw); err == nil {
		*f = rawToStrings(raw)
		return nil
	}
	*f = flexStrings{s}
	return nil
}

func rawToStrings(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, strings.TrimSpace(string(r)))
	}
	return out
}

// APITag is an event tag.
type APITag struct {
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  bool        `json:"closed"`
	Tags    []APITag    `json:"tags"`
	Markets []APIMarket `json:"markets"`
}

// TagLabels returns the non-empty tag labels of the event.
func (e *APIEvent) TagLabels() []string {
	out := make([]string, 0, len(e.Tags))
	for _, t := range e.Tags {
		if t.Label != "" {
			out = append(out, t.Label)
		}
	}
	return out
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID                  string      `json:"id"`
	ConditionID         string      `json:"conditionId"`
	Question            string      `json:"question"`
	Description         string      `json:"description"`
	Slug                string      `json:"slug"`
	Outcomes            flexStrings `json:"outcomes"`
	OutcomePrices       flexStrings `json:"outcomePrices"`
	Volume              flexFloat   `json:"volume"`
	OneDayPriceChange   *float64    `json:"oneDayPriceChange"`
	OneWeekPriceChange  *float64    `json:"oneWeekPriceChange"`
	OneMonthPriceChange *float64    `json:"oneMonthPriceChange"`
	Active              *flexBool   `json:"active"`
	Closed              bool        `json:"closed"`
	EndDate             string      `json:"endDate"`
}

// ToDomainMarket converts a Gamma market. ok is false when the market has no
// usable identifier or question and should be skipped. tags are the labels
// of the enclosing event.
func (m *APIMarket) ToDomainMarket(tags []string) (domain.Market, bool) {
	id := m.ID
	if id == "" {
		id = m.ConditionID
	}
	question := strings.TrimSpace(m.Question)
	if id == "" || question == "" {
		return domain.Market{}, false
	}

	active := !m.Closed
	if m.Active != nil {
		active = bool(*m.Active) && !m.Closed
	}

	dm := domain.Market{
		PolymarketID:        id,
		Question:            question,
		Description:         m.Description,
		Slug:                m.Slug,
		Outcomes:            []string(m.Outcomes),
		OutcomePrices:       []string(m.OutcomePrices),
		Volume:              float64(m.Volume),
		OneDayPriceChange:   m.OneDayPriceChange,
		OneWeekPriceChange:  m.OneWeekPriceChange,
		OneMonthPriceChange: m.OneMonthPriceChange,
		Tags:                tags,
		Active:              active,
	}
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			dm.EndDate = &t
		}
	}
	return dm, true
}
