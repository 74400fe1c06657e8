package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	pacer      *rate.Limiter
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
// Requests are paced to two per second.
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		pacer: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// GetEvents returns one page of open events, newest first.
func (g *GammaClient) GetEvents(ctx context.Context, limit, offset int) ([]APIEvent, error) {
	params := url.Values{}
	params.Set("order", "id")
	params.Set("ascending", "false")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	return events, nil
}

// FetchOpts controls FetchActiveMarkets.
type FetchOpts struct {
	PageSize int
	// MaxPages bounds the crawl; 0 means until an empty page.
	MaxPages int
	// Tags keeps only events carrying at least one of these labels.
	Tags []string
	// ActiveOnly drops markets that are closed or flagged inactive.
	ActiveOnly bool
}

// FetchStats counts what a crawl saw.
type FetchStats struct {
	Pages          int
	Events         int
	FilteredEvents int
	Skipped        int
	Inactive       int
}

// FetchActiveMarkets pages through open events and flattens their markets,
// tagging each with its event labels. A failing page ends the crawl and the
// markets gathered so far are returned with the error.
func (g *GammaClient) FetchActiveMarkets(ctx context.Context, opts FetchOpts, logger *slog.Logger) ([]domain.Market, FetchStats, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	var (
		markets []domain.Market
		stats   FetchStats
	)
	for page := 0; opts.MaxPages <= 0 || page < opts.MaxPages; page++ {
		events, err := g.GetEvents(ctx, pageSize, page*pageSize)
		if err != nil {
			return markets, stats, err
		}
		if len(events) == 0 {
			break
		}
		stats.Pages++
		stats.Events += len(events)

		for i := range events {
			labels := events[i].TagLabels()
			if len(opts.Tags) > 0 && !hasAnyTag(labels, opts.Tags) {
				stats.FilteredEvents++
				continue
			}
			for j := range events[i].Markets {
				m, ok := events[i].Markets[j].ToDomainMarket(labels)
				if !ok {
					stats.Skipped++
					continue
				}
				if opts.ActiveOnly && !m.Active {
					stats.Inactive++
					continue
				}
				markets = append(markets, m)
			}
		}
		if logger != nil {
			logger.Debug("gamma page fetched",
				slog.Int("page", page+1),
				slog.Int("events", len(events)),
				slog.Int("markets_total", len(markets)),
			)
		}
	}
	return markets, stats, nil
}

func hasAnyTag(labels, want []string) bool {
	for _, w := range want {
		if slices.Contains(labels, w) {
			return true
		}
	}
	return false
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := g.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, snippet)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, snippet)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, snippet)
	}
}
