package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/ev"
	"github.com/alanyoungcy/polyrelate/internal/metrics"
	"github.com/alanyoungcy/polyrelate/internal/scoring"
)

// analysisLimiterKey is the rate limiter bucket shared by every analysis call.
const analysisLimiterKey = "analysis"

// AnalysisService runs pair analyses through the provider, attaches a locally
// solved expected value and caches the result.
type AnalysisService struct {
	markets      *MarketService
	analyzer     domain.Analyzer
	cache        domain.AnalysisCache
	limiter      domain.RateLimiter
	defaultModel string
	concurrency  int
	metrics      *metrics.Registry
	logger       *slog.Logger
}

// AnalysisConfig tunes an AnalysisService.
type AnalysisConfig struct {
	DefaultModel string
	Concurrency  int
}

// NewAnalysisService creates an AnalysisService. analyzer, cache and limiter
// may each be nil.
func NewAnalysisService(
	markets *MarketService,
	analyzer domain.Analyzer,
	cache domain.AnalysisCache,
	limiter domain.RateLimiter,
	cfg AnalysisConfig,
	reg *metrics.Registry,
	logger *slog.Logger,
) *AnalysisService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = domain.DefaultAnalysisModel
	}
	return &AnalysisService{
		markets:      markets,
		analyzer:     analyzer,
		cache:        cache,
		limiter:      limiter,
		defaultModel: cfg.DefaultModel,
		concurrency:  cfg.Concurrency,
		metrics:      reg,
		logger:       logger.With(slog.String("component", "analysis_service")),
	}
}

// Enabled reports whether an analysis provider is configured.
func (s *AnalysisService) Enabled() bool { return s.analyzer != nil }

// AnalyzePair returns the analysis of (m1, m2) oriented so that Market1 is m1.
func (s *AnalysisService) AnalyzePair(ctx context.Context, m1, m2 domain.Market, model string) (domain.CorrelationAnalysis, error) {
	if m1.ID == m2.ID {
		return domain.CorrelationAnalysis{}, domain.NewValidationError("market_id", "analysis requires two distinct markets")
	}
	if model == "" {
		model = s.defaultModel
	}
	resolved, err := domain.ResolveAnalysisModel(model)
	if err != nil {
		return domain.CorrelationAnalysis{}, err
	}
	if s.analyzer == nil {
		return domain.CorrelationAnalysis{}, fmt.Errorf("analysis_service: %w: no analysis provider", domain.ErrUnavailable)
	}

	pair := domain.CanonicalPair(m1.ID, m2.ID)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, resolved, pair)
		switch {
		case err == nil:
			s.metrics.AnalysisCacheLookup(true)
			a := orient(cached, m1.ID)
			attachEV(m1, m2, &a)
			return a, nil
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "analysis_service: cache get failed",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
		}
		s.metrics.AnalysisCacheLookup(false)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, analysisLimiterKey); err != nil {
			return domain.CorrelationAnalysis{}, fmt.Errorf("analysis_service: wait for rate limit: %w", err)
		}
	}

	start := time.Now()
	a, err := s.analyzer.Analyze(ctx, m1, m2, model)
	s.metrics.ObserveProvider("analyze", time.Since(start), err)
	if err != nil {
		return domain.CorrelationAnalysis{}, fmt.Errorf("analysis_service: analyze %s: %w", pair, err)
	}
	a.Market1ID, a.Market2ID = m1.ID, m2.ID
	attachEV(m1, m2, &a)

	if s.cache != nil {
		if err := s.cache.Set(ctx, resolved, a); err != nil {
			s.logger.WarnContext(ctx, "analysis_service: cache set failed",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return a, nil
}

// AnalyzeByID loads both markets and analyses the pair.
func (s *AnalysisService) AnalyzeByID(ctx context.Context, id1, id2 int64, model string) (domain.CorrelationAnalysis, error) {
	m1, err := s.markets.GetMarket(ctx, id1)
	if err != nil {
		return domain.CorrelationAnalysis{}, err
	}
	m2, err := s.markets.GetMarket(ctx, id2)
	if err != nil {
		return domain.CorrelationAnalysis{}, err
	}
	return s.AnalyzePair(ctx, m1, m2, model)
}

// AnalyzeMany analyses base against every market in others with bounded
// concurrency. A failed pair leaves a nil entry; only a bad model or
// cancellation fails the call.
func (s *AnalysisService) AnalyzeMany(ctx context.Context, base domain.Market, others []domain.Market, model string) ([]*domain.CorrelationAnalysis, error) {
	if model == "" {
		model = s.defaultModel
	}
	if _, err := domain.ResolveAnalysisModel(model); err != nil {
		return nil, err
	}

	out := make([]*domain.CorrelationAnalysis, len(others))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, other := range others {
		g.Go(func() error {
			a, err := s.AnalyzePair(gctx, base, other, model)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.WarnContext(gctx, "analysis_service: pair analysis failed",
					slog.Int64("market_id", base.ID),
					slog.Int64("related_id", other.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			out[i] = &a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, fmt.Errorf("analysis_service: analyze many: %w", err)
	}
	return out, nil
}

// attachEV replaces any provider EV with one solved from current prices.
func attachEV(m1, m2 domain.Market, a *domain.CorrelationAnalysis) {
	a.ExpectedValues = nil
	res, err := ev.Solve(ev.FromAnalysis(m1, m2, *a))
	if err != nil {
		return
	}
	a.ExpectedValues = &res
	a.BestStrategy = res.Strategy
}

// orient swaps the per-market fields of a so that Market1ID is id.
func orient(a domain.CorrelationAnalysis, id int64) domain.CorrelationAnalysis {
	if a.Market1ID == id {
		return a
	}
	a.Market1ID, a.Market2ID = a.Market2ID, a.Market1ID
	a.Market1Position, a.Market2Position = a.Market2Position, a.Market1Position
	a.Market1TrueProbability, a.Market2TrueProbability = a.Market2TrueProbability, a.Market1TrueProbability
	return a
}

// AnalysisCorrelator scores pairs with the provider's correlation judgement.
type AnalysisCorrelator struct {
	analysis *AnalysisService
	model    string
}

var _ scoring.Correlator = (*AnalysisCorrelator)(nil)

// NewAnalysisCorrelator returns a correlator that calls analysis with model.
func NewAnalysisCorrelator(analysis *AnalysisService, model string) *AnalysisCorrelator {
	return &AnalysisCorrelator{analysis: analysis, model: model}
}

// Correlate returns the analysed correlation score in [0,1].
func (c *AnalysisCorrelator) Correlate(ctx context.Context, m1, m2 domain.Market) (float64, error) {
	a, err := c.analysis.AnalyzePair(ctx, m1, m2, c.model)
	if err != nil {
		return 0, err
	}
	return min(1, max(0, a.CorrelationScore)), nil
}
