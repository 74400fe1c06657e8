package service

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyrelate/internal/domain"
	"github.com/alanyoungcy/polyrelate/internal/scoring"
	"github.com/alanyoungcy/polyrelate/internal/similarity"
)

// DiscoverOpts are the thresholds applied when turning similarity matches into
// relations.
type DiscoverOpts struct {
	SimilarityThreshold  float64 `json:"similarity_threshold"`
	CorrelationThreshold float64 `json:"correlation_threshold"`
	LimitPerMarket       int     `json:"limit_per_market"`
}

// Validate rejects thresholds outside [0,1] and non-positive limits.
func (o DiscoverOpts) Validate() error {
	if !(o.SimilarityThreshold >= 0 && o.SimilarityThreshold <= 1) {
		return domain.NewValidationError("similarity_threshold", "must be within [0,1]")
	}
	if !(o.CorrelationThreshold >= 0 && o.CorrelationThreshold <= 1) {
		return domain.NewValidationError("correlation_threshold", "must be within [0,1]")
	}
	if o.LimitPerMarket < 1 {
		return domain.NewValidationError("limit_per_market", "must be >= 1")
	}
	return nil
}

// stageResult is what one market contributes to a discovery run.
type stageResult struct {
	Relations  []domain.Relation
	Candidates int
	Skipped    int
	Failed     int
	Errs       []error
}

// scorer correlates similarity matches and keeps those that clear the
// correlation threshold.
type scorer struct {
	correlator  scoring.Correlator
	concurrency int
}

func newScorer(c scoring.Correlator, concurrency int) scorer {
	if c == nil {
		c = scoring.NewConstantCorrelator()
	}
	return scorer{correlator: c, concurrency: max(1, concurrency)}
}

// stage scores the matches of base. Self matches and unknown markets are
// ignored; already related markets and low correlations count as skipped; a
// correlator failure or a non-finite correlation counts the candidate as
// failed. Finite correlations are clamped to [0,1]. Only cancellation is
// returned as an error.
func (sc scorer) stage(
	ctx context.Context,
	base domain.Market,
	matches []similarity.Match,
	markets map[int64]domain.Market,
	related func(id int64) bool,
	corrThreshold float64,
) (stageResult, error) {
	var res stageResult
	pending := make([]candidate, 0, len(matches))
	for _, m := range matches {
		if m.MarketID == base.ID {
			continue
		}
		res.Candidates++
		if related != nil && related(m.MarketID) {
			res.Skipped++
			continue
		}
		other, ok := markets[m.MarketID]
		if !ok {
			res.Skipped++
			continue
		}
		pending = append(pending, candidate{other: other, similarity: m.Score})
	}

	if err := sc.correlate(ctx, base, pending); err != nil {
		return res, err
	}

	for _, c := range pending {
		if c.err != nil {
			res.Failed++
			res.Errs = append(res.Errs, fmt.Errorf("correlate %d with %d: %w", base.ID, c.other.ID, c.err))
			continue
		}
		if math.IsNaN(c.correlation) || math.IsInf(c.correlation, 0) {
			res.Failed++
			res.Errs = append(res.Errs, fmt.Errorf("correlate %d with %d: %w: correlation %v is not finite",
				base.ID, c.other.ID, domain.ErrInputData, c.correlation))
			continue
		}
		c.correlation = min(max(c.correlation, 0), 1)
		if c.correlation < corrThreshold {
			res.Skipped++
			continue
		}
		rel, err := domain.NewRelation(base.ID, c.other.ID, c.similarity, c.correlation,
			scoring.MarketPressure(c.similarity, c.correlation, base, c.other))
		if err != nil {
			res.Failed++
			res.Errs = append(res.Errs, err)
			continue
		}
		res.Relations = append(res.Relations, rel)
	}
	return res, nil
}

type candidate struct {
	other       domain.Market
	similarity  float64
	correlation float64
	err         error
}

// correlate fills correlation or err on every candidate.
func (sc scorer) correlate(ctx context.Context, base domain.Market, cands []candidate) error {
	if sc.concurrency == 1 || len(cands) < 2 {
		for i := range cands {
			if err := ctx.Err(); err != nil {
				return err
			}
			cands[i].correlation, cands[i].err = sc.correlator.Correlate(ctx, base, cands[i].other)
		}
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sc.concurrency)
	for i := range cands {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cands[i].correlation, cands[i].err = sc.correlator.Correlate(gctx, base, cands[i].other)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
