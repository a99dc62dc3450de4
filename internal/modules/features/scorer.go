package features

import "fmt"

// ScoreInput carries the per-title statistics a scorer may use.
type ScoreInput struct {
	EDR7dMean  float64
	Coverage7d float64
	EDR14dVol  *float64 // nil when undefined
}

// Scorer computes the composite ranking statistic. Implementations must be
// monotone increasing in EDR7dMean and Coverage7d and monotone decreasing in
// relative volatility.
type Scorer interface {
	Name() string
	Score(in ScoreInput) float64
}

// NewScorer returns the registered scorer for the given strategy name.
func NewScorer(name string) (Scorer, error) {
	switch name {
	case "coverage_adjusted":
		return coverageAdjustedScorer{}, nil
	case "mean":
		return meanScorer{}, nil
	default:
		return nil, fmt.Errorf("unknown score strategy %q", name)
	}
}

// coverageAdjustedScorer is the default strategy:
// edr_7d_mean * coverage_7d / (1 + vol_norm), with vol_norm the 14-day
// volatility relative to the 7-day mean (0 when the mean is 0 or the
// volatility is undefined).
type coverageAdjustedScorer struct{}

func (coverageAdjustedScorer) Name() string { return "coverage_adjusted" }

func (coverageAdjustedScorer) Score(in ScoreInput) float64 {
	volNorm := 0.0
	if in.EDR14dVol != nil && in.EDR7dMean > 0 {
		volNorm = *in.EDR14dVol / in.EDR7dMean
	}
	return in.EDR7dMean * in.Coverage7d / (1 + volNorm)
}

// meanScorer ranks purely on coverage-weighted mean EDR.
type meanScorer struct{}

func (meanScorer) Name() string { return "mean" }

func (meanScorer) Score(in ScoreInput) float64 {
	return in.EDR7dMean * in.Coverage7d
}
