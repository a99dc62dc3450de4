// Package features computes per-title trailing-window statistics from the
// full snapshot history, as of an arbitrary date.
package features

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/domain"
	"github.com/rte-labs/rte100/pkg/formulas"
)

// Aggregator builds feature rows from snapshot history.
type Aggregator struct {
	params domain.RollingParams
	scorer Scorer
	log    zerolog.Logger
}

// NewAggregator creates an aggregator with validated parameters and the
// configured score strategy.
func NewAggregator(params domain.RollingParams, log zerolog.Logger) (*Aggregator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	scorer, err := NewScorer(params.ScoreStrategy)
	if err != nil {
		return nil, err
	}
	return &Aggregator{
		params: params,
		scorer: scorer,
		log:    log.With().Str("service", "features").Logger(),
	}, nil
}

// ScorerName returns the active score strategy name.
func (a *Aggregator) ScorerName() string {
	return a.scorer.Name()
}

// observation is one (date, edr_raw) point of a title's history.
type observation struct {
	date time.Time
	edr  float64
}

// FeaturesAsOf computes feature rows for every title with at least one
// observation in the trailing mean window ending at asOf. Titles with zero
// observations in that window are omitted: absence is not a true zero.
// The computation only reads snapshots dated at or before asOf, so it can be
// re-run for any historical date.
func (a *Aggregator) FeaturesAsOf(snapshots []domain.Snapshot, asOf time.Time) []domain.FeatureRow {
	byTitle := groupByTitle(snapshots, asOf)

	ids := make([]int64, 0, len(byTitle))
	for id := range byTitle {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]domain.FeatureRow, 0, len(ids))
	for _, id := range ids {
		if row, ok := a.featuresForTitle(id, byTitle[id], asOf); ok {
			rows = append(rows, row)
		}
	}

	a.log.Debug().
		Time("as_of", asOf).
		Int("titles", len(byTitle)).
		Int("rows", len(rows)).
		Msg("Computed rolling features")

	return rows
}

func (a *Aggregator) featuresForTitle(id int64, obs []observation, asOf time.Time) (domain.FeatureRow, bool) {
	meanWin := a.params.MeanWindowDays
	volWin := a.params.VolWindowDays

	current := windowValues(obs, asOf, 0, meanWin)
	if len(current) == 0 {
		return domain.FeatureRow{}, false
	}

	mean := formulas.Mean(current)
	coverage := float64(len(current)) / float64(meanWin)

	// Momentum: current window mean vs the immediately preceding window.
	prior := windowValues(obs, asOf, meanWin, meanWin)
	priorMean := formulas.Mean(prior)

	var mom *float64
	switch {
	case priorMean == 0 && mean == 0:
		zero := 0.0
		mom = &zero
	case priorMean == 0:
		// Undefined ratio: reported as missing, not zero.
		mom = nil
	default:
		v := mean/priorMean - 1
		mom = &v
	}

	volValues := windowValues(obs, asOf, 0, volWin)
	var vol *float64
	if len(volValues) >= 2 {
		v := formulas.StdDev(volValues)
		vol = &v
	}

	var trend *float64
	if mean > 0 {
		if ema := formulas.CalculateEMA(volValues, a.params.TrendEMALength); ema != nil {
			v := *ema/mean - 1
			trend = &v
		}
	}

	score := a.scorer.Score(ScoreInput{
		EDR7dMean:  mean,
		Coverage7d: coverage,
		EDR14dVol:  vol,
	})

	return domain.FeatureRow{
		UniverseID: id,
		AsOfDate:   asOf,
		EDR7dMean:  mean,
		EDRMom:     mom,
		EDR14dVol:  vol,
		Coverage7d: coverage,
		EDRTrend:   trend,
		Score:      score,
	}, true
}

// groupByTitle collects each title's observations dated at or before asOf,
// sorted chronologically, deduplicated per day (last record wins).
func groupByTitle(snapshots []domain.Snapshot, asOf time.Time) map[int64][]observation {
	latest := make(map[int64]map[string]observation)
	for _, s := range snapshots {
		if s.SnapshotDate.After(asOf) {
			continue
		}
		perDay, ok := latest[s.UniverseID]
		if !ok {
			perDay = make(map[string]observation)
			latest[s.UniverseID] = perDay
		}
		perDay[s.SnapshotDate.Format(domain.DateLayout)] = observation{date: s.SnapshotDate, edr: s.EDRRaw}
	}

	byTitle := make(map[int64][]observation, len(latest))
	for id, perDay := range latest {
		obs := make([]observation, 0, len(perDay))
		for _, o := range perDay {
			obs = append(obs, o)
		}
		sort.Slice(obs, func(i, j int) bool { return obs[i].date.Before(obs[j].date) })
		byTitle[id] = obs
	}
	return byTitle
}

// windowValues returns the edr values of observations whose age in whole days
// relative to asOf lies in [offsetDays, offsetDays+lengthDays), chronological
// order preserved. offsetDays 0 means the window ends at asOf inclusive.
func windowValues(obs []observation, asOf time.Time, offsetDays, lengthDays int) []float64 {
	values := make([]float64, 0, lengthDays)
	for _, o := range obs {
		age := daysBetween(o.date, asOf)
		if age < 0 {
			continue
		}
		if age >= offsetDays && age < offsetDays+lengthDays {
			values = append(values, o.edr)
		}
	}
	return values
}

// daysBetween returns the whole-day distance from d to asOf, negative when d
// is after asOf. Both dates are treated as calendar days.
func daysBetween(d, asOf time.Time) int {
	du := midnight(d)
	au := midnight(asOf)
	return int(au.Sub(du).Hours() / 24)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
