// Package indexlevel chain-links the published index level series from the
// snapshot and membership histories.
package indexlevel

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/domain"
)

// weightSumFloor is the smallest observed-weight mass a day may renormalize
// over; below it the day is treated as unobserved and the level holds flat.
const weightSumFloor = 1e-12

// Builder computes the chain-linked level series.
type Builder struct {
	params domain.IndexParams
	log    zerolog.Logger
}

// NewBuilder creates a builder with validated parameters.
func NewBuilder(params domain.IndexParams, log zerolog.Logger) (*Builder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Builder{
		params: params,
		log:    log.With().Str("service", "indexlevel").Logger(),
	}, nil
}

// Build produces the daily level series. The series starts at BaseLevel on
// the first rebalance date and evolves by
// level(t) = level(t-1) * (1 + weighted_return(t)), using the membership
// weights in force on t (last rebalance at or before t). Weights from a
// rebalance apply strictly going forward. Constituents missing an
// observation on either side of a day are excluded from that day's return,
// renormalizing over the observed weight mass; a day with no observable
// constituents, or a rebalance period with zero constituents, holds the
// level flat.
//
// rebalanceDates is the full timeline of rebalances that ran, including any
// with zero constituents; a nil timeline is derived from the history, which
// then cannot represent empty rebalances.
func (b *Builder) Build(snapshots []domain.Snapshot, history []domain.MembershipRecord, rebalanceDates []time.Time) []domain.IndexLevelPoint {
	weightsByDate := groupMembership(history)
	rebalanceDates = mergeRebalanceDates(weightsByDate, rebalanceDates)
	if len(rebalanceDates) == 0 {
		return nil
	}
	firstDate := rebalanceDates[0]

	edrByTitle := groupEDR(snapshots)
	grid := dateGrid(snapshots, firstDate)

	levels := make([]domain.IndexLevelPoint, 0, len(grid))
	level := b.params.BaseLevel
	levels = append(levels, domain.IndexLevelPoint{Date: grid[0], Level: level})

	for i := 1; i < len(grid); i++ {
		prev, curr := grid[i-1], grid[i]

		weights := weightsInForce(weightsByDate, rebalanceDates, curr)
		ret, ok := b.weightedReturn(edrByTitle, weights, prev, curr)
		if ok {
			level *= 1 + ret
		}
		// No observable constituents: hold flat rather than produce an
		// undefined return.
		levels = append(levels, domain.IndexLevelPoint{Date: curr, Level: level})
	}

	b.log.Debug().
		Time("first_date", firstDate).
		Int("points", len(levels)).
		Msg("Built index level series")

	return levels
}

// weightedReturn computes the weight-weighted average day-over-day EDR return
// across constituents observed on both dates. The epsilon guard keeps the
// per-title denominator away from zero. Returns ok=false when no constituent
// is observable or the observed weight mass is negligible.
func (b *Builder) weightedReturn(edrByTitle map[int64]map[string]float64, weights map[int64]float64, prev, curr time.Time) (float64, bool) {
	if len(weights) == 0 {
		return 0, false
	}

	prevKey := prev.Format(domain.DateLayout)
	currKey := curr.Format(domain.DateLayout)

	var weightSum, weighted float64
	for id, w := range weights {
		series, ok := edrByTitle[id]
		if !ok {
			continue
		}
		edrPrev, okPrev := series[prevKey]
		edrCurr, okCurr := series[currKey]
		if !okPrev || !okCurr {
			continue
		}

		ret := (edrCurr - edrPrev) / (edrPrev + b.params.Epsilon)
		weighted += w * ret
		weightSum += w
	}

	if weightSum < weightSumFloor {
		return 0, false
	}

	return weighted / weightSum, true
}

func groupMembership(history []domain.MembershipRecord) map[string]map[int64]float64 {
	byDate := make(map[string]map[int64]float64)
	for _, m := range history {
		key := m.RebalanceDate.Format(domain.DateLayout)
		if byDate[key] == nil {
			byDate[key] = make(map[int64]float64)
		}
		byDate[key][m.UniverseID] = m.Weight
	}
	return byDate
}

// mergeRebalanceDates unions the explicit rebalance timeline with the dates
// present in the membership history, sorted ascending and deduplicated.
func mergeRebalanceDates(byDate map[string]map[int64]float64, explicit []time.Time) []time.Time {
	seen := make(map[string]time.Time, len(byDate)+len(explicit))
	for key := range byDate {
		if d, err := time.Parse(domain.DateLayout, key); err == nil {
			seen[key] = d
		}
	}
	for _, d := range explicit {
		seen[d.Format(domain.DateLayout)] = d
	}

	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// weightsInForce returns the weights of the last rebalance at or before date.
func weightsInForce(byDate map[string]map[int64]float64, rebalanceDates []time.Time, date time.Time) map[int64]float64 {
	var inForce map[int64]float64
	for _, rd := range rebalanceDates {
		if rd.After(date) {
			break
		}
		inForce = byDate[rd.Format(domain.DateLayout)]
	}
	return inForce
}

func groupEDR(snapshots []domain.Snapshot) map[int64]map[string]float64 {
	byTitle := make(map[int64]map[string]float64)
	for _, s := range snapshots {
		if byTitle[s.UniverseID] == nil {
			byTitle[s.UniverseID] = make(map[string]float64)
		}
		byTitle[s.UniverseID][s.SnapshotDate.Format(domain.DateLayout)] = s.EDRRaw
	}
	return byTitle
}

// dateGrid returns the sorted union of snapshot dates at or after firstDate,
// always including firstDate itself.
func dateGrid(snapshots []domain.Snapshot, firstDate time.Time) []time.Time {
	seen := map[string]time.Time{
		firstDate.Format(domain.DateLayout): firstDate,
	}
	for _, s := range snapshots {
		if s.SnapshotDate.Before(firstDate) {
			continue
		}
		seen[s.SnapshotDate.Format(domain.DateLayout)] = s.SnapshotDate
	}

	grid := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		grid = append(grid, d)
	}
	sort.Slice(grid, func(i, j int) bool { return grid[i].Before(grid[j]) })
	return grid
}
