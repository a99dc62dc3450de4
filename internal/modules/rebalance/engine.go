// Package rebalance selects and weights index constituents from one date's
// feature table plus the prior membership.
package rebalance

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/domain"
)

// WeightTolerance is the accepted deviation of the final weight sum from 1.
const WeightTolerance = 1e-9

// Result holds the ranked universe and the new membership for one rebalance.
type Result struct {
	Ranked     []domain.RankedTitle
	Membership []domain.MembershipRecord
}

// Engine runs the rebalance procedure.
type Engine struct {
	params      domain.RebalanceParams
	minCoverage float64
	log         zerolog.Logger
}

// NewEngine creates an engine with validated parameters. minCoverage is the
// eligibility gate from the rolling configuration.
func NewEngine(params domain.RebalanceParams, minCoverage float64, log zerolog.Logger) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if minCoverage < 0 || minCoverage > 1 {
		return nil, fmt.Errorf("rebalance engine: min coverage must be within [0,1], got %v", minCoverage)
	}
	return &Engine{
		params:      params,
		minCoverage: minCoverage,
		log:         log.With().Str("service", "rebalance").Logger(),
	}, nil
}

// Rebalance produces the ranked universe and new membership for one date.
// Deterministic: ties are broken by ascending universe id, so identical
// inputs always produce byte-identical output. Fewer eligible titles than K
// is not an error; an empty prior membership disables hysteresis.
func (e *Engine) Rebalance(features []domain.FeatureRow, rebalanceDate time.Time, prior []domain.MembershipRecord) (*Result, error) {
	ranked := e.rankUniverse(features)

	eligible := make([]domain.RankedTitle, 0, len(ranked))
	for _, t := range ranked {
		if t.Eligible {
			eligible = append(eligible, t)
		}
	}

	selected := e.selectConstituents(eligible, prior)

	weights, err := e.weigh(selected)
	if err != nil {
		return nil, err
	}

	membership := make([]domain.MembershipRecord, 0, len(selected))
	for i, t := range selected {
		membership = append(membership, domain.MembershipRecord{
			RebalanceDate: rebalanceDate,
			UniverseID:    t.UniverseID,
			Rank:          i + 1,
			Weight:        weights[i],
		})
	}

	if err := e.validate(membership); err != nil {
		return nil, err
	}

	e.log.Info().
		Time("rebalance_date", rebalanceDate).
		Int("universe", len(ranked)).
		Int("eligible", len(eligible)).
		Int("constituents", len(membership)).
		Msg("Rebalance complete")

	return &Result{Ranked: ranked, Membership: membership}, nil
}

// rankUniverse sorts the full universe by score descending (universe id
// ascending on ties) and flags eligibility by the coverage gate.
func (e *Engine) rankUniverse(features []domain.FeatureRow) []domain.RankedTitle {
	ranked := make([]domain.RankedTitle, 0, len(features))
	for _, f := range features {
		ranked = append(ranked, domain.RankedTitle{
			FeatureRow: f,
			Eligible:   f.Coverage7d >= e.minCoverage,
		})
	}
	sortByScore(ranked)
	return ranked
}

// selectConstituents takes the top K eligible titles, then applies turnover
// damping: a prior constituent still eligible and ranked within the
// hysteresis band past K replaces the lowest-scored non-incumbent selection.
// Incumbents already in the top K are never displaced, and the selection
// never exceeds K titles. The final selection is re-sorted by score so ranks
// stay consistent with the published ranking.
func (e *Engine) selectConstituents(eligible []domain.RankedTitle, prior []domain.MembershipRecord) []domain.RankedTitle {
	k := e.params.ConstituentCount

	if len(eligible) <= k {
		out := make([]domain.RankedTitle, len(eligible))
		copy(out, eligible)
		return out
	}

	selected := make([]domain.RankedTitle, k)
	copy(selected, eligible[:k])

	band := e.params.HysteresisBand
	if band > 0 && len(prior) > 0 {
		incumbents := make(map[int64]bool, len(prior))
		for _, m := range prior {
			incumbents[m.UniverseID] = true
		}

		bandEnd := k + band
		if bandEnd > len(eligible) {
			bandEnd = len(eligible)
		}

		for _, candidate := range eligible[k:bandEnd] {
			if !incumbents[candidate.UniverseID] {
				continue
			}
			// Evict the lowest-scored selected title that is not itself an
			// incumbent. If everything left is incumbent, retention stops.
			evictAt := -1
			for i := len(selected) - 1; i >= 0; i-- {
				if !incumbents[selected[i].UniverseID] {
					evictAt = i
					break
				}
			}
			if evictAt == -1 {
				break
			}
			e.log.Debug().
				Int64("retained", candidate.UniverseID).
				Int64("evicted", selected[evictAt].UniverseID).
				Msg("Hysteresis retention")
			selected[evictAt] = candidate
		}

		sortByScore(selected)
	}

	return selected
}

// weigh assigns final weights to the selected titles: driver-proportional
// base weights, iterative cap-and-redistribute to a fixed point, then exact
// renormalization. When the cap is infeasible (n < 1/cap) the defined
// fallback is equal weights.
func (e *Engine) weigh(selected []domain.RankedTitle) ([]float64, error) {
	n := len(selected)
	if n == 0 {
		return nil, nil
	}

	maxWeight := e.params.WeightCap
	weights := make([]float64, n)

	// Equal-weight fallback: the cap cannot hold when n*cap < 1.
	if float64(n)*maxWeight < 1-WeightTolerance {
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
		return weights, nil
	}

	drivers := make([]float64, n)
	var driverSum float64
	for i, t := range selected {
		d := e.driverValue(t)
		if d < 0 {
			d = 0
		}
		drivers[i] = d
		driverSum += d
	}

	if driverSum <= 0 {
		// Degenerate driver values: equal weights, still cap-compliant here.
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
		return weights, nil
	}

	for i := range weights {
		weights[i] = drivers[i] / driverSum
	}

	// Iterate cap + proportional redistribution to a fixed point: a single
	// pass can push previously uncapped titles over the cap.
	capped := make([]bool, n)
	for iter := 0; iter < n; iter++ {
		changed := false
		for i := range weights {
			if !capped[i] && weights[i] > maxWeight+WeightTolerance {
				capped[i] = true
				changed = true
			}
		}
		if !changed {
			break
		}

		var cappedTotal, freeDriverSum float64
		uncapped := 0
		for i := range weights {
			if capped[i] {
				cappedTotal += maxWeight
			} else {
				freeDriverSum += drivers[i]
				uncapped++
			}
		}

		remaining := 1 - cappedTotal
		for i := range weights {
			switch {
			case capped[i]:
				weights[i] = maxWeight
			case freeDriverSum > 0:
				weights[i] = remaining * drivers[i] / freeDriverSum
			default:
				// Every remaining driver is zero: split the leftover mass
				// equally, otherwise the renormalization below would scale
				// the capped titles past the cap. Feasibility (n*cap >= 1)
				// guarantees remaining/uncapped stays within the cap.
				weights[i] = remaining / float64(uncapped)
			}
		}
	}

	// Renormalize so the sum is exactly 1 after cap/redistribution.
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return nil, fmt.Errorf("rebalance: weight sum collapsed to %v", sum)
	}
	for i := range weights {
		weights[i] /= sum
	}

	return weights, nil
}

func (e *Engine) driverValue(t domain.RankedTitle) float64 {
	if e.params.WeightDriver == domain.DriverEDRMean {
		return t.EDR7dMean
	}
	return t.Score
}

// validate enforces the membership invariants. A violation is a programming
// error and must fail loudly rather than be exported.
func (e *Engine) validate(membership []domain.MembershipRecord) error {
	if len(membership) == 0 {
		return nil
	}
	if len(membership) > e.params.ConstituentCount {
		return fmt.Errorf("rebalance invariant violated: %d constituents exceeds K=%d", len(membership), e.params.ConstituentCount)
	}

	// The cap is only enforceable when n*cap can reach 1; below that the
	// defined fallback is equal weights, which necessarily exceed the cap.
	maxWeight := e.params.WeightCap
	capEnforceable := float64(len(membership))*maxWeight >= 1-WeightTolerance

	var sum float64
	seen := make(map[int64]bool, len(membership))
	for i, m := range membership {
		if m.Rank != i+1 {
			return fmt.Errorf("rebalance invariant violated: rank sequence not dense at position %d (rank %d)", i, m.Rank)
		}
		if seen[m.UniverseID] {
			return fmt.Errorf("rebalance invariant violated: duplicate universe id %d", m.UniverseID)
		}
		if capEnforceable && m.Weight > maxWeight+WeightTolerance {
			return fmt.Errorf("rebalance invariant violated: weight %.12f for universe %d exceeds cap %v", m.Weight, m.UniverseID, maxWeight)
		}
		seen[m.UniverseID] = true
		sum += m.Weight
	}

	if math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("rebalance invariant violated: weights sum to %.12f", sum)
	}

	return nil
}

func sortByScore(titles []domain.RankedTitle) {
	sort.Slice(titles, func(i, j int) bool {
		if titles[i].Score != titles[j].Score {
			return titles[i].Score > titles[j].Score
		}
		return titles[i].UniverseID < titles[j].UniverseID
	})
}
