// Package edr implements the estimated-daily-revenue model: a row-wise pure
// transform from canonical title records to enriched snapshots. No cross-row
// or cross-day state.
package edr

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/domain"
	"github.com/rte-labs/rte100/pkg/formulas"
)

// Estimator computes EDR snapshots from title records.
type Estimator struct {
	params domain.EDRParams
	log    zerolog.Logger
}

// NewEstimator creates an estimator with validated parameters.
func NewEstimator(params domain.EDRParams, log zerolog.Logger) (*Estimator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{
		params: params,
		log:    log.With().Str("service", "edr").Logger(),
	}, nil
}

// EstimateDay transforms one day's records into snapshots. Deterministic and
// side-effect free: re-running on identical input yields identical output.
func (e *Estimator) EstimateDay(date time.Time, records []domain.TitleRecord) []domain.Snapshot {
	snapshots := make([]domain.Snapshot, 0, len(records))
	for _, rec := range records {
		snapshots = append(snapshots, e.estimate(date, rec))
	}
	return snapshots
}

func (e *Estimator) estimate(date time.Time, rec domain.TitleRecord) domain.Snapshot {
	p := e.params

	avgCCU := math.Max(resolveAvgCCU(rec), 0)
	monetizationCount := resolveMonetizationCount(rec)
	prices := collectPrices(rec)

	medianPrice := formulas.Median(prices)
	priceDispersion := formulas.CoefficientOfVariation(prices)

	engagement := clip(0.5*(safeRate(rec.Favorites, rec.Visits)+safeRate(rec.Likes, rec.Visits))*p.EngagementScale, 0, p.EngagementCap)

	dauEst := math.Max(p.Alpha*avgCCU, 0)

	// The lower clip always applies: zero-monetization titles receive the
	// floor conversion rate. Intentional baseline-probability policy.
	pcr := clip(p.BaseRate*math.Log(1+math.Max(monetizationCount, 0)), p.PCRFloor, p.PCRCap)

	aspu := math.Max(medianPrice*(1+priceDispersion), 0)

	spendRevenue := dauEst * pcr * aspu
	premiumRevenue := p.Gamma * dauEst * engagement
	edrRaw := math.Max(spendRevenue+premiumRevenue, 0)

	return domain.Snapshot{
		UniverseID:   rec.UniverseID,
		SnapshotDate: date,
		Name:         rec.Name,
		Developer:    rec.Developer,

		AvgCCU:            avgCCU,
		Visits:            rec.Visits,
		Favorites:         rec.Favorites,
		Likes:             rec.Likes,
		MonetizationCount: monetizationCount,
		MedianPrice:       medianPrice,
		PriceDispersion:   priceDispersion,

		EngagementScore: engagement,
		DAUEst:          dauEst,
		PCR:             pcr,
		ASPU:            aspu,
		SpendRevenue:    spendRevenue,
		PremiumRevenue:  premiumRevenue,
		EDRRaw:          edrRaw,
	}
}

// resolveAvgCCU picks the first available player-count field, missing -> 0.
func resolveAvgCCU(rec domain.TitleRecord) float64 {
	for _, v := range []*float64{rec.AvgCCU, rec.Players, rec.Playing, rec.CCU, rec.ConcurrentPlayers} {
		if v != nil {
			return *v
		}
	}
	return 0
}

// resolveMonetizationCount prefers the explicit count, then the numeric
// pass/product counts, then the combined catalog list sizes.
func resolveMonetizationCount(rec domain.TitleRecord) float64 {
	if rec.MonetizationCount != nil {
		return *rec.MonetizationCount
	}
	if rec.NumGamepasses != nil || rec.NumDevproducts != nil {
		var total float64
		if rec.NumGamepasses != nil {
			total += *rec.NumGamepasses
		}
		if rec.NumDevproducts != nil {
			total += *rec.NumDevproducts
		}
		return total
	}
	return float64(len(rec.GamePasses) + len(rec.DevProducts))
}

// collectPrices gathers numeric prices from both catalog lists. Entries
// without a parseable price are skipped, not fatal.
func collectPrices(rec domain.TitleRecord) []float64 {
	prices := make([]float64, 0, len(rec.GamePasses)+len(rec.DevProducts))
	for _, item := range rec.GamePasses {
		if item.Price != nil {
			prices = append(prices, *item.Price)
		}
	}
	for _, item := range rec.DevProducts {
		if item.Price != nil {
			prices = append(prices, *item.Price)
		}
	}
	return prices
}

// safeRate divides numerator by denominator, returning 0 on a zero
// denominator rather than NaN.
func safeRate(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
