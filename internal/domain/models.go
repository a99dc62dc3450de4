// Package domain contains the core types of the RTE100 index engine.
// The domain layer is pure: no infrastructure dependencies.
package domain

import "time"

// DateLayout is the canonical date format used across tables and exports.
const DateLayout = "2006-01-02"

// CatalogItem is a single monetization catalog entry (game pass or developer
// product). Price is nil when the entry carries no parseable price.
type CatalogItem struct {
	Price *float64
}

// TitleRecord is the canonical per-title record produced by the loader for a
// single run day. Pointer fields distinguish "absent in the raw payload" from
// an explicit zero; the estimator resolves the fallbacks.
type TitleRecord struct {
	UniverseID int64
	Name       string
	Developer  string

	// Player-count source fields, first available wins.
	AvgCCU            *float64
	Players           *float64
	Playing           *float64
	CCU               *float64
	ConcurrentPlayers *float64

	Visits    float64
	Favorites float64
	Likes     float64

	// Monetization fields. MonetizationCount wins when present, then the
	// numeric pass/product counts, then the catalog list sizes.
	MonetizationCount *float64
	NumGamepasses     *float64
	NumDevproducts    *float64
	GamePasses        []CatalogItem
	DevProducts       []CatalogItem
}

// Snapshot is one title's enriched record for one day. Recomputing a day
// fully replaces the prior snapshot for the same (UniverseID, SnapshotDate).
type Snapshot struct {
	UniverseID   int64
	SnapshotDate time.Time
	Name         string
	Developer    string

	AvgCCU            float64
	Visits            float64
	Favorites         float64
	Likes             float64
	MonetizationCount float64
	MedianPrice       float64
	PriceDispersion   float64

	EngagementScore float64
	DAUEst          float64
	PCR             float64
	ASPU            float64
	SpendRevenue    float64
	PremiumRevenue  float64
	EDRRaw          float64
}

// FeatureRow is one title's trailing-window statistics as of a date.
// EDRMom and EDR14dVol are nil when undefined: a nil momentum means the prior
// window was zero while the current one is not, a nil volatility means fewer
// than two observations. Missing is not zero.
type FeatureRow struct {
	UniverseID int64
	AsOfDate   time.Time

	EDR7dMean  float64
	EDRMom     *float64
	EDR14dVol  *float64
	Coverage7d float64
	EDRTrend   *float64

	Score float64
}

// RankedTitle is a feature row annotated with the eligibility decision, as
// published in the ranked-universe export.
type RankedTitle struct {
	FeatureRow
	Eligible bool
}

// MembershipRecord is one constituent of the index at one rebalance date.
// Membership history is append-only.
type MembershipRecord struct {
	RebalanceDate time.Time
	UniverseID    int64
	Rank          int
	Weight        float64
}

// IndexLevelPoint is one point of the chain-linked index level series.
type IndexLevelPoint struct {
	Date  time.Time
	Level float64
}
