package domain

import "fmt"

// EDRParams are the coefficients of the EDR model.
type EDRParams struct {
	Alpha           float64 // DAU per concurrent player
	BaseRate        float64 // PCR base conversion rate
	Gamma           float64 // premium revenue coefficient
	PCRFloor        float64
	PCRCap          float64
	EngagementScale float64
	EngagementCap   float64
}

// DefaultEDRParams returns the model defaults.
func DefaultEDRParams() EDRParams {
	return EDRParams{
		Alpha:           20.0,
		BaseRate:        0.01,
		Gamma:           0.02,
		PCRFloor:        0.001,
		PCRCap:          0.05,
		EngagementScale: 50.0,
		EngagementCap:   1.5,
	}
}

// Validate checks the parameter set for internal consistency.
func (p EDRParams) Validate() error {
	positives := map[string]float64{
		"alpha":            p.Alpha,
		"base_rate":        p.BaseRate,
		"gamma":            p.Gamma,
		"pcr_floor":        p.PCRFloor,
		"pcr_cap":          p.PCRCap,
		"engagement_scale": p.EngagementScale,
		"engagement_cap":   p.EngagementCap,
	}
	for name, v := range positives {
		if v <= 0 {
			return fmt.Errorf("edr params: %s must be positive, got %v", name, v)
		}
	}
	if p.PCRFloor > p.PCRCap {
		return fmt.Errorf("edr params: pcr_floor (%v) must not exceed pcr_cap (%v)", p.PCRFloor, p.PCRCap)
	}
	return nil
}

// RollingParams control the trailing-window feature computation.
type RollingParams struct {
	MeanWindowDays int     // trailing window for edr_7d_mean and coverage
	VolWindowDays  int     // trailing window for edr_14d_vol
	MinCoverage    float64 // eligibility gate applied at rebalance
	ScoreStrategy  string  // registered scorer name
	TrendEMALength int     // EMA length for the edr_trend diagnostic
}

// DefaultRollingParams returns the standard 7/14-day windows.
func DefaultRollingParams() RollingParams {
	return RollingParams{
		MeanWindowDays: 7,
		VolWindowDays:  14,
		MinCoverage:    0.6,
		ScoreStrategy:  "coverage_adjusted",
		TrendEMALength: 5,
	}
}

// Validate checks window lengths and the coverage gate.
func (p RollingParams) Validate() error {
	if p.MeanWindowDays < 1 || p.VolWindowDays < 1 {
		return fmt.Errorf("rolling params: window lengths must be at least 1 day")
	}
	if p.MinCoverage < 0 || p.MinCoverage > 1 {
		return fmt.Errorf("rolling params: min_coverage must be within [0,1], got %v", p.MinCoverage)
	}
	return nil
}

// Weighting drivers accepted by RebalanceParams.
const (
	DriverScore   = "score"
	DriverEDRMean = "edr_7d_mean"
)

// RebalanceParams control constituent selection and weighting.
type RebalanceParams struct {
	ConstituentCount int     // K
	WeightCap        float64 // per-title maximum weight
	HysteresisBand   int     // rank positions past K within which incumbents are retained
	WeightDriver     string  // DriverScore or DriverEDRMean
}

// DefaultRebalanceParams returns the RTE100 defaults.
func DefaultRebalanceParams() RebalanceParams {
	return RebalanceParams{
		ConstituentCount: 100,
		WeightCap:        0.10,
		HysteresisBand:   5,
		WeightDriver:     DriverScore,
	}
}

// Validate checks selection and weighting parameters.
func (p RebalanceParams) Validate() error {
	if p.ConstituentCount < 1 {
		return fmt.Errorf("rebalance params: constituent_count must be at least 1")
	}
	if p.WeightCap <= 0 || p.WeightCap > 1 {
		return fmt.Errorf("rebalance params: weight_cap must be within (0,1], got %v", p.WeightCap)
	}
	if p.HysteresisBand < 0 {
		return fmt.Errorf("rebalance params: hysteresis_band must not be negative")
	}
	if p.WeightDriver != DriverScore && p.WeightDriver != DriverEDRMean {
		return fmt.Errorf("rebalance params: unknown weight_driver %q", p.WeightDriver)
	}
	return nil
}

// IndexParams control the chain-linked level series.
type IndexParams struct {
	BaseLevel float64 // level at the first defined membership date
	Epsilon   float64 // guard added to return denominators
}

// DefaultIndexParams returns the published-series defaults.
func DefaultIndexParams() IndexParams {
	return IndexParams{
		BaseLevel: 1000.0,
		Epsilon:   1.0,
	}
}

// Validate checks the level series parameters.
func (p IndexParams) Validate() error {
	if p.BaseLevel <= 0 {
		return fmt.Errorf("index params: base_level must be positive")
	}
	if p.Epsilon <= 0 {
		return fmt.Errorf("index params: epsilon must be positive")
	}
	return nil
}
