// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/rte-labs/rte100/internal/domain"
)

// Config holds application configuration
type Config struct {
	DataDir    string // Base directory for databases and exports (always absolute)
	RunsDir    string // Directory holding runs/YYYY-MM-DD/pruned/*.json
	ExportsDir string // Derived: DataDir/exports
	LogLevel   string
	Port       int
	DevMode    bool

	EDR       domain.EDRParams
	Rolling   domain.RollingParams
	Rebalance domain.RebalanceParams
	Index     domain.IndexParams
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RTE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./index_data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	edr := domain.DefaultEDRParams()
	edr.Alpha = getEnvAsFloat("EDR_ALPHA", edr.Alpha)
	edr.BaseRate = getEnvAsFloat("EDR_BASE_RATE", edr.BaseRate)
	edr.Gamma = getEnvAsFloat("EDR_GAMMA", edr.Gamma)
	edr.PCRFloor = getEnvAsFloat("EDR_PCR_FLOOR", edr.PCRFloor)
	edr.PCRCap = getEnvAsFloat("EDR_PCR_CAP", edr.PCRCap)
	edr.EngagementScale = getEnvAsFloat("EDR_ENGAGEMENT_SCALE", edr.EngagementScale)
	edr.EngagementCap = getEnvAsFloat("EDR_ENGAGEMENT_CAP", edr.EngagementCap)

	rolling := domain.DefaultRollingParams()
	rolling.MeanWindowDays = getEnvAsInt("ROLLING_MEAN_WINDOW_DAYS", rolling.MeanWindowDays)
	rolling.VolWindowDays = getEnvAsInt("ROLLING_VOL_WINDOW_DAYS", rolling.VolWindowDays)
	rolling.MinCoverage = getEnvAsFloat("ROLLING_MIN_COVERAGE", rolling.MinCoverage)
	rolling.ScoreStrategy = getEnv("ROLLING_SCORE_STRATEGY", rolling.ScoreStrategy)
	rolling.TrendEMALength = getEnvAsInt("ROLLING_TREND_EMA_LENGTH", rolling.TrendEMALength)

	rebalance := domain.DefaultRebalanceParams()
	rebalance.ConstituentCount = getEnvAsInt("REBALANCE_CONSTITUENT_COUNT", rebalance.ConstituentCount)
	rebalance.WeightCap = getEnvAsFloat("REBALANCE_WEIGHT_CAP", rebalance.WeightCap)
	rebalance.HysteresisBand = getEnvAsInt("REBALANCE_HYSTERESIS_BAND", rebalance.HysteresisBand)
	rebalance.WeightDriver = getEnv("REBALANCE_WEIGHT_DRIVER", rebalance.WeightDriver)

	index := domain.DefaultIndexParams()
	index.BaseLevel = getEnvAsFloat("INDEX_BASE_LEVEL", index.BaseLevel)
	index.Epsilon = getEnvAsFloat("INDEX_EPSILON", index.Epsilon)

	cfg := &Config{
		DataDir:    absDataDir,
		RunsDir:    getEnv("RTE_RUNS_DIR", "runs"),
		ExportsDir: filepath.Join(absDataDir, "exports"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Port:       getEnvAsInt("RTE_PORT", 8010),
		DevMode:    getEnvAsBool("DEV_MODE", false),
		EDR:        edr,
		Rolling:    rolling,
		Rebalance:  rebalance,
		Index:      index,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks all parameter sets for consistency
func (c *Config) Validate() error {
	if err := c.EDR.Validate(); err != nil {
		return err
	}
	if err := c.Rolling.Validate(); err != nil {
		return err
	}
	if err := c.Rebalance.Validate(); err != nil {
		return err
	}
	if err := c.Index.Validate(); err != nil {
		return err
	}
	return nil
}

// DatabasePath returns the path of a named database file inside DataDir
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
