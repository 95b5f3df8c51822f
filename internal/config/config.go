// Package config loads and validates tuning configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// HealthWeights weight the three health sub-scores. They are configuration,
// not constants: the defaults mirror the historically used 0.4/0.4/0.2 split
// but carry no claim of optimality.
type HealthWeights struct {
	Engagement float64
	Conversion float64
	Stability  float64
}

// Config holds every recognized tuning option with its default.
type Config struct {
	// Storage.
	DBPath string

	// Experiment evaluation.
	SignificanceThreshold    float64       // p-value bar for declaring a winner
	MinSampleSize            int64         // impressions required per variant
	MaxTestDuration          time.Duration // active experiments complete inconclusive after this
	MaxConcurrentExperiments int

	// Trend analysis.
	AnomalyStdDevThreshold float64 // |z| above which a point is anomalous
	AnomalyWindow          int     // trailing points considered
	TrendFlatThreshold     float64 // normalized slope magnitude below this is "flat"

	// Advisor.
	MinProposalConfidence float64 // proposals below this are discarded

	// Coordinator.
	AutoApplyFloor    float64 // confidence at or above which proposals auto-apply
	MaxAutoApplies    int     // blast-radius bound per cycle
	ApplyTimeout      time.Duration
	RetryBackoff      time.Duration
	BaselineSnapshots int // rolling baseline length for health sub-scores
	HealthWeights     HealthWeights

	// Server.
	Port int

	// Operational.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		DBPath:                   envStr("TL_DB_PATH", "./tuneloop.db"),
		SignificanceThreshold:    envFloat("TL_SIGNIFICANCE_THRESHOLD", 0.05),
		MinSampleSize:            int64(envInt("TL_MIN_SAMPLE_SIZE", 100)),
		MaxTestDuration:          envDuration("TL_MAX_TEST_DURATION", 7*24*time.Hour),
		MaxConcurrentExperiments: envInt("TL_MAX_CONCURRENT_EXPERIMENTS", 5),
		AnomalyStdDevThreshold:   envFloat("TL_ANOMALY_STDDEV_THRESHOLD", 2.0),
		AnomalyWindow:            envInt("TL_ANOMALY_WINDOW", 30),
		TrendFlatThreshold:       envFloat("TL_TREND_FLAT_THRESHOLD", 0.01),
		MinProposalConfidence:    envFloat("TL_MIN_PROPOSAL_CONFIDENCE", 0.5),
		AutoApplyFloor:           envFloat("TL_AUTO_APPLY_FLOOR", 0.85),
		MaxAutoApplies:           envInt("TL_MAX_AUTO_APPLIES", 5),
		ApplyTimeout:             envDuration("TL_APPLY_TIMEOUT", 10*time.Second),
		RetryBackoff:             envDuration("TL_RETRY_BACKOFF", 2*time.Second),
		BaselineSnapshots:        envInt("TL_BASELINE_SNAPSHOTS", 7),
		HealthWeights: HealthWeights{
			Engagement: envFloat("TL_HEALTH_WEIGHT_ENGAGEMENT", 0.4),
			Conversion: envFloat("TL_HEALTH_WEIGHT_CONVERSION", 0.4),
			Stability:  envFloat("TL_HEALTH_WEIGHT_STABILITY", 0.2),
		},
		Port:     envInt("TL_PORT", 8080),
		LogLevel: envStr("TL_LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SignificanceThreshold <= 0 || c.SignificanceThreshold >= 1 {
		return fmt.Errorf("TL_SIGNIFICANCE_THRESHOLD must be in (0,1), got %v", c.SignificanceThreshold)
	}
	if c.MinSampleSize < 1 {
		return fmt.Errorf("TL_MIN_SAMPLE_SIZE must be positive, got %d", c.MinSampleSize)
	}
	if c.MaxConcurrentExperiments < 1 {
		return fmt.Errorf("TL_MAX_CONCURRENT_EXPERIMENTS must be positive, got %d", c.MaxConcurrentExperiments)
	}
	if c.AutoApplyFloor < 0 || c.AutoApplyFloor > 1 {
		return fmt.Errorf("TL_AUTO_APPLY_FLOOR must be in [0,1], got %v", c.AutoApplyFloor)
	}
	if c.MinProposalConfidence < 0 || c.MinProposalConfidence > 1 {
		return fmt.Errorf("TL_MIN_PROPOSAL_CONFIDENCE must be in [0,1], got %v", c.MinProposalConfidence)
	}
	w := c.HealthWeights
	sum := w.Engagement + w.Conversion + w.Stability
	if sum <= 0 {
		return fmt.Errorf("health score weights must sum to a positive value, got %v", sum)
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
