package abtest

import (
	"fmt"
	"strings"
)

// HashAlgorithm selects the bucketing hash.
type HashAlgorithm string

const (
	// HashFNV1a is 32-bit FNV-1a over the UTF-8 bytes of the identifier.
	HashFNV1a HashAlgorithm = "fnv1a"

	// HashLegacy is the shift-and-subtract string hash over UTF-16 code units,
	// kept so existing bucket assignments can be reproduced. Deployments that
	// share buckets with other implementations must set hash_algorithm: legacy;
	// fnv1a buckets differ.
	HashLegacy HashAlgorithm = "legacy"
)

// Config controls the experiment.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// PlanAPercentage is the share of identifiers routed to Plan A (0-100).
	PlanAPercentage int `yaml:"plan_a_percentage" json:"planAPercentage"`

	// PlanBPercentage is derived as 100 - PlanAPercentage when omitted.
	PlanBPercentage int `yaml:"plan_b_percentage" json:"planBPercentage"`

	// MinSampleSize is the minimum executions per plan before analysis.
	MinSampleSize int `yaml:"min_sample_size" json:"minSampleSize"`

	// MaxExecutionTimeMs is advisory; slower results are flagged, never cancelled.
	MaxExecutionTimeMs int `yaml:"max_execution_time_ms" json:"maxExecutionTimeMs"`

	CollectMetrics bool `yaml:"collect_metrics" json:"collectMetrics"`
	LogResults     bool `yaml:"log_results" json:"logResults"`

	// HashAlgorithm defaults to fnv1a. Use legacy for bucket parity with
	// existing assignments.
	HashAlgorithm HashAlgorithm `yaml:"hash_algorithm" json:"hashAlgorithm"`

	// ErrorHistoryLimit caps the per-plan error list. 0 keeps every error.
	ErrorHistoryLimit int `yaml:"error_history_limit" json:"errorHistoryLimit"`
}

// DefaultConfig returns the configuration used when none is provided.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		PlanAPercentage:    50,
		PlanBPercentage:    50,
		MinSampleSize:      100,
		MaxExecutionTimeMs: 30000,
		CollectMetrics:     true,
		LogResults:         true,
		HashAlgorithm:      HashFNV1a,
		ErrorHistoryLimit:  1000,
	}
}

// ApplyDefaults fills derived and omitted fields.
func (c *Config) ApplyDefaults() {
	if c.PlanBPercentage == 0 && c.PlanAPercentage < 100 {
		c.PlanBPercentage = 100 - c.PlanAPercentage
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = HashFNV1a
	}
	c.HashAlgorithm = HashAlgorithm(strings.ToLower(strings.TrimSpace(string(c.HashAlgorithm))))
}

// Validate returns a configuration error when the split is not well formed.
func (c Config) Validate() error {
	if c.PlanAPercentage < 0 || c.PlanAPercentage > 100 {
		return ErrConfiguration(fmt.Sprintf("plan_a_percentage must be between 0 and 100, got %d", c.PlanAPercentage))
	}
	if c.PlanBPercentage < 0 || c.PlanBPercentage > 100 {
		return ErrConfiguration(fmt.Sprintf("plan_b_percentage must be between 0 and 100, got %d", c.PlanBPercentage))
	}
	if c.PlanAPercentage+c.PlanBPercentage != 100 {
		return ErrConfiguration(fmt.Sprintf("plan percentages must sum to 100, got %d + %d",
			c.PlanAPercentage, c.PlanBPercentage))
	}
	if c.MinSampleSize < 1 {
		return ErrConfiguration(fmt.Sprintf("min_sample_size must be at least 1, got %d", c.MinSampleSize))
	}
	if c.MaxExecutionTimeMs < 0 {
		return ErrConfiguration("max_execution_time_ms must not be negative")
	}
	if c.ErrorHistoryLimit < 0 {
		return ErrConfiguration("error_history_limit must not be negative")
	}
	switch c.HashAlgorithm {
	case HashFNV1a, HashLegacy:
	default:
		return ErrConfiguration(fmt.Sprintf("unknown hash_algorithm %q", c.HashAlgorithm))
	}
	return nil
}
