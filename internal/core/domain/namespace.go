package domain

import "time"

// NamespaceConfig declares one logical partition: which embedding model
// indexes it, that model's dimensionality, and optional cache overrides.
type NamespaceConfig struct {
	Name       string `yaml:"name"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`

	// CacheTTLSeconds overrides the engine-wide cache TTL when > 0.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	// Thresholds overrides the engine-wide similarity bands when non-nil.
	Thresholds *TierThresholds `yaml:"thresholds"`
}

func (n NamespaceConfig) CacheTTL(fallback time.Duration) time.Duration {
	if n.CacheTTLSeconds > 0 {
		return time.Duration(n.CacheTTLSeconds) * time.Second
	}
	return fallback
}

func (n NamespaceConfig) TierThresholds(fallback TierThresholds) TierThresholds {
	if n.Thresholds != nil {
		return *n.Thresholds
	}
	return fallback
}
