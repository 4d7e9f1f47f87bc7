package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

type namespacesFile struct {
	Namespaces []domain.NamespaceConfig `yaml:"namespaces"`
}

// LoadNamespaces reads the namespace registry from the YAML file named by
// cfg.NamespacesFile. Without a file the engine runs with one "default"
// namespace assembled from the env config.
func LoadNamespaces(cfg Config) (map[string]domain.NamespaceConfig, error) {
	if cfg.NamespacesFile == "" {
		return map[string]domain.NamespaceConfig{
			"default": {
				Name:            "default",
				Model:           cfg.OllamaEmbedModel,
				Dimensions:      cfg.EmbeddingDimensions,
				CacheTTLSeconds: cfg.CacheTTLSeconds,
			},
		}, nil
	}

	raw, err := os.ReadFile(cfg.NamespacesFile)
	if err != nil {
		return nil, fmt.Errorf("read namespaces file: %w", err)
	}

	var file namespacesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse namespaces file: %w", err)
	}
	if len(file.Namespaces) == 0 {
		return nil, fmt.Errorf("namespaces file %q declares no namespaces", cfg.NamespacesFile)
	}

	out := make(map[string]domain.NamespaceConfig, len(file.Namespaces))
	for _, ns := range file.Namespaces {
		if ns.Name == "" {
			return nil, fmt.Errorf("namespaces file %q contains a namespace without a name", cfg.NamespacesFile)
		}
		if _, exists := out[ns.Name]; exists {
			return nil, fmt.Errorf("duplicate namespace %q", ns.Name)
		}
		if ns.Model == "" {
			ns.Model = cfg.OllamaEmbedModel
		}
		if ns.Dimensions <= 0 {
			ns.Dimensions = cfg.EmbeddingDimensions
		}
		if ns.Thresholds != nil {
			if err := validateThresholds(ns.Name, *ns.Thresholds); err != nil {
				return nil, err
			}
		}
		out[ns.Name] = ns
	}
	return out, nil
}

func validateThresholds(namespace string, t domain.TierThresholds) error {
	if !(t.High > t.Medium && t.Medium > t.Low && t.Low > 0 && t.High <= 1) {
		return fmt.Errorf("namespace %q: thresholds must satisfy 0 < low < medium < high <= 1", namespace)
	}
	return nil
}

// TierThresholds assembles the global thresholds from env config.
func (c Config) TierThresholds() domain.TierThresholds {
	return domain.TierThresholds{
		High:   c.CacheTierHigh,
		Medium: c.CacheTierMedium,
		Low:    c.CacheTierLow,
	}
}

// CacheTTL returns the global cache TTL.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
