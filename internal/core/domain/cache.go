package domain

import "time"

// Tier is the confidence classification assigned to a cache lookup.
// It is a property of how a new query matched a stored entry, computed at
// lookup time; entries do not carry a tier.
type Tier string

const (
	TierExact  Tier = "exact"
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
	TierMiss   Tier = "miss"
)

// Hit reports whether the tier counts as a cache hit. LOW is telemetry only.
func (t Tier) Hit() bool {
	return t == TierExact || t == TierHigh || t == TierMedium
}

// CacheEntry is one stored query/result pair within a namespace.
type CacheEntry struct {
	Fingerprint string
	Namespace   string
	QueryText   string
	Embedding   []float32 // nil when the embedder was unavailable at store time
	Payload     []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports lazy expiry: an expired entry is logically absent even if
// still physically present in a tier.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// CacheNeighbor is a stored entry together with its cosine similarity to an
// incoming query embedding.
type CacheNeighbor struct {
	Entry      *CacheEntry
	Similarity float64
}

// CacheLookup is the outcome of a semantic cache lookup.
type CacheLookup struct {
	Hit         bool
	Tier        Tier
	Payload     []byte
	Similarity  float64
	Approximate bool
	// Embedding is the query embedding computed during the lookup, if any,
	// so a miss path can reuse it for the write-through store.
	Embedding []float32
}

// InvalidationEvent asks the cache to evict entries affected by an upstream
// content change.
type InvalidationEvent struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Pattern   string    `json:"pattern"`
	EmittedAt time.Time `json:"emitted_at"`
}

// TierThresholds are the cosine-similarity bands for approximate matches,
// closed at the lower bound and open at the upper bound.
type TierThresholds struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

func DefaultTierThresholds() TierThresholds {
	return TierThresholds{High: 0.98, Medium: 0.93, Low: 0.88}
}

// Classify maps a cosine similarity to a tier.
func (t TierThresholds) Classify(similarity float64) Tier {
	switch {
	case similarity >= t.High:
		return TierHigh
	case similarity >= t.Medium:
		return TierMedium
	case similarity >= t.Low:
		return TierLow
	default:
		return TierMiss
	}
}
