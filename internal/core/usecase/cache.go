package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
	"github.com/caldera-labs/retrieval-engine/internal/core/ports"
)

// SemanticCache answers repeated queries from two storage tiers: exact
// fingerprint matches first, then the single nearest stored query by
// embedding cosine similarity, classified into confidence bands.
//
// Tier failures degrade to a miss, embedder failures degrade the lookup to
// exact-match-only. The cache never blocks answering a query.
type SemanticCache struct {
	fast     ports.CacheTier
	durable  ports.CacheTier
	embedder ports.Embedder

	cfg      SemanticCacheConfig
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

type SemanticCacheConfig struct {
	Thresholds domain.TierThresholds
	TTL        time.Duration
}

func NewSemanticCache(
	fast ports.CacheTier,
	durable ports.CacheTier,
	embedder ports.Embedder,
	cfg SemanticCacheConfig,
	logger *slog.Logger,
	observer Observer,
) *SemanticCache {
	if cfg.Thresholds == (domain.TierThresholds{}) {
		cfg.Thresholds = domain.DefaultTierThresholds()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &SemanticCache{
		fast:     fast,
		durable:  durable,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		now:      time.Now,
	}
}

// Lookup resolves queryText against the cache. It never returns an error:
// every failure mode maps to a (possibly degraded) miss.
func (c *SemanticCache) Lookup(ctx context.Context, ns domain.NamespaceConfig, queryText string) *domain.CacheLookup {
	fingerprint := domain.QueryFingerprint(queryText)
	now := c.now()

	// Fastest path: exact fingerprint, fast tier before durable tier.
	if entry := c.getExact(ctx, c.fast, "fast", ns.Name, fingerprint, now); entry != nil {
		c.observer.CacheLookup(ns.Name, domain.TierExact)
		return &domain.CacheLookup{Hit: true, Tier: domain.TierExact, Payload: entry.Payload, Similarity: 1}
	}
	if entry := c.getExact(ctx, c.durable, "durable", ns.Name, fingerprint, now); entry != nil {
		if err := c.fast.Put(ctx, entry); err != nil {
			c.logger.Warn("cache_fast_backfill_failed", "namespace", ns.Name, "error", err)
		}
		c.observer.CacheLookup(ns.Name, domain.TierExact)
		return &domain.CacheLookup{Hit: true, Tier: domain.TierExact, Payload: entry.Payload, Similarity: 1}
	}

	embedding, err := c.embedder.EmbedQuery(ctx, ns.Model, queryText)
	if err != nil {
		// Exact-match-only degradation: the query proceeds as a miss.
		c.logger.Warn("cache_embed_unavailable", "namespace", ns.Name, "error", err)
		c.observer.CacheLookup(ns.Name, domain.TierMiss)
		return &domain.CacheLookup{Tier: domain.TierMiss}
	}

	best := c.nearest(ctx, ns.Name, embedding, now)
	if best == nil {
		c.observer.CacheLookup(ns.Name, domain.TierMiss)
		return &domain.CacheLookup{Tier: domain.TierMiss, Embedding: embedding}
	}

	tier := ns.TierThresholds(c.cfg.Thresholds).Classify(best.Similarity)
	c.observer.CacheLookup(ns.Name, tier)
	switch tier {
	case domain.TierHigh:
		return &domain.CacheLookup{
			Hit:        true,
			Tier:       tier,
			Payload:    best.Entry.Payload,
			Similarity: best.Similarity,
			Embedding:  embedding,
		}
	case domain.TierMedium:
		// A hit, but flagged so downstream consumers may re-verify.
		return &domain.CacheLookup{
			Hit:         true,
			Tier:        tier,
			Payload:     best.Entry.Payload,
			Similarity:  best.Similarity,
			Approximate: true,
			Embedding:   embedding,
		}
	case domain.TierLow:
		// Near-miss telemetry only; the caller proceeds as a miss.
		c.observer.CacheNearMiss(ns.Name, best.Similarity)
		return &domain.CacheLookup{Tier: tier, Similarity: best.Similarity, Embedding: embedding}
	default:
		return &domain.CacheLookup{Tier: domain.TierMiss, Similarity: best.Similarity, Embedding: embedding}
	}
}

// Store writes the fused payload through both tiers, fast tier strictly
// first so a concurrent lookup arriving after Store returns observes at
// least the fast-tier copy. A nil embedding stores an exact-only entry.
func (c *SemanticCache) Store(ctx context.Context, ns domain.NamespaceConfig, queryText string, embedding []float32, payload []byte) error {
	now := c.now()
	entry := &domain.CacheEntry{
		Fingerprint: domain.QueryFingerprint(queryText),
		Namespace:   ns.Name,
		QueryText:   domain.NormalizeQuery(queryText),
		Embedding:   embedding,
		Payload:     payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ns.CacheTTL(c.cfg.TTL)),
	}

	fastErr := c.fast.Put(ctx, entry)
	if fastErr != nil {
		c.logger.Warn("cache_fast_store_failed", "namespace", ns.Name, "error", fastErr)
	}
	durableErr := c.durable.Put(ctx, entry)
	if durableErr != nil {
		c.logger.Warn("cache_durable_store_failed", "namespace", ns.Name, "error", durableErr)
	}

	if fastErr != nil && durableErr != nil {
		c.observer.CacheStore(ns.Name, "error")
		return domain.WrapError(domain.ErrCacheUnavailable, "cache store", errors.Join(fastErr, durableErr))
	}
	c.observer.CacheStore(ns.Name, "ok")
	return nil
}

// Invalidate evicts matching entries from both tiers and reports how many
// were removed. Fired by ingestion when source content changes.
func (c *SemanticCache) Invalidate(ctx context.Context, namespace, pattern string) (int, error) {
	fastCount, fastErr := c.fast.Invalidate(ctx, namespace, pattern)
	if fastErr != nil {
		c.logger.Warn("cache_fast_invalidate_failed", "namespace", namespace, "error", fastErr)
	}
	durableCount, durableErr := c.durable.Invalidate(ctx, namespace, pattern)
	if durableErr != nil {
		c.logger.Warn("cache_durable_invalidate_failed", "namespace", namespace, "error", durableErr)
	}

	if fastErr != nil && durableErr != nil {
		return 0, domain.WrapError(domain.ErrCacheUnavailable, "cache invalidate", errors.Join(fastErr, durableErr))
	}
	return fastCount + durableCount, nil
}

// PurgeExpired physically removes expired entries from both tiers. Lookup
// correctness never depends on it running.
func (c *SemanticCache) PurgeExpired(ctx context.Context) (int, error) {
	now := c.now()
	fastCount, fastErr := c.fast.PurgeExpired(ctx, now)
	durableCount, durableErr := c.durable.PurgeExpired(ctx, now)
	if fastErr != nil || durableErr != nil {
		return fastCount + durableCount, errors.Join(fastErr, durableErr)
	}
	return fastCount + durableCount, nil
}

func (c *SemanticCache) getExact(ctx context.Context, tier ports.CacheTier, tierName, namespace, fingerprint string, now time.Time) *domain.CacheEntry {
	entry, err := tier.GetExact(ctx, namespace, fingerprint, now)
	if err != nil {
		c.logger.Warn("cache_tier_degraded", "tier", tierName, "namespace", namespace, "error", err)
		return nil
	}
	if entry == nil || entry.Expired(now) {
		return nil
	}
	return entry
}

func (c *SemanticCache) nearest(ctx context.Context, namespace string, embedding []float32, now time.Time) *domain.CacheNeighbor {
	var best *domain.CacheNeighbor
	for tierName, tier := range map[string]ports.CacheTier{"fast": c.fast, "durable": c.durable} {
		neighbor, err := tier.Nearest(ctx, namespace, embedding, now)
		if err != nil {
			c.logger.Warn("cache_tier_degraded", "tier", tierName, "namespace", namespace, "error", err)
			continue
		}
		if neighbor == nil || neighbor.Entry == nil || neighbor.Entry.Expired(now) {
			continue
		}
		if best == nil || neighbor.Similarity > best.Similarity {
			best = neighbor
		}
	}
	return best
}
