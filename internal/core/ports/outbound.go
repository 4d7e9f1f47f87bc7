package ports

import (
	"context"
	"time"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

// VectorIndex performs approximate nearest-neighbor cosine search over
// content embeddings. Read-only from the engine's perspective; index
// maintenance belongs to the ingestion collaborator.
type VectorIndex interface {
	Search(ctx context.Context, namespace string, queryVector []float32, topK int, filter domain.SearchFilter) ([]domain.RankedCandidate, error)
}

// LexicalIndex ranks documents by full-text relevance and additionally
// exposes a trigram fuzzy mode and an exact-substring mode over the same
// storage.
type LexicalIndex interface {
	Search(ctx context.Context, namespace, queryText string, topK int, filter domain.SearchFilter) ([]domain.RankedCandidate, error)
	FuzzySearch(ctx context.Context, namespace, queryText string, topK int, minSimilarity float64) ([]domain.RankedCandidate, error)
	ExactSearch(ctx context.Context, namespace, queryText string, topK int) ([]domain.RankedCandidate, error)
}

// Embedder is the black-box embed(text, model) function. Deterministic for
// an identical input/model pair; cache fingerprint stability depends on it.
type Embedder interface {
	EmbedQuery(ctx context.Context, model, text string) ([]float32, error)
}

// CacheTier is one storage level of the semantic cache. The fast in-memory
// tier and the durable tier both implement it; the write-through and
// lookup-order discipline lives in the usecase, not here.
//
// GetExact and Nearest must treat entries with expires_at <= now as absent
// regardless of physical deletion timing.
type CacheTier interface {
	GetExact(ctx context.Context, namespace, fingerprint string, now time.Time) (*domain.CacheEntry, error)
	Nearest(ctx context.Context, namespace string, embedding []float32, now time.Time) (*domain.CacheNeighbor, error)
	Put(ctx context.Context, entry *domain.CacheEntry) error
	Invalidate(ctx context.Context, namespace, pattern string) (int, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// InvalidationBus carries cache invalidation events emitted by ingestion
// when source content changes.
type InvalidationBus interface {
	PublishInvalidation(ctx context.Context, event domain.InvalidationEvent) error
	SubscribeInvalidation(ctx context.Context, handler func(context.Context, domain.InvalidationEvent) error) error
}
