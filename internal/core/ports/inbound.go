package ports

import (
	"context"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

// QueryService is the inbound contract for answering a query: cache first,
// fused retrieval on a miss.
type QueryService interface {
	Answer(ctx context.Context, queryText, namespace string, opts domain.QueryOptions) (*domain.QueryResult, error)
}

// CacheInvalidator evicts cache entries affected by upstream content
// changes. Exposed to, but never invoked by, the query path.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, namespace, pattern string) (int, error)
}
