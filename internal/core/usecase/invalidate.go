package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
	"github.com/caldera-labs/retrieval-engine/internal/core/ports"
)

// InvalidationService evicts cache entries locally and broadcasts the event
// so every other process drops its in-memory copies too.
type InvalidationService struct {
	cache  *SemanticCache
	bus    ports.InvalidationBus
	logger *slog.Logger
	now    func() time.Time
}

func NewInvalidationService(cache *SemanticCache, bus ports.InvalidationBus, logger *slog.Logger) *InvalidationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvalidationService{
		cache:  cache,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Invalidate evicts locally first. A failed broadcast is logged, not
// returned: the durable tier is already clean, and remote fast tiers
// self-heal through TTL expiry.
func (s *InvalidationService) Invalidate(ctx context.Context, namespace, pattern string) (int, error) {
	evicted, err := s.cache.Invalidate(ctx, namespace, pattern)
	if err != nil {
		return 0, err
	}

	if s.bus != nil {
		event := domain.InvalidationEvent{
			ID:        uuid.NewString(),
			Namespace: namespace,
			Pattern:   pattern,
			EmittedAt: s.now().UTC(),
		}
		if err := s.bus.PublishInvalidation(ctx, event); err != nil {
			s.logger.Warn("invalidation_broadcast_failed",
				"namespace", namespace,
				"pattern", pattern,
				"error", err,
			)
		}
	}
	return evicted, nil
}
