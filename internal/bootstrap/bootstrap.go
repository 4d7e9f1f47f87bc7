package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caldera-labs/retrieval-engine/internal/config"
	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
	"github.com/caldera-labs/retrieval-engine/internal/core/usecase"
	"github.com/caldera-labs/retrieval-engine/internal/infrastructure/cache/memtier"
	"github.com/caldera-labs/retrieval-engine/internal/infrastructure/embedding/ollama"
	natsqueue "github.com/caldera-labs/retrieval-engine/internal/infrastructure/queue/nats"
	"github.com/caldera-labs/retrieval-engine/internal/infrastructure/repository/postgres"
	"github.com/caldera-labs/retrieval-engine/internal/infrastructure/resilience"
	"github.com/caldera-labs/retrieval-engine/internal/infrastructure/vector/qdrant"
)

// App wires the engine together for both binaries. The api process serves
// queries and publishes invalidations; the sweeper consumes invalidations
// and purges expired cache entries.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Namespaces map[string]domain.NamespaceConfig

	Cache    *usecase.SemanticCache
	AnswerUC *usecase.AnswerUseCase
	Bus      *natsqueue.Bus

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, observer usecase.Observer) (*App, error) {
	namespaces, err := config.LoadNamespaces(cfg)
	if err != nil {
		return nil, fmt.Errorf("load namespaces: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	lexicalRepo := postgres.NewLexicalRepository(db)
	if err := lexicalRepo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure lexical schema: %w", err)
	}
	cacheRepo := postgres.NewCacheRepository(db)
	if err := cacheRepo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure cache schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)
	embedder := ollama.New(cfg.OllamaURL, executor)
	vectorIndex := qdrant.New(cfg.QdrantURL, cfg.QdrantCollectionPrefix, namespaces)

	bus, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init invalidation bus: %w", err)
	}

	fastTier := memtier.New(cfg.FastCacheSize, cfg.CacheTTL())
	cache := usecase.NewSemanticCache(fastTier, cacheRepo, embedder, usecase.SemanticCacheConfig{
		Thresholds: cfg.TierThresholds(),
		TTL:        cfg.CacheTTL(),
	}, logger, observer)

	answerUC := usecase.NewAnswerUseCase(cache, vectorIndex, lexicalRepo, embedder, namespaces, usecase.AnswerConfig{
		CandidateDepth: cfg.RetrievalCandidateDepth,
		TopN:           cfg.QueryTopN,
		MethodTimeout:  time.Duration(cfg.RetrievalTimeoutMS) * time.Millisecond,
		RRFK:           cfg.FusionRRFK,
		Weights: domain.FusionWeights{
			Dense:  cfg.FusionWeightDense,
			Sparse: cfg.FusionWeightSparse,
			Fuzzy:  cfg.FusionWeightFuzzy,
			Exact:  cfg.FusionWeightExact,
		},
		FuzzyMinSimilarity: cfg.FuzzyMinSimilarity,
	}, logger, observer)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Namespaces: namespaces,
		Cache:      cache,
		AnswerUC:   answerUC,
		Bus:        bus,

		closeFn: func() {
			bus.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
