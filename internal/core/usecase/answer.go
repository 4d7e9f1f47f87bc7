package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
	"github.com/caldera-labs/retrieval-engine/internal/core/ports"
)

// AnswerUseCase is the query orchestrator: cache lookup first, then a
// concurrent four-way retrieval fan-out fused with weighted RRF, then a
// write-through cache store.
type AnswerUseCase struct {
	cache      *SemanticCache
	vector     ports.VectorIndex
	lexical    ports.LexicalIndex
	embedder   ports.Embedder
	namespaces map[string]domain.NamespaceConfig

	cfg      AnswerConfig
	logger   *slog.Logger
	observer Observer
}

type AnswerConfig struct {
	// CandidateDepth is the per-method list depth requested before fusion.
	// Fusion itself always runs over the full union of what came back.
	CandidateDepth     int
	TopN               int
	MethodTimeout      time.Duration
	RRFK               int
	Weights            domain.FusionWeights
	FuzzyMinSimilarity float64
}

func NewAnswerUseCase(
	cache *SemanticCache,
	vector ports.VectorIndex,
	lexical ports.LexicalIndex,
	embedder ports.Embedder,
	namespaces map[string]domain.NamespaceConfig,
	cfg AnswerConfig,
	logger *slog.Logger,
	observer Observer,
) *AnswerUseCase {
	if cfg.CandidateDepth <= 0 {
		cfg.CandidateDepth = 30
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.MethodTimeout <= 0 {
		cfg.MethodTimeout = 2 * time.Second
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = defaultRRFK
	}
	if cfg.FuzzyMinSimilarity <= 0 {
		cfg.FuzzyMinSimilarity = 0.3
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &AnswerUseCase{
		cache:      cache,
		vector:     vector,
		lexical:    lexical,
		embedder:   embedder,
		namespaces: namespaces,
		cfg:        cfg,
		logger:     logger,
		observer:   observer,
	}
}

type methodOutcome struct {
	method     domain.RetrievalMethod
	candidates []domain.RankedCandidate
	err        error
}

func (uc *AnswerUseCase) Answer(ctx context.Context, queryText, namespace string, opts domain.QueryOptions) (*domain.QueryResult, error) {
	query := strings.TrimSpace(queryText)
	if query == "" {
		return nil, domain.WrapError(domain.ErrEmptyQuery, "answer", errors.New("query text is blank"))
	}
	ns, ok := uc.namespaces[namespace]
	if !ok {
		return nil, domain.WrapError(domain.ErrNamespaceUnknown, "answer", fmt.Errorf("namespace %q is not registered", namespace))
	}

	topN := opts.TopN
	if topN <= 0 {
		topN = uc.cfg.TopN
	}

	lookup := uc.cache.Lookup(ctx, ns, query)
	if lookup.Hit {
		var candidates []domain.FusedCandidate
		if err := json.Unmarshal(lookup.Payload, &candidates); err == nil {
			return &domain.QueryResult{
				Candidates:  trimCandidates(candidates, topN),
				CacheHit:    true,
				CacheTier:   lookup.Tier,
				Approximate: lookup.Approximate,
			}, nil
		}
		// An undecodable payload is treated as a miss and recomputed.
		uc.logger.Warn("cache_payload_decode_failed", "namespace", namespace, "tier", lookup.Tier)
	}

	queryEmbedding := lookup.Embedding
	var embedErr error
	if queryEmbedding == nil {
		queryEmbedding, embedErr = uc.embedder.EmbedQuery(ctx, ns.Model, query)
		if embedErr != nil {
			embedErr = domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", embedErr)
		}
	}

	outcomes := uc.fanOut(ctx, ns, query, queryEmbedding, embedErr, opts.Filter)

	lists := make(map[domain.RetrievalMethod][]domain.RankedCandidate, len(outcomes))
	var failures []error
	for _, outcome := range outcomes {
		if outcome.err != nil {
			uc.logger.Warn("retrieval_method_failed", "namespace", namespace, "method", outcome.method, "error", outcome.err)
			failures = append(failures, fmt.Errorf("%s: %w", outcome.method, outcome.err))
			continue
		}
		lists[outcome.method] = outcome.candidates
	}
	if len(failures) == len(outcomes) {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "retrieval fanout", errors.Join(failures...))
	}

	weights := opts.Weights
	if weights.IsZero() {
		weights = uc.cfg.Weights
	}
	fused := trimCandidates(fuseRRF(lists, weights, uc.cfg.RRFK), topN)
	uc.observer.FusedCandidates(namespace, len(fused))

	payload, err := json.Marshal(fused)
	if err != nil {
		uc.logger.Warn("cache_payload_encode_failed", "namespace", namespace, "error", err)
	} else if err := uc.cache.Store(ctx, ns, query, queryEmbedding, payload); err != nil {
		uc.logger.Warn("cache_store_failed", "namespace", namespace, "error", err)
	}

	return &domain.QueryResult{
		Candidates: fused,
		CacheHit:   false,
		CacheTier:  domain.TierMiss,
	}, nil
}

// fanOut issues the four retrieval calls concurrently, each bounded by its
// own timeout, and waits for all of them. A failed method yields an error
// outcome, never a partial abort of the others.
func (uc *AnswerUseCase) fanOut(
	ctx context.Context,
	ns domain.NamespaceConfig,
	query string,
	queryEmbedding []float32,
	embedErr error,
	filter domain.SearchFilter,
) []methodOutcome {
	methods := domain.AllMethods()
	outcomes := make([]methodOutcome, len(methods))

	var group errgroup.Group
	for i, method := range methods {
		group.Go(func() error {
			start := time.Now()
			methodCtx, cancel := context.WithTimeout(ctx, uc.cfg.MethodTimeout)
			defer cancel()

			var candidates []domain.RankedCandidate
			var err error
			switch method {
			case domain.MethodDense:
				if embedErr != nil {
					err = embedErr
					break
				}
				candidates, err = uc.vector.Search(methodCtx, ns.Name, queryEmbedding, uc.cfg.CandidateDepth, filter)
			case domain.MethodSparse:
				candidates, err = uc.lexical.Search(methodCtx, ns.Name, query, uc.cfg.CandidateDepth, filter)
			case domain.MethodFuzzy:
				candidates, err = uc.lexical.FuzzySearch(methodCtx, ns.Name, query, uc.cfg.CandidateDepth, uc.cfg.FuzzyMinSimilarity)
			case domain.MethodExact:
				candidates, err = uc.lexical.ExactSearch(methodCtx, ns.Name, query, uc.cfg.CandidateDepth)
			}

			outcomes[i] = methodOutcome{method: method, candidates: candidates, err: err}
			status := "ok"
			if err != nil {
				status = "error"
			}
			uc.observer.Fanout(method, status, time.Since(start))
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}
