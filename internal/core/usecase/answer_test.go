package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

type vectorIndexFake struct {
	candidates []domain.RankedCandidate
	err        error
	calls      int
}

func (f *vectorIndexFake) Search(context.Context, string, []float32, int, domain.SearchFilter) ([]domain.RankedCandidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type lexicalIndexFake struct {
	sparse []domain.RankedCandidate
	fuzzy  []domain.RankedCandidate
	exact  []domain.RankedCandidate

	sparseErr error
	fuzzyErr  error
	exactErr  error
}

func (f *lexicalIndexFake) Search(context.Context, string, string, int, domain.SearchFilter) ([]domain.RankedCandidate, error) {
	if f.sparseErr != nil {
		return nil, f.sparseErr
	}
	return f.sparse, nil
}

func (f *lexicalIndexFake) FuzzySearch(context.Context, string, string, int, float64) ([]domain.RankedCandidate, error) {
	if f.fuzzyErr != nil {
		return nil, f.fuzzyErr
	}
	return f.fuzzy, nil
}

func (f *lexicalIndexFake) ExactSearch(context.Context, string, string, int) ([]domain.RankedCandidate, error) {
	if f.exactErr != nil {
		return nil, f.exactErr
	}
	return f.exact, nil
}

func testNamespaces() map[string]domain.NamespaceConfig {
	ns := testNamespace()
	return map[string]domain.NamespaceConfig{ns.Name: ns}
}

func newAnswerForTest(
	vector *vectorIndexFake,
	lexical *lexicalIndexFake,
	embedder *embedderFake,
	fast, durable *cacheTierFake,
) *AnswerUseCase {
	cache := newCacheForTest(fast, durable, embedder)
	return NewAnswerUseCase(cache, vector, lexical, embedder, testNamespaces(), AnswerConfig{}, nil, nil)
}

func TestAnswerRejectsBlankQuery(t *testing.T) {
	uc := newAnswerForTest(&vectorIndexFake{}, &lexicalIndexFake{}, &embedderFake{vector: []float32{1, 0, 0}},
		newCacheTierFake("fast", nil), newCacheTierFake("durable", nil))

	_, err := uc.Answer(context.Background(), "   ", "kb", domain.QueryOptions{})
	if !domain.IsKind(err, domain.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestAnswerRejectsUnknownNamespace(t *testing.T) {
	uc := newAnswerForTest(&vectorIndexFake{}, &lexicalIndexFake{}, &embedderFake{vector: []float32{1, 0, 0}},
		newCacheTierFake("fast", nil), newCacheTierFake("durable", nil))

	_, err := uc.Answer(context.Background(), "q", "nope", domain.QueryOptions{})
	if !domain.IsKind(err, domain.ErrNamespaceUnknown) {
		t.Fatalf("expected ErrNamespaceUnknown, got %v", err)
	}
}

func TestAnswerToleratesPartialFanoutFailure(t *testing.T) {
	vector := &vectorIndexFake{candidates: rankedList(domain.MethodDense, "doc-1", "doc-2")}
	lexical := &lexicalIndexFake{
		sparse:   rankedList(domain.MethodSparse, "doc-2", "doc-3"),
		fuzzyErr: context.DeadlineExceeded,
	}
	uc := newAnswerForTest(vector, lexical, &embedderFake{vector: []float32{1, 0, 0}},
		newCacheTierFake("fast", nil), newCacheTierFake("durable", nil))

	result, err := uc.Answer(context.Background(), "insurance requirements", "kb", domain.QueryOptions{})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if result.CacheHit {
		t.Fatalf("expected a cache miss on first query")
	}
	if len(result.Candidates) == 0 {
		t.Fatalf("expected candidates from the remaining methods")
	}
	if result.Candidates[0].ID != "doc-2" {
		t.Fatalf("expected doc-2 (two methods) first, got %s", result.Candidates[0].ID)
	}
}

func TestAnswerAllMethodsFailedReturnsRetrievalUnavailable(t *testing.T) {
	vector := &vectorIndexFake{err: errors.New("vector down")}
	lexical := &lexicalIndexFake{
		sparseErr: errors.New("pg down"),
		fuzzyErr:  errors.New("pg down"),
		exactErr:  errors.New("pg down"),
	}
	uc := newAnswerForTest(vector, lexical, &embedderFake{vector: []float32{1, 0, 0}},
		newCacheTierFake("fast", nil), newCacheTierFake("durable", nil))

	_, err := uc.Answer(context.Background(), "q", "kb", domain.QueryOptions{})
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestAnswerStoresFusedResultWriteThrough(t *testing.T) {
	vector := &vectorIndexFake{candidates: rankedList(domain.MethodDense, "doc-1")}
	lexical := &lexicalIndexFake{sparse: rankedList(domain.MethodSparse, "doc-1")}
	fast := newCacheTierFake("fast", nil)
	durable := newCacheTierFake("durable", nil)
	uc := newAnswerForTest(vector, lexical, &embedderFake{vector: []float32{1, 0, 0}}, fast, durable)

	result, err := uc.Answer(context.Background(), "covered drivers", "kb", domain.QueryOptions{})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	fp := domain.QueryFingerprint("covered drivers")
	entry, ok := fast.entries[fast.key("kb", fp)]
	if !ok {
		t.Fatalf("expected fused result stored in the fast tier")
	}
	if _, ok := durable.entries[durable.key("kb", fp)]; !ok {
		t.Fatalf("expected fused result stored in the durable tier")
	}

	var stored []domain.FusedCandidate
	if err := json.Unmarshal(entry.Payload, &stored); err != nil {
		t.Fatalf("unmarshal stored payload: %v", err)
	}
	if len(stored) != len(result.Candidates) || stored[0].ID != result.Candidates[0].ID {
		t.Fatalf("stored payload diverges from returned candidates: %v vs %v", stored, result.Candidates)
	}
}

func TestAnswerUnencodablePayloadSkipsStoreButAnswers(t *testing.T) {
	vector := &vectorIndexFake{candidates: rankedList(domain.MethodDense, "doc-1")}
	lexical := &lexicalIndexFake{sparse: rankedList(domain.MethodSparse, "doc-1")}
	fast := newCacheTierFake("fast", nil)
	durable := newCacheTierFake("durable", nil)
	embedder := &embedderFake{vector: []float32{1, 0, 0}}
	cache := newCacheForTest(fast, durable, embedder)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	uc := NewAnswerUseCase(cache, vector, lexical, embedder, testNamespaces(), AnswerConfig{}, logger, nil)

	// An infinite fusion weight yields +Inf fused scores, which JSON cannot
	// encode.
	result, err := uc.Answer(context.Background(), "q", "kb", domain.QueryOptions{
		Weights: domain.FusionWeights{Dense: math.Inf(1), Sparse: 1, Fuzzy: 1, Exact: 1},
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(result.Candidates) == 0 {
		t.Fatalf("expected candidates even when the cache store is skipped")
	}
	if len(fast.entries) != 0 || len(durable.entries) != 0 {
		t.Fatalf("expected no cache writes for an unencodable payload")
	}
	if !strings.Contains(buf.String(), "cache_payload_encode_failed") {
		t.Fatalf("expected encode failure to be logged, got %q", buf.String())
	}
}

func TestAnswerExactCacheHitSkipsRetrieval(t *testing.T) {
	vector := &vectorIndexFake{candidates: rankedList(domain.MethodDense, "doc-1")}
	lexical := &lexicalIndexFake{sparse: rankedList(domain.MethodSparse, "doc-1")}
	fast := newCacheTierFake("fast", nil)
	durable := newCacheTierFake("durable", nil)
	embedder := &embedderFake{vector: []float32{1, 0, 0}}
	uc := newAnswerForTest(vector, lexical, embedder, fast, durable)

	if _, err := uc.Answer(context.Background(), "same question", "kb", domain.QueryOptions{}); err != nil {
		t.Fatalf("first Answer() error = %v", err)
	}
	vector.calls = 0

	result, err := uc.Answer(context.Background(), "same question", "kb", domain.QueryOptions{})
	if err != nil {
		t.Fatalf("second Answer() error = %v", err)
	}
	if !result.CacheHit || result.CacheTier != domain.TierExact {
		t.Fatalf("expected exact cache hit, got hit=%v tier=%s", result.CacheHit, result.CacheTier)
	}
	if vector.calls != 0 {
		t.Fatalf("cache hit must not fan out, vector searched %d times", vector.calls)
	}
}

func TestAnswerMediumTierHitReturnsFirstCallPayload(t *testing.T) {
	vector := &vectorIndexFake{candidates: rankedList(domain.MethodDense, "doc-ca-1", "doc-ca-2")}
	lexical := &lexicalIndexFake{sparse: rankedList(domain.MethodSparse, "doc-ca-1")}
	fast := newCacheTierFake("fast", nil)
	durable := newCacheTierFake("durable", nil)
	embedder := &embedderFake{vector: []float32{1, 0, 0}}
	uc := newAnswerForTest(vector, lexical, embedder, fast, durable)

	first, err := uc.Answer(context.Background(), "What are California insurance requirements?", "kb", domain.QueryOptions{})
	if err != nil {
		t.Fatalf("first Answer() error = %v", err)
	}
	if first.CacheHit {
		t.Fatalf("expected first call to miss")
	}

	// The reworded query has a different fingerprint; its embedding lands at
	// similarity 0.96 against the stored entry.
	fp := domain.QueryFingerprint("What are California insurance requirements?")
	durable.neighbor = &domain.CacheNeighbor{Entry: durable.entries[durable.key("kb", fp)], Similarity: 0.96}

	second, err := uc.Answer(context.Background(), "What are the insurance requirements for California?", "kb", domain.QueryOptions{})
	if err != nil {
		t.Fatalf("second Answer() error = %v", err)
	}
	if !second.CacheHit || second.CacheTier != domain.TierMedium {
		t.Fatalf("expected MEDIUM hit, got hit=%v tier=%s", second.CacheHit, second.CacheTier)
	}
	if !second.Approximate {
		t.Fatalf("expected MEDIUM hit to be flagged approximate")
	}
	if len(second.Candidates) != len(first.Candidates) || second.Candidates[0].ID != first.Candidates[0].ID {
		t.Fatalf("expected second call to return the first call's payload: %v vs %v", second.Candidates, first.Candidates)
	}
}

func TestAnswerEmbeddingUnavailableStillAnswersFromLexicalPaths(t *testing.T) {
	vector := &vectorIndexFake{candidates: rankedList(domain.MethodDense, "doc-1")}
	lexical := &lexicalIndexFake{
		sparse: rankedList(domain.MethodSparse, "doc-2"),
		exact:  rankedList(domain.MethodExact, "doc-2"),
	}
	fast := newCacheTierFake("fast", nil)
	durable := newCacheTierFake("durable", nil)
	uc := newAnswerForTest(vector, lexical, &embedderFake{err: errors.New("embedder down")}, fast, durable)

	result, err := uc.Answer(context.Background(), "q", "kb", domain.QueryOptions{})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if vector.calls != 0 {
		t.Fatalf("dense path must not run without an embedding")
	}
	if len(result.Candidates) == 0 || result.Candidates[0].ID != "doc-2" {
		t.Fatalf("expected lexical candidates, got %v", result.Candidates)
	}

	fp := domain.QueryFingerprint("q")
	entry, ok := fast.entries[fast.key("kb", fp)]
	if !ok {
		t.Fatalf("expected exact-only entry stored despite embedder outage")
	}
	if entry.Embedding != nil {
		t.Fatalf("expected stored entry without an embedding")
	}
}
