package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

type queryServiceStub struct {
	result *domain.QueryResult
	err    error

	gotQuery     string
	gotNamespace string
	gotOpts      domain.QueryOptions
}

func (s *queryServiceStub) Answer(_ context.Context, queryText, namespace string, opts domain.QueryOptions) (*domain.QueryResult, error) {
	s.gotQuery = queryText
	s.gotNamespace = namespace
	s.gotOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type invalidatorStub struct {
	evicted      int
	err          error
	gotNamespace string
	gotPattern   string
}

func (s *invalidatorStub) Invalidate(_ context.Context, namespace, pattern string) (int, error) {
	s.gotNamespace = namespace
	s.gotPattern = pattern
	return s.evicted, s.err
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestQueryEndpointReturnsFusedCandidates(t *testing.T) {
	query := &queryServiceStub{
		result: &domain.QueryResult{
			Candidates: []domain.FusedCandidate{
				{ID: "doc-1", Score: 0.05, Methods: []domain.RetrievalMethod{domain.MethodDense, domain.MethodSparse}},
			},
			CacheHit:  true,
			CacheTier: domain.TierHigh,
		},
	}
	router := NewRouter(query, &invalidatorStub{}, Options{})

	res := postJSON(t, router.Handler(), "/v1/query", map[string]any{
		"query":     "minimum auto insurance",
		"namespace": "kb",
		"top_n":     5,
		"filter":    map[string]string{"state": "CA"},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Namespace != "kb" || len(resp.Candidates) != 1 || resp.Candidates[0].ID != "doc-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !resp.Cache.Hit || resp.Cache.Tier != "high" {
		t.Fatalf("unexpected cache info: %+v", resp.Cache)
	}
	if query.gotOpts.TopN != 5 || query.gotOpts.Filter.Metadata["state"] != "CA" {
		t.Fatalf("options not forwarded: %+v", query.gotOpts)
	}
}

func TestQueryEndpointRequiresNamespace(t *testing.T) {
	router := NewRouter(&queryServiceStub{}, &invalidatorStub{}, Options{})

	res := postJSON(t, router.Handler(), "/v1/query", map[string]any{"query": "hello"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestQueryEndpointMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"empty query", domain.WrapError(domain.ErrEmptyQuery, "answer", errors.New("blank")), http.StatusBadRequest},
		{"unknown namespace", domain.WrapError(domain.ErrNamespaceUnknown, "answer", errors.New("missing")), http.StatusNotFound},
		{"retrieval down", domain.WrapError(domain.ErrRetrievalUnavailable, "answer", errors.New("all failed")), http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(&queryServiceStub{err: tc.err}, &invalidatorStub{}, Options{})
			res := postJSON(t, router.Handler(), "/v1/query", map[string]any{
				"query":     "anything",
				"namespace": "kb",
			})
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

func TestInvalidateEndpointReportsEvictedCount(t *testing.T) {
	invalidator := &invalidatorStub{evicted: 4}
	var observedNamespace string
	var observedEvicted int
	router := NewRouter(&queryServiceStub{}, invalidator, Options{
		OnInvalidate: func(namespace string, evicted int) {
			observedNamespace = namespace
			observedEvicted = evicted
		},
	})

	res := postJSON(t, router.Handler(), "/v1/invalidate", map[string]string{
		"namespace": "kb",
		"pattern":   "hash-a",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var resp map[string]int
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["evicted"] != 4 {
		t.Fatalf("evicted = %d, want 4", resp["evicted"])
	}
	if invalidator.gotNamespace != "kb" || invalidator.gotPattern != "hash-a" {
		t.Fatalf("request not forwarded: %+v", invalidator)
	}
	if observedNamespace != "kb" || observedEvicted != 4 {
		t.Fatalf("callback not invoked: %s %d", observedNamespace, observedEvicted)
	}
}

func TestInvalidateEndpointRequiresNamespaceAndPattern(t *testing.T) {
	router := NewRouter(&queryServiceStub{}, &invalidatorStub{}, Options{})

	res := postJSON(t, router.Handler(), "/v1/invalidate", map[string]string{"namespace": "kb"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestInvalidateEndpointMapsCacheUnavailable(t *testing.T) {
	invalidator := &invalidatorStub{err: domain.WrapError(domain.ErrCacheUnavailable, "invalidate", errors.New("both tiers down"))}
	router := NewRouter(&queryServiceStub{}, invalidator, Options{})

	res := postJSON(t, router.Handler(), "/v1/invalidate", map[string]string{
		"namespace": "kb",
		"pattern":   "hash-a",
	})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestQueryEndpointRejectsGet(t *testing.T) {
	router := NewRouter(&queryServiceStub{}, &invalidatorStub{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/query", nil)
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestAccessLogUsesInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	router := NewRouter(&queryServiceStub{}, &invalidatorStub{}, Options{Logger: logger})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)

	line := buf.String()
	if !strings.Contains(line, "http_request") || !strings.Contains(line, "/healthz") {
		t.Fatalf("expected access log line on the injected logger, got %q", line)
	}
	if !strings.Contains(line, res.Header().Get(requestIDHeader)) {
		t.Fatalf("expected request id in the access log, got %q", line)
	}
}

func TestHealthzReturnsOK(t *testing.T) {
	router := NewRouter(&queryServiceStub{}, &invalidatorStub{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header on response")
	}
}
