package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
	"github.com/caldera-labs/retrieval-engine/internal/core/ports"
)

type Router struct {
	query       ports.QueryService
	invalidator ports.CacheInvalidator
	logger      *slog.Logger
	opts        Options
}

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
	Logger         *slog.Logger

	// OnInvalidate reports evicted entry counts for successful
	// invalidation requests.
	OnInvalidate func(namespace string, evicted int)
}

func NewRouter(query ports.QueryService, invalidator ports.CacheInvalidator, opts Options) *Router {
	if opts.QueueWait <= 0 {
		opts.QueueWait = 100 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		query:       query,
		invalidator: invalidator,
		logger:      logger,
		opts:        opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/query", rt.handleQuery)
	mux.HandleFunc("/v1/invalidate", rt.handleInvalidate)

	var handler http.Handler = mux
	if rt.opts.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.QueueWait)
	}
	if rt.opts.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	}
	handler = accessLogMiddleware(handler, rt.logger)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Query     string                `json:"query"`
	Namespace string                `json:"namespace"`
	TopN      int                   `json:"top_n"`
	Weights   *domain.FusionWeights `json:"weights"`
	Filter    map[string]string     `json:"filter"`
}

type queryResponse struct {
	Namespace  string                  `json:"namespace"`
	Candidates []domain.FusedCandidate `json:"candidates"`
	Cache      cacheInfo               `json:"cache"`
}

type cacheInfo struct {
	Hit         bool   `json:"hit"`
	Tier        string `json:"tier"`
	Approximate bool   `json:"approximate"`
}

func (rt *Router) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Namespace) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "namespace is required"})
		return
	}

	opts := domain.QueryOptions{
		TopN:   req.TopN,
		Filter: domain.SearchFilter{Metadata: req.Filter},
	}
	if req.Weights != nil {
		opts.Weights = *req.Weights
	}

	result, err := rt.query.Answer(r.Context(), req.Query, req.Namespace, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	candidates := result.Candidates
	if candidates == nil {
		candidates = []domain.FusedCandidate{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Namespace:  req.Namespace,
		Candidates: candidates,
		Cache: cacheInfo{
			Hit:         result.CacheHit,
			Tier:        string(result.CacheTier),
			Approximate: result.Approximate,
		},
	})
}

type invalidateRequest struct {
	Namespace string `json:"namespace"`
	Pattern   string `json:"pattern"`
}

func (rt *Router) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Namespace) == "" || strings.TrimSpace(req.Pattern) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "namespace and pattern are required"})
		return
	}

	evicted, err := rt.invalidator.Invalidate(r.Context(), req.Namespace, req.Pattern)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.opts.OnInvalidate != nil {
		rt.opts.OnInvalidate(req.Namespace, evicted)
	}

	writeJSON(w, http.StatusOK, map[string]int{"evicted": evicted})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
