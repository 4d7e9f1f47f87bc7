package domain

// RetrievalMethod identifies one of the four retrieval paths feeding fusion.
type RetrievalMethod string

const (
	MethodDense  RetrievalMethod = "dense"
	MethodSparse RetrievalMethod = "sparse"
	MethodFuzzy  RetrievalMethod = "fuzzy"
	MethodExact  RetrievalMethod = "exact"
)

// AllMethods returns the retrieval methods in their canonical fusion order.
// Fusion iterates lists in this order, which pins first-observed tie-breaks.
func AllMethods() []RetrievalMethod {
	return []RetrievalMethod{MethodDense, MethodSparse, MethodFuzzy, MethodExact}
}

// RankedCandidate is one entry of a single method's ranked list.
// Produced fresh per query, never persisted.
type RankedCandidate struct {
	ID       string          `json:"id"`
	Method   RetrievalMethod `json:"method"`
	RawScore float64         `json:"raw_score"`
	Rank     int             `json:"rank"` // 1-based within the method's list
}

// FusedCandidate is one entry of the fused result list.
type FusedCandidate struct {
	ID      string            `json:"id"`
	Score   float64           `json:"score"`
	Methods []RetrievalMethod `json:"methods"`
}

// FusionWeights holds the per-method RRF weights for one query.
// The zero value means equal weighting across all methods present.
type FusionWeights struct {
	Dense  float64 `json:"dense"`
	Sparse float64 `json:"sparse"`
	Fuzzy  float64 `json:"fuzzy"`
	Exact  float64 `json:"exact"`
}

func (w FusionWeights) IsZero() bool {
	return w.Dense == 0 && w.Sparse == 0 && w.Fuzzy == 0 && w.Exact == 0
}

func (w FusionWeights) For(method RetrievalMethod) float64 {
	switch method {
	case MethodDense:
		return w.Dense
	case MethodSparse:
		return w.Sparse
	case MethodFuzzy:
		return w.Fuzzy
	case MethodExact:
		return w.Exact
	default:
		return 0
	}
}

func EqualFusionWeights() FusionWeights {
	return FusionWeights{Dense: 1, Sparse: 1, Fuzzy: 1, Exact: 1}
}

// SearchFilter restricts retrieval to records whose metadata contains
// every listed key/value pair.
type SearchFilter struct {
	Metadata map[string]string
}

func (f SearchFilter) Empty() bool {
	return len(f.Metadata) == 0
}

// QueryOptions carries per-request overrides for the orchestrator.
type QueryOptions struct {
	TopN    int
	Weights FusionWeights
	Filter  SearchFilter
}

// QueryResult is the orchestrator's answer: the fused candidate list plus
// cache metadata. Synthesis from candidates happens downstream.
type QueryResult struct {
	Candidates  []FusedCandidate `json:"candidates"`
	CacheHit    bool             `json:"cache_hit"`
	CacheTier   Tier             `json:"cache_tier"`
	Approximate bool             `json:"approximate"`
}
