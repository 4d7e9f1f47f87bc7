package usecase

import (
	"sort"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

const defaultRRFK = 60

type fusionState struct {
	id        string
	score     float64
	minRank   int
	methods   []domain.RetrievalMethod
	firstSeen int
}

// fuseRRF merges the per-method ranked lists with weighted Reciprocal Rank
// Fusion: fused(id) = sum over methods of weight * 1/(k + rank). A candidate
// absent from a method's list simply contributes no term for that method.
// Fusion always runs over the full union of candidates; truncation is the
// caller's job.
func fuseRRF(
	lists map[domain.RetrievalMethod][]domain.RankedCandidate,
	weights domain.FusionWeights,
	rrfK int,
) []domain.FusedCandidate {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}
	if weights.IsZero() {
		weights = domain.EqualFusionWeights()
	}

	acc := make(map[string]*fusionState)
	seen := 0
	// Fixed method order keeps first-observed tie-breaks deterministic.
	for _, method := range domain.AllMethods() {
		weight := weights.For(method)
		if weight == 0 {
			continue
		}
		for i, candidate := range lists[method] {
			rank := i + 1
			state := acc[candidate.ID]
			if state == nil {
				state = &fusionState{id: candidate.ID, minRank: rank, firstSeen: seen}
				seen++
				acc[candidate.ID] = state
			}
			state.score += weight / float64(rrfK+rank)
			if rank < state.minRank {
				state.minRank = rank
			}
			state.methods = append(state.methods, method)
		}
	}

	states := make([]*fusionState, 0, len(acc))
	for _, state := range acc {
		states = append(states, state)
	}
	sort.SliceStable(states, func(i, j int) bool {
		if states[i].score != states[j].score {
			return states[i].score > states[j].score
		}
		// Equal fused score: smallest contributing rank wins, then the
		// candidate found by more methods, then first-observed order.
		if states[i].minRank != states[j].minRank {
			return states[i].minRank < states[j].minRank
		}
		if len(states[i].methods) != len(states[j].methods) {
			return len(states[i].methods) > len(states[j].methods)
		}
		return states[i].firstSeen < states[j].firstSeen
	})

	out := make([]domain.FusedCandidate, 0, len(states))
	for _, state := range states {
		out = append(out, domain.FusedCandidate{
			ID:      state.id,
			Score:   state.score,
			Methods: state.methods,
		})
	}
	return out
}

func trimCandidates(candidates []domain.FusedCandidate, limit int) []domain.FusedCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}
