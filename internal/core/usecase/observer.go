package usecase

import (
	"time"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

// Observer receives operational signals from the engine. Degradations are
// invisible to callers except through these.
type Observer interface {
	CacheLookup(namespace string, tier domain.Tier)
	CacheNearMiss(namespace string, similarity float64)
	CacheStore(namespace, status string)
	Fanout(method domain.RetrievalMethod, status string, elapsed time.Duration)
	FusedCandidates(namespace string, count int)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(string, domain.Tier)                        {}
func (nopObserver) CacheNearMiss(string, float64)                          {}
func (nopObserver) CacheStore(string, string)                              {}
func (nopObserver) Fanout(domain.RetrievalMethod, string, time.Duration)   {}
func (nopObserver) FusedCandidates(string, int)                            {}
