package memtier

import (
	"bytes"
	"context"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

const keySeparator = "\x00"

// Tier is the in-process fast cache tier. Capacity is bounded by an LRU so a
// burst of distinct queries cannot grow memory without limit; the LRU TTL is
// only an upper bound, per-entry expiry is still checked on every read.
type Tier struct {
	entries *expirable.LRU[string, *domain.CacheEntry]
}

func New(size int, maxTTL time.Duration) *Tier {
	if size < 1 {
		size = 1
	}
	return &Tier{
		entries: expirable.NewLRU[string, *domain.CacheEntry](size, nil, maxTTL),
	}
}

func (t *Tier) GetExact(_ context.Context, namespace, fingerprint string, now time.Time) (*domain.CacheEntry, error) {
	entry, ok := t.entries.Get(entryKey(namespace, fingerprint))
	if !ok {
		return nil, nil
	}
	if entry.Expired(now) {
		t.entries.Remove(entryKey(namespace, fingerprint))
		return nil, nil
	}
	return entry, nil
}

// Nearest scans linearly. The tier is small by construction, so a scan stays
// cheaper than maintaining an index next to the LRU.
func (t *Tier) Nearest(_ context.Context, namespace string, embedding []float32, now time.Time) (*domain.CacheNeighbor, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	var best *domain.CacheNeighbor
	for _, entry := range t.entries.Values() {
		if entry.Namespace != namespace || entry.Expired(now) {
			continue
		}
		similarity, ok := cosineSimilarity(embedding, entry.Embedding)
		if !ok {
			continue
		}
		if best == nil || similarity > best.Similarity {
			best = &domain.CacheNeighbor{Entry: entry, Similarity: similarity}
		}
	}
	return best, nil
}

func (t *Tier) Put(_ context.Context, entry *domain.CacheEntry) error {
	t.entries.Add(entryKey(entry.Namespace, entry.Fingerprint), entry)
	return nil
}

// Invalidate drops the entry with the matching fingerprint plus every entry
// whose payload references the pattern, mirroring the durable tier.
func (t *Tier) Invalidate(_ context.Context, namespace, pattern string) (int, error) {
	needle := []byte(pattern)
	removed := 0
	for _, key := range t.entries.Keys() {
		entry, ok := t.entries.Peek(key)
		if !ok || entry.Namespace != namespace {
			continue
		}
		if entry.Fingerprint == pattern || bytes.Contains(entry.Payload, needle) {
			if t.entries.Remove(key) {
				removed++
			}
		}
	}
	return removed, nil
}

func (t *Tier) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, key := range t.entries.Keys() {
		entry, ok := t.entries.Peek(key)
		if !ok || !entry.Expired(now) {
			continue
		}
		if t.entries.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

func entryKey(namespace, fingerprint string) string {
	var b strings.Builder
	b.Grow(len(namespace) + len(keySeparator) + len(fingerprint))
	b.WriteString(namespace)
	b.WriteString(keySeparator)
	b.WriteString(fingerprint)
	return b.String()
}

func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
