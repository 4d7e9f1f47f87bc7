package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch marks a query vector whose length disagrees with
	// the namespace's configured model dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyQuery marks a query that normalizes to zero tokens.
	ErrEmptyQuery = errors.New("empty query")
	// ErrRetrievalUnavailable marks a query for which all four retrieval
	// paths failed. Surfaced to the caller, never retried internally.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrEmbeddingUnavailable marks a failed embed() call. The cache degrades
	// to exact-match-only instead of failing the query.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrCacheUnavailable marks a failed cache tier. The engine degrades to
	// always-miss/no-store; only performance suffers.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrNamespaceUnknown marks a namespace absent from the registry.
	ErrNamespaceUnknown = errors.New("unknown namespace")

	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
