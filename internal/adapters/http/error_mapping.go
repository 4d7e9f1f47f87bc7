package httpadapter

import (
	"net/http"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrEmptyQuery),
		domain.IsKind(err, domain.ErrDimensionMismatch):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNamespaceUnknown):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrRetrievalUnavailable),
		domain.IsKind(err, domain.ErrEmbeddingUnavailable),
		domain.IsKind(err, domain.ErrCacheUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
