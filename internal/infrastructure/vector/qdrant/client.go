package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

// Client searches content embeddings in Qdrant, one collection per
// namespace. The engine only reads; ingestion owns index maintenance.
type Client struct {
	baseURL          string
	collectionPrefix string
	namespaces       map[string]domain.NamespaceConfig
	httpClient       *http.Client
}

func New(baseURL, collectionPrefix string, namespaces map[string]domain.NamespaceConfig) *Client {
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		collectionPrefix: collectionPrefix,
		namespaces:       namespaces,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) collection(namespace string) string {
	return c.collectionPrefix + namespace
}

// Search returns up to topK content hashes ordered by descending cosine
// similarity. A namespace with no indexed records yields an empty list.
func (c *Client) Search(
	ctx context.Context,
	namespace string,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.RankedCandidate, error) {
	ns, ok := c.namespaces[namespace]
	if !ok {
		return nil, domain.WrapError(domain.ErrNamespaceUnknown, "vector search", fmt.Errorf("namespace %q is not registered", namespace))
	}
	if len(queryVector) != ns.Dimensions {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "vector search",
			fmt.Errorf("query vector has %d dimensions, namespace %q expects %d", len(queryVector), namespace, ns.Dimensions))
	}
	if topK < 1 {
		topK = 1
	}

	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        topK,
		"with_payload": true,
	}
	if !filter.Empty() {
		reqBody["filter"] = buildMetadataFilter(filter)
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection(namespace))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	// A missing collection means nothing was ingested yet, not a failure.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("qdrant search status: %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.RankedCandidate, 0, len(searchResp.Result))
	for i, point := range searchResp.Result {
		id := payloadString(point.Payload, "content_hash")
		if id == "" {
			id = fmt.Sprintf("%v", point.ID)
		}
		out = append(out, domain.RankedCandidate{
			ID:       id,
			Method:   domain.MethodDense,
			RawScore: point.Score,
			Rank:     i + 1,
		})
	}
	return out, nil
}

func buildMetadataFilter(filter domain.SearchFilter) map[string]any {
	must := make([]map[string]any, 0, len(filter.Metadata))
	for key, value := range filter.Metadata {
		must = append(must, map[string]any{
			"key":   "metadata." + key,
			"match": map[string]any{"value": value},
		})
	}
	return map[string]any{"must": must}
}

func payloadString(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return value
}
