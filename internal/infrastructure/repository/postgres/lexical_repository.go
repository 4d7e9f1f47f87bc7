package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

// LexicalRepository realizes the lexical, fuzzy and exact retrieval paths
// over one documents table: ts_rank_cd for relevance, pg_trgm similarity
// for typo tolerance, ILIKE for substring matches. The table is written by
// the ingestion collaborator; the tsvector column is a generated column so
// the token representation can never drift from the content.
type LexicalRepository struct {
	db *sql.DB
}

func NewLexicalRepository(db *sql.DB) *LexicalRepository {
	return &LexicalRepository{db: db}
}

func (r *LexicalRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/sweeper startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082401)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS lexical_documents (
	id TEXT NOT NULL,
	namespace TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, id)
);

CREATE INDEX IF NOT EXISTS idx_lexical_documents_tsv ON lexical_documents USING GIN (tsv);
CREATE INDEX IF NOT EXISTS idx_lexical_documents_trgm ON lexical_documents USING GIN (content gin_trgm_ops);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Search ranks documents by BM25-class full-text relevance. Documents with
// zero matching tokens are excluded, not scored zero.
func (r *LexicalRepository) Search(
	ctx context.Context,
	namespace, queryText string,
	topK int,
	filter domain.SearchFilter,
) ([]domain.RankedCandidate, error) {
	if len(tokenize(queryText)) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyQuery, "lexical search", errors.New("query normalizes to zero tokens"))
	}

	query := `
SELECT id, ts_rank_cd(tsv, q, 1) AS score
FROM lexical_documents, websearch_to_tsquery('english', $2) AS q
WHERE namespace = $1 AND tsv @@ q
`
	args := []any{namespace, queryText}
	if !filter.Empty() {
		metadataJSON, err := json.Marshal(filter.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata filter: %w", err)
		}
		query += ` AND metadata @> $3::jsonb`
		args = append(args, metadataJSON)
	}
	args = append(args, normalizeTopK(topK))
	query += fmt.Sprintf(` ORDER BY score DESC, id LIMIT $%d`, len(args))

	return r.queryCandidates(ctx, domain.MethodSparse, query, args...)
}

// FuzzySearch ranks documents by trigram similarity. Unlike Search it
// tolerates queries that normalize to nothing and returns an empty list.
func (r *LexicalRepository) FuzzySearch(
	ctx context.Context,
	namespace, queryText string,
	topK int,
	minSimilarity float64,
) ([]domain.RankedCandidate, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}

	const query = `
SELECT id, similarity(content, $2) AS score
FROM lexical_documents
WHERE namespace = $1 AND similarity(content, $2) >= $3
ORDER BY score DESC, id
LIMIT $4
`
	return r.queryCandidates(ctx, domain.MethodFuzzy, query, namespace, queryText, minSimilarity, normalizeTopK(topK))
}

// ExactSearch finds substring matches; tighter (shorter) documents rank
// first so the ordering stays deterministic.
func (r *LexicalRepository) ExactSearch(
	ctx context.Context,
	namespace, queryText string,
	topK int,
) ([]domain.RankedCandidate, error) {
	trimmed := strings.TrimSpace(queryText)
	if trimmed == "" {
		return nil, nil
	}

	const query = `
SELECT id, 1.0 AS score
FROM lexical_documents
WHERE namespace = $1 AND content ILIKE '%' || $2 || '%' ESCAPE '\'
ORDER BY char_length(content), id
LIMIT $3
`
	return r.queryCandidates(ctx, domain.MethodExact, query, namespace, escapeLike(trimmed), normalizeTopK(topK))
}

func (r *LexicalRepository) queryCandidates(
	ctx context.Context,
	method domain.RetrievalMethod,
	query string,
	args ...any,
) ([]domain.RankedCandidate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", method, err)
	}
	defer rows.Close()

	var out []domain.RankedCandidate
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", method, err)
		}
		out = append(out, domain.RankedCandidate{
			ID:       id,
			Method:   method,
			RawScore: score,
			Rank:     len(out) + 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", method, err)
	}
	return out, nil
}

func normalizeTopK(topK int) int {
	if topK < 1 {
		return 1
	}
	return topK
}

// tokenize mirrors the index-side normalization closely enough to detect
// queries that carry no searchable tokens at all.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func escapeLike(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(text)
}
