package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
)

// CacheRepository is the durable semantic-cache tier: cache entries keyed by
// (namespace, fingerprint) with a pgvector column for nearest-query lookups.
// Expiry is lazy: every read predicate filters on expires_at, so physical
// deletion timing never affects correctness.
type CacheRepository struct {
	db *sql.DB
}

func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

func (r *CacheRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082402)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	// The vector column is left without a fixed dimensionality because
	// namespaces may use different embedding models.
	const query = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT NOT NULL,
	namespace TEXT NOT NULL,
	query_text TEXT NOT NULL,
	embedding vector,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (namespace, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *CacheRepository) GetExact(ctx context.Context, namespace, fingerprint string, now time.Time) (*domain.CacheEntry, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT fingerprint, namespace, query_text, embedding::text, payload, created_at, expires_at
FROM cache_entries
WHERE namespace = $1 AND fingerprint = $2 AND expires_at > $3
`, namespace, fingerprint, now)

	entry, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return entry, nil
}

func (r *CacheRepository) Nearest(ctx context.Context, namespace string, embedding []float32, now time.Time) (*domain.CacheNeighbor, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	literal := vectorLiteral(embedding)

	row := r.db.QueryRowContext(ctx, `
SELECT fingerprint, namespace, query_text, embedding::text, payload, created_at, expires_at,
	1 - (embedding <=> $2::vector) AS similarity
FROM cache_entries
WHERE namespace = $1 AND embedding IS NOT NULL AND expires_at > $3
ORDER BY embedding <=> $2::vector
LIMIT 1
`, namespace, literal, now)

	var similarity float64
	entry, err := scanEntry(func(dest ...any) error {
		return row.Scan(append(dest, &similarity)...)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("nearest cache entry: %w", err)
	}
	return &domain.CacheNeighbor{Entry: entry, Similarity: similarity}, nil
}

// Put upserts: concurrent identical queries may each miss and each
// overwrite the same key; last write wins by design.
func (r *CacheRepository) Put(ctx context.Context, entry *domain.CacheEntry) error {
	var embedding any
	if len(entry.Embedding) > 0 {
		embedding = vectorLiteral(entry.Embedding)
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO cache_entries (fingerprint, namespace, query_text, embedding, payload, created_at, expires_at)
VALUES ($1, $2, $3, $4::vector, $5, $6, $7)
ON CONFLICT (namespace, fingerprint) DO UPDATE SET
	query_text = EXCLUDED.query_text,
	embedding = EXCLUDED.embedding,
	payload = EXCLUDED.payload,
	created_at = EXCLUDED.created_at,
	expires_at = EXCLUDED.expires_at
`, entry.Fingerprint, entry.Namespace, entry.QueryText, embedding, entry.Payload, entry.CreatedAt, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Invalidate evicts the entry with a matching fingerprint plus every entry
// whose payload references the given content hash or pattern.
func (r *CacheRepository) Invalidate(ctx context.Context, namespace, pattern string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM cache_entries
WHERE namespace = $1
  AND (fingerprint = $2 OR convert_from(payload, 'UTF8') LIKE '%' || $3 || '%' ESCAPE '\')
`, namespace, pattern, escapeLike(pattern))
	if err != nil {
		return 0, fmt.Errorf("invalidate cache entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("invalidate rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *CacheRepository) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired cache entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return int(affected), nil
}

func scanEntry(scan func(dest ...any) error) (*domain.CacheEntry, error) {
	var entry domain.CacheEntry
	var embeddingText sql.NullString
	if err := scan(
		&entry.Fingerprint, &entry.Namespace, &entry.QueryText,
		&embeddingText, &entry.Payload, &entry.CreatedAt, &entry.ExpiresAt,
	); err != nil {
		return nil, err
	}
	if embeddingText.Valid {
		embedding, err := parseVector(embeddingText.String)
		if err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
		entry.Embedding = embedding
	}
	return &entry, nil
}

// vectorLiteral renders the pgvector input format, e.g. "[0.1,0.2,0.3]".
func vectorLiteral(vector []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVector(text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float32, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, err
		}
		out = append(out, float32(value))
	}
	return out, nil
}
