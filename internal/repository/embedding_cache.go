package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingCacheRepository is the content-addressed embedding cache. Keys are
// (content hash, model); entries are shared across every knowledge base and
// document in the deployment.
type EmbeddingCacheRepository struct {
	db dbtx
}

func NewEmbeddingCacheRepository(pool *pgxpool.Pool) *EmbeddingCacheRepository {
	return &EmbeddingCacheRepository{db: pool}
}

func (r *EmbeddingCacheRepository) Lookup(ctx context.Context, hash, model string) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := r.db.QueryRow(ctx,
		`SELECT embedding FROM embedding_cache WHERE content_hash = $1 AND model = $2`,
		hash, model,
	).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return vec.Slice(), true, nil
}

func (r *EmbeddingCacheRepository) LookupMany(ctx context.Context, hashes []string, model string) (map[string][]float32, error) {
	result := make(map[string][]float32, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT content_hash, embedding FROM embedding_cache
		 WHERE content_hash = ANY($1) AND model = $2`,
		hashes, model,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var vec pgvector.Vector
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, err
		}
		result[hash] = vec.Slice()
	}
	return result, rows.Err()
}

// Store upserts an entry. Concurrent writers racing on the same key resolve
// last-write-wins; embeddings for a given (text, model) are deterministic so
// either write is correct.
func (r *EmbeddingCacheRepository) Store(ctx context.Context, hash, model string, vector []float32) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO embedding_cache (content_hash, model, embedding, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (content_hash, model) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`,
		hash, model, pgvector.NewVector(vector), time.Now().UTC(),
	)
	return err
}

// DeleteOlderThan evicts entries older than the given age. Not called by any
// code path; operators can schedule it if the cache grows beyond comfort.
func (r *EmbeddingCacheRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM embedding_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}
