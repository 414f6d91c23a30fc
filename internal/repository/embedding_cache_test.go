//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/vectis/internal/testutil"
)

func TestEmbeddingCacheRepository_LookupMiss(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewEmbeddingCacheRepository(pool)

	_, found, err := repo.Lookup(ctx, "deadbeef", "text-embedding-3-small")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEmbeddingCacheRepository_StoreAndLookup(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewEmbeddingCacheRepository(pool)

	vec := []float32{0.1, 0.2, 0.3}
	require.NoError(t, repo.Store(ctx, "hash-1", "model-a", vec))

	got, found, err := repo.Lookup(ctx, "hash-1", "model-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, vec, got)

	// Same hash under a different model is a separate entry.
	_, found, err = repo.Lookup(ctx, "hash-1", "model-b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEmbeddingCacheRepository_StoreUpsert(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewEmbeddingCacheRepository(pool)

	require.NoError(t, repo.Store(ctx, "hash-1", "model-a", []float32{1, 0}))
	require.NoError(t, repo.Store(ctx, "hash-1", "model-a", []float32{0, 1}))

	got, found, err := repo.Lookup(ctx, "hash-1", "model-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float32{0, 1}, got)
}

func TestEmbeddingCacheRepository_LookupMany(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewEmbeddingCacheRepository(pool)

	require.NoError(t, repo.Store(ctx, "hash-1", "model-a", []float32{1, 0}))
	require.NoError(t, repo.Store(ctx, "hash-2", "model-a", []float32{0, 1}))

	result, err := repo.LookupMany(ctx, []string{"hash-1", "hash-2", "hash-3"}, "model-a")
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, []float32{1, 0}, result["hash-1"])
	assert.Equal(t, []float32{0, 1}, result["hash-2"])
	assert.NotContains(t, result, "hash-3")

	result, err = repo.LookupMany(ctx, nil, "model-a")
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestEmbeddingCacheRepository_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewEmbeddingCacheRepository(pool)

	require.NoError(t, repo.Store(ctx, "hash-1", "model-a", []float32{1, 0}))

	deleted, err := repo.DeleteOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	deleted, err = repo.DeleteOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
