//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/testutil"
)

func testKB() *domain.KnowledgeBase {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.KnowledgeBase{
		ID:             uuid.NewString(),
		OrgID:          uuid.NewString(),
		Name:           "Handbook",
		TagIDs:         []string{"tag-hr", "tag-policy"},
		ChunkerKind:    domain.ChunkerKindTokenWindow,
		ChunkSize:      200,
		ChunkOverlap:   20,
		EmbeddingModel: "text-embedding-3-small",
		EmbeddingDim:   1536,
		Status:         domain.KnowledgeBaseStatusIndexing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestKnowledgeBaseRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewKnowledgeBaseRepository(pool)

	kb := testKB()
	require.NoError(t, repo.Create(ctx, kb))

	retrieved, err := repo.GetByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.ID, retrieved.ID)
	assert.Equal(t, kb.TagIDs, retrieved.TagIDs)
	assert.Equal(t, domain.ChunkerKindTokenWindow, retrieved.ChunkerKind)
	assert.Equal(t, int64(0), retrieved.DocumentCount)
	assert.Equal(t, domain.KnowledgeBaseStatusIndexing, retrieved.Status)
}

func TestKnowledgeBaseRepository_Create_Duplicate(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewKnowledgeBaseRepository(pool)

	kb := testKB()
	require.NoError(t, repo.Create(ctx, kb))

	err := repo.Create(ctx, kb)
	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseAlreadyExists)
}

func TestKnowledgeBaseRepository_GetByID_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewKnowledgeBaseRepository(pool)

	_, err := repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseNotFound)
}

func TestKnowledgeBaseRepository_ListByOrg(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewKnowledgeBaseRepository(pool)

	kb1 := testKB()
	kb2 := testKB()
	kb2.OrgID = kb1.OrgID
	kb2.CreatedAt = kb1.CreatedAt.Add(time.Second)
	other := testKB()

	require.NoError(t, repo.Create(ctx, kb1))
	require.NoError(t, repo.Create(ctx, kb2))
	require.NoError(t, repo.Create(ctx, other))

	kbs, err := repo.ListByOrg(ctx, kb1.OrgID)
	require.NoError(t, err)
	require.Len(t, kbs, 2)
	assert.Equal(t, kb2.ID, kbs[0].ID)
	assert.Equal(t, kb1.ID, kbs[1].ID)
}

func TestKnowledgeBaseRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewKnowledgeBaseRepository(pool)

	kb := testKB()
	require.NoError(t, repo.Create(ctx, kb))

	require.NoError(t, repo.UpdateStatus(ctx, kb.ID, domain.KnowledgeBaseStatusError, "provider rejected model"))

	retrieved, err := repo.GetByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KnowledgeBaseStatusError, retrieved.Status)
	assert.Equal(t, "provider rejected model", retrieved.StatusMessage)

	require.NoError(t, repo.UpdateStatus(ctx, kb.ID, domain.KnowledgeBaseStatusActive, ""))

	retrieved, err = repo.GetByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KnowledgeBaseStatusActive, retrieved.Status)
	assert.Empty(t, retrieved.StatusMessage)
}

func TestKnowledgeBaseRepository_UpdateCounts(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewKnowledgeBaseRepository(pool)

	kb := testKB()
	require.NoError(t, repo.Create(ctx, kb))

	require.NoError(t, repo.UpdateCounts(ctx, kb.ID, 7, 142))

	retrieved, err := repo.GetByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), retrieved.DocumentCount)
	assert.Equal(t, int64(142), retrieved.ChunkCount)
}

func TestKnowledgeBaseRepository_Delete(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewKnowledgeBaseRepository(pool)

	kb := testKB()
	require.NoError(t, repo.Create(ctx, kb))
	require.NoError(t, repo.Delete(ctx, kb.ID))

	_, err := repo.GetByID(ctx, kb.ID)
	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, kb.ID), domain.ErrKnowledgeBaseNotFound)
}
