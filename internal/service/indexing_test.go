package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/vectis/internal/domain"
)

func activeKB() *domain.KnowledgeBase {
	return &domain.KnowledgeBase{
		ID:             "kb-1",
		OrgID:          "org-1",
		Name:           "Handbook",
		TagIDs:         []string{"tag-a"},
		ChunkerKind:    domain.ChunkerKindTokenWindow,
		ChunkSize:      50,
		ChunkOverlap:   10,
		EmbeddingModel: "model-x",
		EmbeddingDim:   4,
		Status:         domain.KnowledgeBaseStatusActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
}

func testDocument() *domain.Document {
	return &domain.Document{
		ID:         "doc-1",
		OrgID:      "org-1",
		Name:       "guide.pdf",
		TagIDs:     []string{"tag-a"},
		UploadedAt: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func newTestPipeline(kbRepo *MockKnowledgeBaseRepo, docs *MockDocumentStore, client *MockEmbeddingClient, cache *MockCacheRepo, quota *MockQuotaGuard, tx TxRunner) *IndexingPipeline {
	embedder := NewEmbedderWithConfig(client, cache, quota, testEmbedderConfig())
	return NewIndexingPipelineWithUUIDGen(kbRepo, docs, embedder, tx, &fixedUUIDGen{ids: []string{"vec-1", "vec-2", "vec-3", "vec-4"}})
}

func TestIndexingPipeline_IndexDocument_Success(t *testing.T) {
	mockKB := new(MockKnowledgeBaseRepo)
	mockDocs := new(MockDocumentStore)
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	mockIndex := new(MockDocumentIndexRepo)
	mockVectors := new(MockVectorRepo)
	tx := &fakeTxRunner{kbs: mockKB, index: mockIndex, vectors: mockVectors}
	pipeline := newTestPipeline(mockKB, mockDocs, mockClient, mockCache, mockQuota, tx)

	ctx := context.Background()
	kb := activeKB()
	doc := testDocument()

	mockKB.On("GetByID", mock.Anything, "kb-1").Return(kb, nil)
	mockDocs.On("GetDocument", mock.Anything, "doc-1").Return(doc, nil)
	mockDocs.On("GetExtractedText", mock.Anything, "doc-1").Return("short extractable text", nil)
	mockCache.On("LookupMany", mock.Anything, mock.Anything, "model-x").Return(map[string][]float32{}, nil)
	mockQuota.On("CheckQuota", mock.Anything, "org-1", int64(1)).Return(nil)
	mockClient.On("EmbedBatch", mock.Anything, []string{"short extractable text"}, "model-x").Return([][]float32{{0.1, 0.2, 0.3, 0.4}}, nil)
	mockCache.On("Store", mock.Anything, mock.Anything, "model-x", mock.Anything).Return(nil)
	mockQuota.On("RecordUsage", mock.Anything, "org-1", int64(1), "openai", "model-x").Return(nil)

	mockVectors.On("DeleteByDocument", mock.Anything, "kb-1", "doc-1").Return(int64(0), nil)
	mockVectors.On("InsertRecords", mock.Anything, mock.MatchedBy(func(records []*domain.VectorRecord) bool {
		if len(records) != 1 {
			return false
		}
		r := records[0]
		return r.ID == "vec-1" && r.KBID == "kb-1" && r.DocumentID == "doc-1" &&
			r.ChunkIndex == 0 && r.Metadata.Name == "guide.pdf"
	})).Return(nil)
	mockIndex.On("Upsert", mock.Anything, mock.MatchedBy(func(entry *domain.DocumentIndexEntry) bool {
		return entry.KBID == "kb-1" && entry.DocumentID == "doc-1" && entry.ChunkCount == 1
	})).Return(nil)
	mockIndex.On("Aggregate", mock.Anything, "kb-1").Return(int64(1), int64(1), nil)
	mockKB.On("UpdateCounts", mock.Anything, "kb-1", int64(1), int64(1)).Return(nil)

	result, err := pipeline.IndexDocument(ctx, "kb-1", "doc-1")

	assert.NoError(t, err)
	assert.Equal(t, IndexStateRecorded, result.State)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Equal(t, 1, result.CacheMisses)
	mockVectors.AssertExpectations(t)
	mockIndex.AssertExpectations(t)
	mockKB.AssertExpectations(t)
}

func TestIndexingPipeline_IndexDocument_NoTextSkipped(t *testing.T) {
	mockKB := new(MockKnowledgeBaseRepo)
	mockDocs := new(MockDocumentStore)
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	tx := &fakeTxRunner{}
	pipeline := newTestPipeline(mockKB, mockDocs, mockClient, mockCache, mockQuota, tx)

	ctx := context.Background()
	mockKB.On("GetByID", mock.Anything, "kb-1").Return(activeKB(), nil)
	mockDocs.On("GetDocument", mock.Anything, "doc-1").Return(testDocument(), nil)
	mockDocs.On("GetExtractedText", mock.Anything, "doc-1").Return("", nil)

	result, err := pipeline.IndexDocument(ctx, "kb-1", "doc-1")

	assert.NoError(t, err)
	assert.Equal(t, IndexStateSkipped, result.State)
	mockClient.AssertNotCalled(t, "EmbedBatch")
	mockQuota.AssertNotCalled(t, "CheckQuota")
}

func TestIndexingPipeline_IndexDocument_ErroredKBRejected(t *testing.T) {
	mockKB := new(MockKnowledgeBaseRepo)
	mockDocs := new(MockDocumentStore)
	pipeline := newTestPipeline(mockKB, mockDocs, new(MockEmbeddingClient), new(MockCacheRepo), new(MockQuotaGuard), &fakeTxRunner{})

	ctx := context.Background()
	kb := activeKB()
	kb.Status = domain.KnowledgeBaseStatusError
	mockKB.On("GetByID", mock.Anything, "kb-1").Return(kb, nil)

	_, err := pipeline.IndexDocument(ctx, "kb-1", "doc-1")

	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseDisabled)
	mockDocs.AssertNotCalled(t, "GetDocument")
}

func TestIndexingPipeline_IndexDocument_PermanentProviderErrorFlipsKBToError(t *testing.T) {
	mockKB := new(MockKnowledgeBaseRepo)
	mockDocs := new(MockDocumentStore)
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	pipeline := newTestPipeline(mockKB, mockDocs, mockClient, mockCache, mockQuota, &fakeTxRunner{})

	ctx := context.Background()
	permanent := domain.NewPermanentProviderError(401, errors.New("invalid api key"))

	mockKB.On("GetByID", mock.Anything, "kb-1").Return(activeKB(), nil)
	mockDocs.On("GetDocument", mock.Anything, "doc-1").Return(testDocument(), nil)
	mockDocs.On("GetExtractedText", mock.Anything, "doc-1").Return("some text", nil)
	mockCache.On("LookupMany", mock.Anything, mock.Anything, "model-x").Return(map[string][]float32{}, nil)
	mockQuota.On("CheckQuota", mock.Anything, "org-1", int64(1)).Return(nil)
	mockClient.On("EmbedBatch", mock.Anything, mock.Anything, "model-x").Return(nil, permanent)
	mockKB.On("UpdateStatus", mock.Anything, "kb-1", domain.KnowledgeBaseStatusError, mock.Anything).Return(nil)

	result, err := pipeline.IndexDocument(ctx, "kb-1", "doc-1")

	assert.Error(t, err)
	assert.Equal(t, IndexStateFailed, result.State)
	mockKB.AssertCalled(t, "UpdateStatus", mock.Anything, "kb-1", domain.KnowledgeBaseStatusError, mock.Anything)
}

func TestIndexingPipeline_IndexDocument_TransientExhaustedKeepsKBActive(t *testing.T) {
	mockKB := new(MockKnowledgeBaseRepo)
	mockDocs := new(MockDocumentStore)
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	pipeline := newTestPipeline(mockKB, mockDocs, mockClient, mockCache, mockQuota, &fakeTxRunner{})

	ctx := context.Background()
	transient := domain.NewRetryableProviderError(503, errors.New("unavailable"))

	mockKB.On("GetByID", mock.Anything, "kb-1").Return(activeKB(), nil)
	mockDocs.On("GetDocument", mock.Anything, "doc-1").Return(testDocument(), nil)
	mockDocs.On("GetExtractedText", mock.Anything, "doc-1").Return("some text", nil)
	mockCache.On("LookupMany", mock.Anything, mock.Anything, "model-x").Return(map[string][]float32{}, nil)
	mockQuota.On("CheckQuota", mock.Anything, "org-1", int64(1)).Return(nil)
	mockClient.On("EmbedBatch", mock.Anything, mock.Anything, "model-x").Return(nil, transient)

	result, err := pipeline.IndexDocument(ctx, "kb-1", "doc-1")

	assert.Error(t, err)
	assert.Equal(t, IndexStateFailed, result.State)
	// Exhausted transient failures never flip the KB status.
	mockKB.AssertNotCalled(t, "UpdateStatus", mock.Anything, "kb-1", domain.KnowledgeBaseStatusError, mock.Anything)
}

func TestIndexingPipeline_IndexDocument_SwapFailureLeavesPriorGeneration(t *testing.T) {
	mockKB := new(MockKnowledgeBaseRepo)
	mockDocs := new(MockDocumentStore)
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	tx := &fakeTxRunner{beginErr: errors.New("connection lost")}
	pipeline := newTestPipeline(mockKB, mockDocs, mockClient, mockCache, mockQuota, tx)

	ctx := context.Background()
	mockKB.On("GetByID", mock.Anything, "kb-1").Return(activeKB(), nil)
	mockDocs.On("GetDocument", mock.Anything, "doc-1").Return(testDocument(), nil)
	mockDocs.On("GetExtractedText", mock.Anything, "doc-1").Return("some text", nil)
	mockCache.On("LookupMany", mock.Anything, mock.Anything, "model-x").Return(map[string][]float32{
		HashText("some text"): {0.1, 0.2, 0.3, 0.4},
	}, nil)

	result, err := pipeline.IndexDocument(ctx, "kb-1", "doc-1")

	assert.Error(t, err)
	assert.Equal(t, IndexStateFailed, result.State)
}

func TestIndexingPipeline_RemoveDocument_Idempotent(t *testing.T) {
	mockKB := new(MockKnowledgeBaseRepo)
	mockIndex := new(MockDocumentIndexRepo)
	mockVectors := new(MockVectorRepo)
	tx := &fakeTxRunner{kbs: mockKB, index: mockIndex, vectors: mockVectors}
	pipeline := newTestPipeline(mockKB, new(MockDocumentStore), new(MockEmbeddingClient), new(MockCacheRepo), new(MockQuotaGuard), tx)

	ctx := context.Background()
	mockVectors.On("DeleteByDocument", mock.Anything, "kb-1", "doc-1").Return(int64(0), nil)
	mockIndex.On("Delete", mock.Anything, "kb-1", "doc-1").Return(nil)
	mockIndex.On("Aggregate", mock.Anything, "kb-1").Return(int64(0), int64(0), nil)
	mockKB.On("UpdateCounts", mock.Anything, "kb-1", int64(0), int64(0)).Return(nil)

	removed, err := pipeline.RemoveDocument(ctx, "kb-1", "doc-1")

	assert.NoError(t, err)
	assert.False(t, removed)
}

func TestIndexingPipeline_RemoveDocument_RecomputesAggregates(t *testing.T) {
	mockKB := new(MockKnowledgeBaseRepo)
	mockIndex := new(MockDocumentIndexRepo)
	mockVectors := new(MockVectorRepo)
	tx := &fakeTxRunner{kbs: mockKB, index: mockIndex, vectors: mockVectors}
	pipeline := newTestPipeline(mockKB, new(MockDocumentStore), new(MockEmbeddingClient), new(MockCacheRepo), new(MockQuotaGuard), tx)

	ctx := context.Background()
	mockVectors.On("DeleteByDocument", mock.Anything, "kb-1", "doc-1").Return(int64(7), nil)
	mockIndex.On("Delete", mock.Anything, "kb-1", "doc-1").Return(nil)
	mockIndex.On("Aggregate", mock.Anything, "kb-1").Return(int64(3), int64(41), nil)
	mockKB.On("UpdateCounts", mock.Anything, "kb-1", int64(3), int64(41)).Return(nil)

	removed, err := pipeline.RemoveDocument(ctx, "kb-1", "doc-1")

	assert.NoError(t, err)
	assert.True(t, removed)
	mockKB.AssertExpectations(t)
}
