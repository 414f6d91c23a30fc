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

func testEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		BatchSize:       100,
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestEmbedder_EmbedTexts_AllMissesChargedOnce(t *testing.T) {
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	embedder := NewEmbedderWithConfig(mockClient, mockCache, mockQuota, testEmbedderConfig())

	ctx := context.Background()
	texts := []string{"alpha", "beta"}
	vecA := []float32{0.1, 0.2}
	vecB := []float32{0.3, 0.4}

	mockCache.On("LookupMany", ctx, mock.Anything, "model-x").Return(map[string][]float32{}, nil)
	mockQuota.On("CheckQuota", ctx, "org-1", int64(2)).Return(nil)
	mockClient.On("EmbedBatch", ctx, texts, "model-x").Return([][]float32{vecA, vecB}, nil)
	mockCache.On("Store", ctx, HashText("alpha"), "model-x", vecA).Return(nil)
	mockCache.On("Store", ctx, HashText("beta"), "model-x", vecB).Return(nil)
	mockQuota.On("RecordUsage", ctx, "org-1", int64(2), "openai", "model-x").Return(nil)

	result, err := embedder.EmbedTexts(ctx, "org-1", "model-x", texts)

	assert.NoError(t, err)
	assert.Equal(t, 2, result.CacheMisses)
	assert.Equal(t, [][]float32{vecA, vecB}, result.Vectors)
	assert.Equal(t, []string{HashText("alpha"), HashText("beta")}, result.Hashes)
	mockQuota.AssertExpectations(t)
	mockClient.AssertExpectations(t)
}

func TestEmbedder_EmbedTexts_AllHitsCostNothing(t *testing.T) {
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	embedder := NewEmbedderWithConfig(mockClient, mockCache, mockQuota, testEmbedderConfig())

	ctx := context.Background()
	cached := map[string][]float32{
		HashText("alpha"): {0.1},
		HashText("beta"):  {0.2},
	}
	mockCache.On("LookupMany", ctx, mock.Anything, "model-x").Return(cached, nil)

	result, err := embedder.EmbedTexts(ctx, "org-1", "model-x", []string{"alpha", "beta"})

	assert.NoError(t, err)
	assert.Equal(t, 0, result.CacheMisses)
	assert.Equal(t, [][]float32{{0.1}, {0.2}}, result.Vectors)
	mockClient.AssertNotCalled(t, "EmbedBatch")
	mockQuota.AssertNotCalled(t, "CheckQuota")
	mockQuota.AssertNotCalled(t, "RecordUsage")
}

func TestEmbedder_EmbedTexts_RepeatedChunkEmbeddedOnce(t *testing.T) {
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	embedder := NewEmbedderWithConfig(mockClient, mockCache, mockQuota, testEmbedderConfig())

	ctx := context.Background()
	vec := []float32{0.5}

	// Same text three times: one unique hash, one provider call, one unit.
	mockCache.On("LookupMany", ctx, []string{HashText("same")}, "model-x").Return(map[string][]float32{}, nil)
	mockQuota.On("CheckQuota", ctx, "org-1", int64(1)).Return(nil)
	mockClient.On("EmbedBatch", ctx, []string{"same"}, "model-x").Return([][]float32{vec}, nil).Once()
	mockCache.On("Store", ctx, HashText("same"), "model-x", vec).Return(nil)
	mockQuota.On("RecordUsage", ctx, "org-1", int64(1), "openai", "model-x").Return(nil)

	result, err := embedder.EmbedTexts(ctx, "org-1", "model-x", []string{"same", "same", "same"})

	assert.NoError(t, err)
	assert.Equal(t, 1, result.CacheMisses)
	assert.Equal(t, [][]float32{vec, vec, vec}, result.Vectors)
	mockClient.AssertExpectations(t)
}

func TestEmbedder_EmbedTexts_QuotaExceededBeforeProviderCall(t *testing.T) {
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	embedder := NewEmbedderWithConfig(mockClient, mockCache, mockQuota, testEmbedderConfig())

	ctx := context.Background()
	mockCache.On("LookupMany", ctx, mock.Anything, "model-x").Return(map[string][]float32{}, nil)
	mockQuota.On("CheckQuota", ctx, "org-1", int64(1)).Return(domain.ErrQuotaExceeded)

	_, err := embedder.EmbedTexts(ctx, "org-1", "model-x", []string{"alpha"})

	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	mockClient.AssertNotCalled(t, "EmbedBatch")
	mockQuota.AssertNotCalled(t, "RecordUsage")
}

func TestEmbedder_EmbedTexts_RetriesTransientThenSucceeds(t *testing.T) {
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	embedder := NewEmbedderWithConfig(mockClient, mockCache, mockQuota, testEmbedderConfig())

	ctx := context.Background()
	vec := []float32{0.7}
	transient := domain.NewRetryableProviderError(429, errors.New("rate limited"))

	mockCache.On("LookupMany", ctx, mock.Anything, "model-x").Return(map[string][]float32{}, nil)
	mockQuota.On("CheckQuota", ctx, "org-1", int64(1)).Return(nil)
	mockClient.On("EmbedBatch", ctx, []string{"alpha"}, "model-x").Return(nil, transient).Twice()
	mockClient.On("EmbedBatch", ctx, []string{"alpha"}, "model-x").Return([][]float32{vec}, nil).Once()
	mockCache.On("Store", ctx, HashText("alpha"), "model-x", vec).Return(nil)
	mockQuota.On("RecordUsage", ctx, "org-1", int64(1), "openai", "model-x").Return(nil)

	result, err := embedder.EmbedTexts(ctx, "org-1", "model-x", []string{"alpha"})

	assert.NoError(t, err)
	assert.Equal(t, [][]float32{vec}, result.Vectors)
	mockClient.AssertExpectations(t)
}

func TestEmbedder_EmbedTexts_PermanentErrorNotRetried(t *testing.T) {
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	embedder := NewEmbedderWithConfig(mockClient, mockCache, mockQuota, testEmbedderConfig())

	ctx := context.Background()
	permanent := domain.NewPermanentProviderError(401, errors.New("invalid api key"))

	mockCache.On("LookupMany", ctx, mock.Anything, "model-x").Return(map[string][]float32{}, nil)
	mockQuota.On("CheckQuota", ctx, "org-1", int64(1)).Return(nil)
	mockClient.On("EmbedBatch", ctx, []string{"alpha"}, "model-x").Return(nil, permanent).Once()

	_, err := embedder.EmbedTexts(ctx, "org-1", "model-x", []string{"alpha"})

	assert.Error(t, err)
	assert.True(t, domain.IsPermanentProviderError(err))
	mockClient.AssertNumberOfCalls(t, "EmbedBatch", 1)
	mockQuota.AssertNotCalled(t, "RecordUsage")
}

func TestEmbedder_EmbedTexts_TransientExhaustedReturnsRetryable(t *testing.T) {
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	cfg := testEmbedderConfig()
	cfg.MaxRetries = 2
	embedder := NewEmbedderWithConfig(mockClient, mockCache, mockQuota, cfg)

	ctx := context.Background()
	transient := domain.NewRetryableProviderError(503, errors.New("unavailable"))

	mockCache.On("LookupMany", ctx, mock.Anything, "model-x").Return(map[string][]float32{}, nil)
	mockQuota.On("CheckQuota", ctx, "org-1", int64(1)).Return(nil)
	mockClient.On("EmbedBatch", ctx, []string{"alpha"}, "model-x").Return(nil, transient)

	_, err := embedder.EmbedTexts(ctx, "org-1", "model-x", []string{"alpha"})

	assert.Error(t, err)
	assert.True(t, domain.IsRetryableProviderError(err))
	// initial attempt + 2 retries
	mockClient.AssertNumberOfCalls(t, "EmbedBatch", 3)
	mockQuota.AssertNotCalled(t, "RecordUsage")
}

func TestEmbedder_EmbedQuery_CacheHitSkipsQuota(t *testing.T) {
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	embedder := NewEmbedderWithConfig(mockClient, mockCache, mockQuota, testEmbedderConfig())

	ctx := context.Background()
	vec := []float32{0.9}
	mockCache.On("Lookup", ctx, HashText("query"), "model-x").Return(vec, true, nil)

	got, err := embedder.EmbedQuery(ctx, "org-1", "model-x", "query")

	assert.NoError(t, err)
	assert.Equal(t, vec, got)
	mockClient.AssertNotCalled(t, "EmbedBatch")
	mockQuota.AssertNotCalled(t, "CheckQuota")
}

func TestEmbedder_EmbedQuery_MissChargedOneUnit(t *testing.T) {
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	embedder := NewEmbedderWithConfig(mockClient, mockCache, mockQuota, testEmbedderConfig())

	ctx := context.Background()
	vec := []float32{0.9}
	mockCache.On("Lookup", ctx, HashText("query"), "model-x").Return(nil, false, nil)
	mockQuota.On("CheckQuota", ctx, "org-1", int64(1)).Return(nil)
	mockClient.On("EmbedBatch", ctx, []string{"query"}, "model-x").Return([][]float32{vec}, nil)
	mockCache.On("Store", ctx, HashText("query"), "model-x", vec).Return(nil)
	mockQuota.On("RecordUsage", ctx, "org-1", int64(1), "openai", "model-x").Return(nil)

	got, err := embedder.EmbedQuery(ctx, "org-1", "model-x", "query")

	assert.NoError(t, err)
	assert.Equal(t, vec, got)
	mockQuota.AssertExpectations(t)
}

func TestEmbedder_EmbedTexts_BatchesLargeInputs(t *testing.T) {
	mockClient := new(MockEmbeddingClient)
	mockCache := new(MockCacheRepo)
	mockQuota := new(MockQuotaGuard)
	cfg := testEmbedderConfig()
	cfg.BatchSize = 2
	embedder := NewEmbedderWithConfig(mockClient, mockCache, mockQuota, cfg)

	ctx := context.Background()
	texts := []string{"a", "b", "c"}
	mockCache.On("LookupMany", ctx, mock.Anything, "model-x").Return(map[string][]float32{}, nil)
	mockQuota.On("CheckQuota", ctx, "org-1", int64(3)).Return(nil)
	mockClient.On("EmbedBatch", ctx, []string{"a", "b"}, "model-x").Return([][]float32{{0.1}, {0.2}}, nil)
	mockClient.On("EmbedBatch", ctx, []string{"c"}, "model-x").Return([][]float32{{0.3}}, nil)
	mockCache.On("Store", ctx, mock.Anything, "model-x", mock.Anything).Return(nil)
	mockQuota.On("RecordUsage", ctx, "org-1", int64(3), "openai", "model-x").Return(nil)

	result, err := embedder.EmbedTexts(ctx, "org-1", "model-x", texts)

	assert.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1}, {0.2}, {0.3}}, result.Vectors)
	mockClient.AssertExpectations(t)
}

func TestHashText_Deterministic(t *testing.T) {
	assert.Equal(t, HashText("same text"), HashText("same text"))
	assert.NotEqual(t, HashText("one"), HashText("two"))
	assert.Len(t, HashText("anything"), 64)
}
