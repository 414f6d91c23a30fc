package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/vectis/internal/domain"
)

// MockKnowledgeBaseRepo mocks the knowledge base repository
type MockKnowledgeBaseRepo struct {
	mock.Mock
}

func (m *MockKnowledgeBaseRepo) Create(ctx context.Context, kb *domain.KnowledgeBase) error {
	args := m.Called(ctx, kb)
	return args.Error(0)
}

func (m *MockKnowledgeBaseRepo) GetByID(ctx context.Context, id string) (*domain.KnowledgeBase, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeBase), args.Error(1)
}

func (m *MockKnowledgeBaseRepo) ListByOrg(ctx context.Context, orgID string) ([]*domain.KnowledgeBase, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeBase), args.Error(1)
}

func (m *MockKnowledgeBaseRepo) List(ctx context.Context) ([]*domain.KnowledgeBase, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeBase), args.Error(1)
}

func (m *MockKnowledgeBaseRepo) UpdateStatus(ctx context.Context, id string, status domain.KnowledgeBaseStatus, message string) error {
	args := m.Called(ctx, id, status, message)
	return args.Error(0)
}

func (m *MockKnowledgeBaseRepo) UpdateCounts(ctx context.Context, id string, documentCount, chunkCount int64) error {
	args := m.Called(ctx, id, documentCount, chunkCount)
	return args.Error(0)
}

func (m *MockKnowledgeBaseRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockDocumentIndexRepo mocks the document index repository
type MockDocumentIndexRepo struct {
	mock.Mock
}

func (m *MockDocumentIndexRepo) Upsert(ctx context.Context, entry *domain.DocumentIndexEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDocumentIndexRepo) Get(ctx context.Context, kbID, documentID string) (*domain.DocumentIndexEntry, error) {
	args := m.Called(ctx, kbID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DocumentIndexEntry), args.Error(1)
}

func (m *MockDocumentIndexRepo) Delete(ctx context.Context, kbID, documentID string) error {
	args := m.Called(ctx, kbID, documentID)
	return args.Error(0)
}

func (m *MockDocumentIndexRepo) ListByKB(ctx context.Context, kbID, afterDocumentID string, limit int) ([]*domain.DocumentIndexEntry, error) {
	args := m.Called(ctx, kbID, afterDocumentID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DocumentIndexEntry), args.Error(1)
}

func (m *MockDocumentIndexRepo) ListByDocument(ctx context.Context, documentID string) ([]*domain.DocumentIndexEntry, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DocumentIndexEntry), args.Error(1)
}

func (m *MockDocumentIndexRepo) Aggregate(ctx context.Context, kbID string) (int64, int64, error) {
	args := m.Called(ctx, kbID)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockDocumentIndexRepo) DeleteByKB(ctx context.Context, kbID string) error {
	args := m.Called(ctx, kbID)
	return args.Error(0)
}

// MockVectorRepo mocks the vector store repository
type MockVectorRepo struct {
	mock.Mock
}

func (m *MockVectorRepo) EnsureCollection(ctx context.Context, kb *domain.KnowledgeBase) error {
	args := m.Called(ctx, kb)
	return args.Error(0)
}

func (m *MockVectorRepo) DropCollection(ctx context.Context, kb *domain.KnowledgeBase) error {
	args := m.Called(ctx, kb)
	return args.Error(0)
}

func (m *MockVectorRepo) InsertRecords(ctx context.Context, records []*domain.VectorRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockVectorRepo) DeleteByDocument(ctx context.Context, kbID, documentID string) (int64, error) {
	args := m.Called(ctx, kbID, documentID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVectorRepo) CountByDocument(ctx context.Context, kbID, documentID string) (int64, error) {
	args := m.Called(ctx, kbID, documentID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVectorRepo) ListDocumentIDs(ctx context.Context, kbID, afterDocumentID string, limit int) ([]string, error) {
	args := m.Called(ctx, kbID, afterDocumentID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockVectorRepo) Search(ctx context.Context, kb *domain.KnowledgeBase, embedding []float32, filters SearchFilters, limit, skip int) ([]*VectorHit, int64, error) {
	args := m.Called(ctx, kb, embedding, filters, limit, skip)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*VectorHit), args.Get(1).(int64), args.Error(2)
}

func (m *MockVectorRepo) Neighbors(ctx context.Context, kbID, documentID string, center, n int) ([]*domain.VectorRecord, error) {
	args := m.Called(ctx, kbID, documentID, center, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.VectorRecord), args.Error(1)
}

// MockCacheRepo mocks the embedding cache repository
type MockCacheRepo struct {
	mock.Mock
}

func (m *MockCacheRepo) Lookup(ctx context.Context, hash, model string) ([]float32, bool, error) {
	args := m.Called(ctx, hash, model)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]float32), args.Bool(1), args.Error(2)
}

func (m *MockCacheRepo) LookupMany(ctx context.Context, hashes []string, model string) (map[string][]float32, error) {
	args := m.Called(ctx, hashes, model)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]float32), args.Error(1)
}

func (m *MockCacheRepo) Store(ctx context.Context, hash, model string, vector []float32) error {
	args := m.Called(ctx, hash, model, vector)
	return args.Error(0)
}

func (m *MockCacheRepo) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	args := m.Called(ctx, age)
	return args.Get(0).(int64), args.Error(1)
}

// MockLockRepo mocks the reconciliation lease repository
type MockLockRepo struct {
	mock.Mock
}

func (m *MockLockRepo) Acquire(ctx context.Context, kbID, workerID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, kbID, workerID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLockRepo) Release(ctx context.Context, kbID, workerID string) error {
	args := m.Called(ctx, kbID, workerID)
	return args.Error(0)
}

// MockQuotaGuard mocks the quota collaborator
type MockQuotaGuard struct {
	mock.Mock
}

func (m *MockQuotaGuard) CheckQuota(ctx context.Context, orgID string, units int64) error {
	args := m.Called(ctx, orgID, units)
	return args.Error(0)
}

func (m *MockQuotaGuard) RecordUsage(ctx context.Context, orgID string, units int64, provider, model string) error {
	args := m.Called(ctx, orgID, units, provider, model)
	return args.Error(0)
}

// MockDocumentStore mocks the document store collaborator
type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentStore) GetExtractedText(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockDocumentStore) ListByAnyTag(ctx context.Context, tagIDs []string, afterID string, limit int) ([]*domain.Document, error) {
	args := m.Called(ctx, tagIDs, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

// MockIndexJobQueue mocks the index job queue
type MockIndexJobQueue struct {
	mock.Mock
}

func (m *MockIndexJobQueue) Enqueue(ctx context.Context, job *domain.IndexJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// MockEmbeddingClient mocks the embedding provider client
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	args := m.Called(ctx, texts, model)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

// MockDocumentRemover mocks the transactional document removal
type MockDocumentRemover struct {
	mock.Mock
}

func (m *MockDocumentRemover) RemoveDocument(ctx context.Context, kbID, documentID string) (bool, error) {
	args := m.Called(ctx, kbID, documentID)
	return args.Bool(0), args.Error(1)
}

// fakeTxRunner runs the function against the provided repositories without a
// real transaction. An optional beginErr simulates a failure to open the tx.
type fakeTxRunner struct {
	kbs      KnowledgeBaseRepo
	index    DocumentIndexRepo
	vectors  VectorRepo
	beginErr error
}

func (f *fakeTxRunner) KnowledgeBases() KnowledgeBaseRepo { return f.kbs }
func (f *fakeTxRunner) DocumentIndex() DocumentIndexRepo  { return f.index }
func (f *fakeTxRunner) Vectors() VectorRepo               { return f.vectors }

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	if f.beginErr != nil {
		return f.beginErr
	}
	return fn(f)
}

// fixedUUIDGen returns predetermined ids in order.
type fixedUUIDGen struct {
	ids  []string
	next int
}

func (g *fixedUUIDGen) NewString() string {
	if g.next >= len(g.ids) {
		return "uuid-overflow"
	}
	id := g.ids[g.next]
	g.next++
	return id
}
