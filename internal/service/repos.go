package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/vectis/internal/domain"
)

// KnowledgeBaseRepo defines the repository interface for knowledge base
// persistence.
type KnowledgeBaseRepo interface {
	Create(ctx context.Context, kb *domain.KnowledgeBase) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeBase, error)
	ListByOrg(ctx context.Context, orgID string) ([]*domain.KnowledgeBase, error)
	List(ctx context.Context) ([]*domain.KnowledgeBase, error)
	UpdateStatus(ctx context.Context, id string, status domain.KnowledgeBaseStatus, message string) error
	UpdateCounts(ctx context.Context, id string, documentCount, chunkCount int64) error
	Delete(ctx context.Context, id string) error
}

// DocumentIndexRepo persists which documents are currently indexed in which
// knowledge bases.
type DocumentIndexRepo interface {
	Upsert(ctx context.Context, entry *domain.DocumentIndexEntry) error
	Get(ctx context.Context, kbID, documentID string) (*domain.DocumentIndexEntry, error)
	Delete(ctx context.Context, kbID, documentID string) error
	ListByKB(ctx context.Context, kbID, afterDocumentID string, limit int) ([]*domain.DocumentIndexEntry, error)
	ListByDocument(ctx context.Context, documentID string) ([]*domain.DocumentIndexEntry, error)
	// Aggregate recomputes document and chunk counts from the entries
	// themselves. Knowledge base counters are only ever set from this,
	// never incremented.
	Aggregate(ctx context.Context, kbID string) (documentCount, chunkCount int64, err error)
	DeleteByKB(ctx context.Context, kbID string) error
}

// VectorHit is one similarity match returned by VectorRepo.Search.
type VectorHit struct {
	Record *domain.VectorRecord
	Score  float64
}

// VectorRepo persists and searches the per-knowledge-base vector collections.
type VectorRepo interface {
	// EnsureCollection provisions the knowledge base's vector collection
	// and its similarity index. The index may finish building
	// asynchronously; Search reports domain.ErrIndexNotReady until then.
	EnsureCollection(ctx context.Context, kb *domain.KnowledgeBase) error
	DropCollection(ctx context.Context, kb *domain.KnowledgeBase) error
	InsertRecords(ctx context.Context, records []*domain.VectorRecord) error
	DeleteByDocument(ctx context.Context, kbID, documentID string) (int64, error)
	CountByDocument(ctx context.Context, kbID, documentID string) (int64, error)
	ListDocumentIDs(ctx context.Context, kbID, afterDocumentID string, limit int) ([]string, error)
	Search(ctx context.Context, kb *domain.KnowledgeBase, embedding []float32, filters SearchFilters, limit, skip int) ([]*VectorHit, int64, error)
	// Neighbors returns records for the same document with chunk_index in
	// [center-n, center+n], ordered by chunk_index.
	Neighbors(ctx context.Context, kbID, documentID string, center, n int) ([]*domain.VectorRecord, error)
}

// CacheRepo is the content-addressed embedding cache shared across all
// knowledge bases and documents.
type CacheRepo interface {
	Lookup(ctx context.Context, hash, model string) ([]float32, bool, error)
	LookupMany(ctx context.Context, hashes []string, model string) (map[string][]float32, error)
	// Store is an idempotent upsert; concurrent writers racing on the same
	// key resolve last-write-wins.
	Store(ctx context.Context, hash, model string, vector []float32) error
	// DeleteOlderThan is the eviction extension point. Nothing calls it
	// unless an operator schedules it.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// LockRepo provides the per-knowledge-base reconciliation lease.
type LockRepo interface {
	// Acquire succeeds only if no lock row exists for the knowledge base
	// or the existing row's TTL has expired.
	Acquire(ctx context.Context, kbID, workerID string, ttl time.Duration) (bool, error)
	// Release deletes the lock only if workerID still holds it.
	Release(ctx context.Context, kbID, workerID string) error
}

// QuotaGuard is the external credit collaborator. CheckQuota fails with
// domain.ErrQuotaExceeded before any provider call is made.
type QuotaGuard interface {
	CheckQuota(ctx context.Context, orgID string, units int64) error
	RecordUsage(ctx context.Context, orgID string, units int64, provider, model string) error
}

// DocumentStore is the external document collaborator.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	// GetExtractedText returns the empty string when no text is available.
	GetExtractedText(ctx context.Context, id string) (string, error)
	ListByAnyTag(ctx context.Context, tagIDs []string, afterID string, limit int) ([]*domain.Document, error)
}

// IndexJobQueue enqueues corrective indexing work.
type IndexJobQueue interface {
	Enqueue(ctx context.Context, job *domain.IndexJob) error
}

// EmbeddingClient defines the provider interface for embedding generation.
type EmbeddingClient interface {
	EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
}
