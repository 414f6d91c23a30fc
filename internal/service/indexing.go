package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/telemetry"
)

// IndexState is the terminal state of one indexing attempt.
type IndexState string

const (
	// IndexStateRecorded means the new generation was swapped in and the
	// index entry recorded.
	IndexStateRecorded IndexState = "recorded"
	// IndexStateSkipped means the document had no extractable text. Not an
	// error, and nothing was charged.
	IndexStateSkipped IndexState = "skipped"
	// IndexStateFailed means the attempt failed; the prior generation is
	// fully intact.
	IndexStateFailed IndexState = "failed"
)

// IndexResult reports the outcome of an indexing attempt.
type IndexResult struct {
	State       IndexState
	KBID        string
	DocumentID  string
	ChunkCount  int
	CacheMisses int
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// IndexingPipeline runs one document through chunk → embed → atomic swap.
// The swap replaces the prior vector generation, upserts the index entry and
// recomputes the knowledge base aggregates in a single transaction, so
// readers never observe a mix of generations and a failure anywhere inside
// leaves the prior generation untouched.
type IndexingPipeline struct {
	kbRepo   KnowledgeBaseRepo
	docs     DocumentStore
	embedder *Embedder
	tx       TxRunner
	uuidGen  UUIDGenerator
}

// NewIndexingPipeline creates a new IndexingPipeline instance
func NewIndexingPipeline(kbRepo KnowledgeBaseRepo, docs DocumentStore, embedder *Embedder, tx TxRunner) *IndexingPipeline {
	return &IndexingPipeline{
		kbRepo:   kbRepo,
		docs:     docs,
		embedder: embedder,
		tx:       tx,
		uuidGen:  &DefaultUUIDGenerator{},
	}
}

// NewIndexingPipelineWithUUIDGen creates a pipeline with a custom UUID
// generator (for testing).
func NewIndexingPipelineWithUUIDGen(kbRepo KnowledgeBaseRepo, docs DocumentStore, embedder *Embedder, tx TxRunner, uuidGen UUIDGenerator) *IndexingPipeline {
	p := NewIndexingPipeline(kbRepo, docs, embedder, tx)
	p.uuidGen = uuidGen
	return p
}

// IndexDocument indexes one document into one knowledge base, replacing any
// prior generation.
func (p *IndexingPipeline) IndexDocument(ctx context.Context, kbID, documentID string) (*IndexResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "IndexingPipeline.IndexDocument", telemetry.SpanAttributes{
		KBID:       kbID,
		DocumentID: documentID,
	})
	defer span.End()

	kb, err := p.kbRepo.GetByID(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb.Status == domain.KnowledgeBaseStatusError {
		return nil, domain.ErrKnowledgeBaseDisabled
	}

	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	text, err := p.docs.GetExtractedText(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return &IndexResult{State: IndexStateSkipped, KBID: kbID, DocumentID: documentID}, nil
	}

	chunks := ChunkText(text, kb.ChunkerKind, kb.ChunkSize, kb.ChunkOverlap)
	if len(chunks) == 0 {
		return &IndexResult{State: IndexStateSkipped, KBID: kbID, DocumentID: documentID}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embedded, err := p.embedder.EmbedTexts(ctx, kb.OrgID, kb.EmbeddingModel, texts)
	if err != nil {
		span.SetError(err)
		if domain.IsPermanentProviderError(err) {
			if statusErr := p.kbRepo.UpdateStatus(ctx, kb.ID, domain.KnowledgeBaseStatusError, err.Error()); statusErr != nil {
				log.Printf("indexing: failed to mark kb %s as errored: %v", kb.ID, statusErr)
			}
		}
		return &IndexResult{State: IndexStateFailed, KBID: kbID, DocumentID: documentID}, err
	}

	now := time.Now().UTC()
	snapshot := domain.MetadataSnapshot{
		Name:       doc.Name,
		TagIDs:     doc.TagIDs,
		UploadedAt: doc.UploadedAt,
	}

	records := make([]*domain.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = &domain.VectorRecord{
			ID:         p.uuidGen.NewString(),
			KBID:       kb.ID,
			OrgID:      kb.OrgID,
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			ChunkHash:  embedded.Hashes[i],
			ChunkText:  c.Text,
			Embedding:  embedded.Vectors[i],
			TokenCount: c.TokenCount,
			Metadata:   snapshot,
			IndexedAt:  now,
		}
	}

	err = p.tx.WithTx(ctx, func(repos TxRepositories) error {
		if _, err := repos.Vectors().DeleteByDocument(ctx, kb.ID, doc.ID); err != nil {
			return fmt.Errorf("failed to delete prior generation: %w", err)
		}
		if err := repos.Vectors().InsertRecords(ctx, records); err != nil {
			return fmt.Errorf("failed to insert vector records: %w", err)
		}
		entry := &domain.DocumentIndexEntry{
			KBID:       kb.ID,
			DocumentID: doc.ID,
			ChunkCount: len(records),
			IndexedAt:  now,
		}
		if err := repos.DocumentIndex().Upsert(ctx, entry); err != nil {
			return fmt.Errorf("failed to upsert document index entry: %w", err)
		}
		return recomputeAggregates(ctx, repos, kb.ID)
	})
	if err != nil {
		span.SetError(err)
		return &IndexResult{State: IndexStateFailed, KBID: kbID, DocumentID: documentID}, err
	}

	return &IndexResult{
		State:       IndexStateRecorded,
		KBID:        kb.ID,
		DocumentID:  doc.ID,
		ChunkCount:  len(records),
		CacheMisses: embedded.CacheMisses,
	}, nil
}

// RemoveDocument deletes a document's vectors and index entry from a
// knowledge base in one transaction and recomputes the aggregates. It is
// idempotent; the returned bool reports whether anything was deleted.
func (p *IndexingPipeline) RemoveDocument(ctx context.Context, kbID, documentID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "IndexingPipeline.RemoveDocument", telemetry.SpanAttributes{
		KBID:       kbID,
		DocumentID: documentID,
	})
	defer span.End()

	removed := false
	err := p.tx.WithTx(ctx, func(repos TxRepositories) error {
		deleted, err := repos.Vectors().DeleteByDocument(ctx, kbID, documentID)
		if err != nil {
			return fmt.Errorf("failed to delete vector records: %w", err)
		}
		if err := repos.DocumentIndex().Delete(ctx, kbID, documentID); err != nil {
			return fmt.Errorf("failed to delete document index entry: %w", err)
		}
		removed = deleted > 0
		return recomputeAggregates(ctx, repos, kbID)
	})
	if err != nil {
		span.SetError(err)
		return false, err
	}
	return removed, nil
}

// recomputeAggregates sets knowledge base counters from authoritative index
// entry data inside the surrounding transaction.
func recomputeAggregates(ctx context.Context, repos TxRepositories, kbID string) error {
	documentCount, chunkCount, err := repos.DocumentIndex().Aggregate(ctx, kbID)
	if err != nil {
		return fmt.Errorf("failed to aggregate index entries: %w", err)
	}
	if err := repos.KnowledgeBases().UpdateCounts(ctx, kbID, documentCount, chunkCount); err != nil {
		return fmt.Errorf("failed to update knowledge base counts: %w", err)
	}
	return nil
}
