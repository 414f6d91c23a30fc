package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/telemetry"
)

const (
	defaultChunkSize    = 200
	defaultChunkOverlap = 20
)

// CreateKBInput represents the input for creating a knowledge base.
type CreateKBInput struct {
	OrgID             string
	Name              string
	TagIDs            []string
	ChunkerKind       domain.ChunkerKind
	ChunkSize         int
	ChunkOverlap      int
	EmbeddingModel    string
	EmbeddingDim      int
	CoalesceNeighbors int
}

// KnowledgeBaseService handles knowledge base lifecycle and the enqueue-side
// of the indexing operations.
type KnowledgeBaseService struct {
	kbRepo  KnowledgeBaseRepo
	docs    DocumentStore
	vectors VectorRepo
	queue   IndexJobQueue
	uuidGen UUIDGenerator

	defaultModel string
	defaultDim   int
}

// NewKnowledgeBaseService creates a new KnowledgeBaseService instance
func NewKnowledgeBaseService(kbRepo KnowledgeBaseRepo, docs DocumentStore, vectors VectorRepo, queue IndexJobQueue, defaultModel string, defaultDim int) *KnowledgeBaseService {
	return &KnowledgeBaseService{
		kbRepo:       kbRepo,
		docs:         docs,
		vectors:      vectors,
		queue:        queue,
		uuidGen:      &DefaultUUIDGenerator{},
		defaultModel: defaultModel,
		defaultDim:   defaultDim,
	}
}

// WithUUIDGen overrides the UUID generator (for testing).
func (s *KnowledgeBaseService) WithUUIDGen(gen UUIDGenerator) *KnowledgeBaseService {
	s.uuidGen = gen
	return s
}

// Create validates the configuration, persists the knowledge base in the
// indexing state and provisions its vector collection. The KB becomes active
// once provisioning succeeds; a provisioning failure leaves it in the error
// state for an operator to investigate.
func (s *KnowledgeBaseService) Create(ctx context.Context, input CreateKBInput) (*domain.KnowledgeBase, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.Create", telemetry.SpanAttributes{
		OrgID: input.OrgID,
	})
	defer span.End()

	now := time.Now().UTC()
	kb := &domain.KnowledgeBase{
		ID:                s.uuidGen.NewString(),
		OrgID:             input.OrgID,
		Name:              input.Name,
		TagIDs:            input.TagIDs,
		ChunkerKind:       input.ChunkerKind,
		ChunkSize:         input.ChunkSize,
		ChunkOverlap:      input.ChunkOverlap,
		EmbeddingModel:    input.EmbeddingModel,
		EmbeddingDim:      input.EmbeddingDim,
		Status:            domain.KnowledgeBaseStatusIndexing,
		CoalesceNeighbors: input.CoalesceNeighbors,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if kb.ChunkerKind == "" {
		kb.ChunkerKind = domain.ChunkerKindTokenWindow
	}
	if kb.ChunkSize == 0 {
		kb.ChunkSize = defaultChunkSize
		if input.ChunkOverlap == 0 {
			kb.ChunkOverlap = defaultChunkOverlap
		}
	}
	if kb.EmbeddingModel == "" {
		kb.EmbeddingModel = s.defaultModel
	}
	if kb.EmbeddingDim == 0 {
		kb.EmbeddingDim = s.defaultDim
	}

	if err := domain.ValidateKnowledgeBase(kb); err != nil {
		return nil, err
	}

	if err := s.kbRepo.Create(ctx, kb); err != nil {
		span.SetError(err)
		return nil, err
	}

	if err := s.vectors.EnsureCollection(ctx, kb); err != nil {
		span.SetError(err)
		if statusErr := s.kbRepo.UpdateStatus(ctx, kb.ID, domain.KnowledgeBaseStatusError, err.Error()); statusErr != nil {
			log.Printf("kb: failed to mark kb %s as errored: %v", kb.ID, statusErr)
		}
		return nil, fmt.Errorf("failed to provision vector collection: %w", err)
	}

	if err := s.kbRepo.UpdateStatus(ctx, kb.ID, domain.KnowledgeBaseStatusActive, ""); err != nil {
		span.SetError(err)
		return nil, err
	}
	kb.Status = domain.KnowledgeBaseStatusActive

	return kb, nil
}

// GetByID returns a knowledge base by id.
func (s *KnowledgeBaseService) GetByID(ctx context.Context, id string) (*domain.KnowledgeBase, error) {
	return s.kbRepo.GetByID(ctx, id)
}

// ListByOrg returns all knowledge bases owned by an organization.
func (s *KnowledgeBaseService) ListByOrg(ctx context.Context, orgID string) ([]*domain.KnowledgeBase, error) {
	return s.kbRepo.ListByOrg(ctx, orgID)
}

// Delete drops the knowledge base's vector collection and deletes the record.
// Index entries cascade with it.
func (s *KnowledgeBaseService) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.Delete", telemetry.SpanAttributes{
		KBID: id,
	})
	defer span.End()

	kb, err := s.kbRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.vectors.DropCollection(ctx, kb); err != nil {
		span.SetError(err)
		return fmt.Errorf("failed to drop vector collection: %w", err)
	}
	return s.kbRepo.Delete(ctx, id)
}

// EnqueueIndex requests asynchronous indexing of a document into a knowledge
// base. An empty kbID fans the document out to every matching knowledge base.
func (s *KnowledgeBaseService) EnqueueIndex(ctx context.Context, kbID, documentID string) (*domain.IndexJob, error) {
	if kbID != "" {
		kb, err := s.kbRepo.GetByID(ctx, kbID)
		if err != nil {
			return nil, err
		}
		if kb.Status == domain.KnowledgeBaseStatusError {
			return nil, domain.ErrKnowledgeBaseDisabled
		}
	}
	if _, err := s.docs.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	job := domain.NewIndexJob(s.uuidGen.NewString(), documentID, kbID, domain.IndexJobActionIndex)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueRemove requests asynchronous removal of a document from a knowledge
// base.
func (s *KnowledgeBaseService) EnqueueRemove(ctx context.Context, kbID, documentID string) (*domain.IndexJob, error) {
	if _, err := s.kbRepo.GetByID(ctx, kbID); err != nil {
		return nil, err
	}

	job := domain.NewIndexJob(s.uuidGen.NewString(), documentID, kbID, domain.IndexJobActionRemove)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}
