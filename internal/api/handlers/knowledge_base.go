package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/vectis/internal/api"
	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/service"
)

type KnowledgeBaseService interface {
	Create(ctx context.Context, input service.CreateKBInput) (*domain.KnowledgeBase, error)
	GetByID(ctx context.Context, id string) (*domain.KnowledgeBase, error)
	ListByOrg(ctx context.Context, orgID string) ([]*domain.KnowledgeBase, error)
	Delete(ctx context.Context, id string) error
	EnqueueIndex(ctx context.Context, kbID, documentID string) (*domain.IndexJob, error)
	EnqueueRemove(ctx context.Context, kbID, documentID string) (*domain.IndexJob, error)
}

type KnowledgeBaseHandler struct {
	svc KnowledgeBaseService
}

func NewKnowledgeBaseHandler(svc KnowledgeBaseService) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{svc: svc}
}

type CreateKnowledgeBaseRequest struct {
	OrgID             string   `json:"org_id"`
	Name              string   `json:"name"`
	TagIDs            []string `json:"tag_ids"`
	ChunkerKind       string   `json:"chunker_kind"`
	ChunkSize         int      `json:"chunk_size"`
	ChunkOverlap      int      `json:"chunk_overlap"`
	EmbeddingModel    string   `json:"embedding_model"`
	EmbeddingDim      int      `json:"embedding_dim"`
	CoalesceNeighbors int      `json:"coalesce_neighbors"`
}

type KnowledgeBaseResponse struct {
	ID                string   `json:"id"`
	OrgID             string   `json:"org_id"`
	Name              string   `json:"name"`
	TagIDs            []string `json:"tag_ids"`
	ChunkerKind       string   `json:"chunker_kind"`
	ChunkSize         int      `json:"chunk_size"`
	ChunkOverlap      int      `json:"chunk_overlap"`
	EmbeddingModel    string   `json:"embedding_model"`
	EmbeddingDim      int      `json:"embedding_dim"`
	Status            string   `json:"status"`
	StatusMessage     string   `json:"status_message,omitempty"`
	DocumentCount     int64    `json:"document_count"`
	ChunkCount        int64    `json:"chunk_count"`
	CoalesceNeighbors int      `json:"coalesce_neighbors"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
}

type IndexJobResponse struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	KBID       string `json:"kb_id,omitempty"`
	Action     string `json:"action"`
	Status     string `json:"status"`
}

func kbToResponse(kb *domain.KnowledgeBase) *KnowledgeBaseResponse {
	return &KnowledgeBaseResponse{
		ID:                kb.ID,
		OrgID:             kb.OrgID,
		Name:              kb.Name,
		TagIDs:            kb.TagIDs,
		ChunkerKind:       string(kb.ChunkerKind),
		ChunkSize:         kb.ChunkSize,
		ChunkOverlap:      kb.ChunkOverlap,
		EmbeddingModel:    kb.EmbeddingModel,
		EmbeddingDim:      kb.EmbeddingDim,
		Status:            string(kb.Status),
		StatusMessage:     kb.StatusMessage,
		DocumentCount:     kb.DocumentCount,
		ChunkCount:        kb.ChunkCount,
		CoalesceNeighbors: kb.CoalesceNeighbors,
		CreatedAt:         kb.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:         kb.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func jobToResponse(job *domain.IndexJob) *IndexJobResponse {
	return &IndexJobResponse{
		ID:         job.ID,
		DocumentID: job.DocumentID,
		KBID:       job.KBID,
		Action:     string(job.Action),
		Status:     string(job.Status),
	}
}

func (h *KnowledgeBaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.OrgID == "" {
		api.Error(w, http.StatusBadRequest, "org_id is required")
		return
	}
	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	kb, err := h.svc.Create(r.Context(), service.CreateKBInput{
		OrgID:             req.OrgID,
		Name:              req.Name,
		TagIDs:            req.TagIDs,
		ChunkerKind:       domain.ChunkerKind(req.ChunkerKind),
		ChunkSize:         req.ChunkSize,
		ChunkOverlap:      req.ChunkOverlap,
		EmbeddingModel:    req.EmbeddingModel,
		EmbeddingDim:      req.EmbeddingDim,
		CoalesceNeighbors: req.CoalesceNeighbors,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, kbToResponse(kb))
}

func (h *KnowledgeBaseHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		api.Error(w, http.StatusBadRequest, "org_id is required")
		return
	}

	kbs, err := h.svc.ListByOrg(r.Context(), orgID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*KnowledgeBaseResponse, 0, len(kbs))
	for _, kb := range kbs {
		responses = append(responses, kbToResponse(kb))
	}
	api.Success(w, http.StatusOK, responses)
}

func (h *KnowledgeBaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	kb, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, kbToResponse(kb))
}

func (h *KnowledgeBaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// IndexDocument enqueues asynchronous indexing of a document into a knowledge
// base. The kb id may be omitted via the /documents/{docID}/index route, which
// fans out across all matching bases.
func (h *KnowledgeBaseHandler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "kbID")
	docID := chi.URLParam(r, "docID")
	if docID == "" {
		api.Error(w, http.StatusBadRequest, "document id is required")
		return
	}

	job, err := h.svc.EnqueueIndex(r.Context(), kbID, docID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, jobToResponse(job))
}

func (h *KnowledgeBaseHandler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "kbID")
	docID := chi.URLParam(r, "docID")
	if kbID == "" || docID == "" {
		api.Error(w, http.StatusBadRequest, "knowledge base id and document id are required")
		return
	}

	job, err := h.svc.EnqueueRemove(r.Context(), kbID, docID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, jobToResponse(job))
}
