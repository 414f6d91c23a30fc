package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/vectis/internal/api"
	"github.com/cloo-solutions/vectis/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, input service.SearchInput) (*service.SearchOutput, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	Query             string                 `json:"query"`
	TopK              int                    `json:"top_k"`
	Skip              int                    `json:"skip"`
	Filters           map[string]interface{} `json:"filters"`
	CoalesceNeighbors *int                   `json:"coalesce_neighbors"`
}

type SearchResultChunkResponse struct {
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	ChunkIndex   int      `json:"chunk_index"`
	Content      string   `json:"content"`
	Score        *float64 `json:"score"`
	Matched      bool     `json:"matched"`
}

type SearchResponse struct {
	Results    []*SearchResultChunkResponse `json:"results"`
	TotalCount int64                        `json:"total_count"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "kbID")
	if kbID == "" {
		api.Error(w, http.StatusBadRequest, "knowledge base id is required")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.Search(r.Context(), service.SearchInput{
		KBID:              kbID,
		Query:             req.Query,
		TopK:              req.TopK,
		Skip:              req.Skip,
		Filters:           service.ParseSearchFilters(req.Filters),
		CoalesceNeighbors: req.CoalesceNeighbors,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	results := make([]*SearchResultChunkResponse, 0, len(out.Results))
	for _, chunk := range out.Results {
		results = append(results, &SearchResultChunkResponse{
			DocumentID:   chunk.DocumentID,
			DocumentName: chunk.DocumentName,
			ChunkIndex:   chunk.ChunkIndex,
			Content:      chunk.Content,
			Score:        chunk.Score,
			Matched:      chunk.Matched,
		})
	}
	api.Success(w, http.StatusOK, SearchResponse{Results: results, TotalCount: out.TotalCount})
}
