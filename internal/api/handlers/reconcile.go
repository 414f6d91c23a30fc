package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloo-solutions/vectis/internal/api"
	"github.com/cloo-solutions/vectis/internal/service"
)

type ReconcileService interface {
	Reconcile(ctx context.Context, input service.ReconcileInput) (*service.ReconcileReport, error)
}

type ReconcileHandler struct {
	svc ReconcileService
}

func NewReconcileHandler(svc ReconcileService) *ReconcileHandler {
	return &ReconcileHandler{svc: svc}
}

type ReconcileRequest struct {
	KBID       string `json:"kb_id"`
	DocumentID string `json:"document_id"`
	DryRun     bool   `json:"dry_run"`
}

func (h *ReconcileHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := h.svc.Reconcile(r.Context(), service.ReconcileInput{
		KBID:       req.KBID,
		DocumentID: req.DocumentID,
		DryRun:     req.DryRun,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, report)
}
