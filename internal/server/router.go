package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/vectis/internal/api"
	"github.com/cloo-solutions/vectis/internal/api/handlers"
	"github.com/cloo-solutions/vectis/internal/api/middleware"
)

type RouterConfig struct {
	KnowledgeBaseHandler *handlers.KnowledgeBaseHandler
	SearchHandler        *handlers.SearchHandler
	ReconcileHandler     *handlers.ReconcileHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/kbs", func(r chi.Router) {
		r.Post("/", cfg.KnowledgeBaseHandler.Create)
		r.Get("/", cfg.KnowledgeBaseHandler.List)
		r.Get("/{id}", cfg.KnowledgeBaseHandler.Get)
		r.Delete("/{id}", cfg.KnowledgeBaseHandler.Delete)

		r.Put("/{kbID}/documents/{docID}", cfg.KnowledgeBaseHandler.IndexDocument)
		r.Delete("/{kbID}/documents/{docID}", cfg.KnowledgeBaseHandler.RemoveDocument)

		r.Post("/{kbID}/search", cfg.SearchHandler.Search)
	})

	// Fan-out indexing without a target knowledge base.
	r.Post("/documents/{docID}/index", cfg.KnowledgeBaseHandler.IndexDocument)

	r.Post("/reconcile", cfg.ReconcileHandler.Reconcile)

	return r
}
