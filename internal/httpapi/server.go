package httpapi

import (
	"net/http"
	"time"

	"prompt-rag/internal/config"
	"prompt-rag/internal/rag"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const maxUploadSize = 32 << 20

// Handler serves the prompt and retrieval API
type Handler struct {
	service   *rag.PromptService
	retriever *rag.Retriever
}

func NewHandler(service *rag.PromptService, retriever *rag.Retriever) *Handler {
	return &Handler{service: service, retriever: retriever}
}

// Router builds the chi router with middleware and every route
func (h *Handler) Router(cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)

	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Get("/stats", h.stats)
		r.Post("/search", h.search)
		r.Post("/related", h.related)

		r.Route("/prompts", func(r chi.Router) {
			r.Get("/", h.listPrompts)
			r.Post("/", h.createPrompt)
			r.Route("/{promptID}", func(r chi.Router) {
				r.Get("/", h.getPrompt)
				r.Patch("/", h.updatePrompt)
				r.Delete("/", h.deletePrompt)
				r.Post("/reindex", h.reindex)
				r.Post("/context", h.getContext)
				r.Post("/apply", h.apply)

				r.Get("/files", h.listFiles)
				r.Post("/files", h.uploadFile)
				r.Delete("/files/{fileID}", h.deleteFile)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "endpoint not found"})
	})

	return r
}

// NewServer wraps the router in an http.Server with the configured address
func NewServer(cfg config.ServerConfig, h *Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Router(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
