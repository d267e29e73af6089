package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts the handler on a chi router with request logging,
// panic recovery and CORS for allowedOrigins.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.healthz)
	r.Get("/topology", h.topology)
	r.Get("/catalog", h.catalog)
	r.Get("/drift", h.driftStatus)
	r.Get("/relations/{database}/{name}/verdict", h.verdict)
	return r
}
