package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zachwright/daily-drops/internal/pkg/httputil"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// Browser-facing endpoints carry PII; origins are an explicit
	// allow-list, never a wildcard.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httputil.Error(w, http.StatusMethodNotAllowed, "Method not allowed.")
	})
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httputil.Error(w, http.StatusNotFound, "Not found.")
	})

	r.Get("/health", h.HealthCheck)

	r.Route("/newsletter", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Get("/confirm", h.Confirm)
		r.Get("/unsubscribe", h.Unsubscribe)
		// Cron schedulers differ on verb; both hit the same handler and
		// the bearer check gates them equally.
		r.Get("/send", h.Send)
		r.Post("/send", h.Send)
	})

	return r
}
