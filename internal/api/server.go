// Package api exposes the public HTTP surface: signup, confirmation,
// unsubscribe, the cron-triggered dispatch endpoint, and a health check.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zachwright/daily-drops/internal/config"
	"github.com/zachwright/daily-drops/internal/mailer"
	"github.com/zachwright/daily-drops/internal/newsletter"
	"github.com/zachwright/daily-drops/internal/pkg/distlock"
	"github.com/zachwright/daily-drops/internal/privacy"
	"github.com/zachwright/daily-drops/internal/updates"
)

// Server represents the API server.
type Server struct {
	config   config.NewsletterConfig
	handler  http.Handler
	handlers *Handlers
	router   *chi.Mux
	server   *http.Server
}

// Deps carries the wired components the handlers need.
type Deps struct {
	Store      *newsletter.Store
	Limiter    *newsletter.Limiter
	Dispatcher *newsletter.Dispatcher
	Hasher     *privacy.Hasher
	Cipher     *privacy.Cipher
	Tokens     *newsletter.TokenSigner
	Mailer     mailer.Mailer
	Updates    updates.Source
	SendLock   distlock.DistLock
}

// NewServer creates a new API server.
func NewServer(cfg config.NewsletterConfig, deps Deps) *Server {
	handlers := NewHandlers(cfg, deps)
	router := SetupRoutes(handlers, cfg.AllowedOrigins)

	return &Server{
		config:   cfg,
		handler:  router,
		handlers: handlers,
		router:   router,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Dispatch runs inline in the cron request, so writes can take a
		// while when the batch is full.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
