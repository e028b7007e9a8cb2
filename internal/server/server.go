// Package server exposes the session and selection engines over a small
// JSON API. The host platform terminates authentication and passes the
// caller's identity in the X-User-ID header.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/memodrill/memodrill/internal/config"
	"github.com/memodrill/memodrill/internal/selection"
	"github.com/memodrill/memodrill/internal/session"
)

// Server is the HTTP front of the scheduling engine.
type Server struct {
	cfg      *config.Config
	sessions *session.Engine
	selector *selection.Engine
	http     *http.Server
}

// New creates the server and its router.
func New(cfg *config.Config, sessions *session.Engine, selector *selection.Engine) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		selector: selector,
	}

	limiter := newClientLimiter(cfg.RateLimit)

	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(limiter.middleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/sessions", s.handleStartSession)
		r.Get("/sessions/resume", s.handleResumeSession)
		r.Post("/sessions/{id}/batch", s.handleNextBatch)
		r.Post("/sessions/{id}/answers", s.handleSubmitAnswers)
		r.Post("/sessions/{id}/end", s.handleEndSession)
		r.Get("/selection/count", s.handleCount)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Printf("server: listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
