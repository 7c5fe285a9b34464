// Package api exposes the runner protocol and the admin surface over HTTP
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"vidforge/internal/apperrors"
	"vidforge/internal/config"
	"vidforge/internal/handlers"
	"vidforge/internal/registry"
	"vidforge/internal/store"
)

type Server struct {
	ctx    context.Context
	config *config.VFConfig
	router *chi.Mux
}

// New creates a new API server instance
func New(ctx context.Context, service *handlers.Service, reg *registry.Registry, st store.Store, conf *config.VFConfig) *Server {
	s := &Server{
		ctx:    ctx,
		config: conf,
		router: chi.NewRouter(),
	}

	// Set up middleware
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	s.router.Route("/api", func(r chi.Router) {
		r.Mount("/runners", NewRunnerRouter(service, reg, st, conf.Server.AdminToken, chi.NewRouter()))
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run blocks serving the API until the listener fails
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	log.Info().Str("addr", addr).Msg("API server listening")
	return http.ListenAndServe(addr, s.router)
}

func readJson(w http.ResponseWriter, r *http.Request, payload any) error {
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close request body")
		}
	}()

	err := json.NewDecoder(r.Body).Decode(payload)
	if err != nil {
		serveError(w, apperrors.Validation("body", "could not parse request body"))
	}
	return err
}

func serveJson(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		http.Error(w, "Failed to encode payload", http.StatusInternalServerError)
		log.Error().Err(err).Msg("JSON encoding issue")
	}
}

// serveError maps the error taxonomy onto HTTP statuses. Internal failures
// are logged server-side and kept opaque to the caller.
func serveError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": message}); encErr != nil {
		log.Error().Err(encErr).Msg("JSON encoding issue")
	}
}
