// Package router wires the TSA endpoint using Chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/tsp/internal/api/handler"
	"github.com/remiblancher/tsp/internal/api/middleware"
	"github.com/remiblancher/tsp/pkg/tsp"
)

// Config holds router configuration.
type Config struct {
	Responder *tsp.Responder
	Version   string
}

// New creates a Chi router with the TSA routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	healthHandler := handler.NewHealthHandler(cfg.Version)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	tsaHandler := handler.NewTSAHandler(cfg.Responder)
	r.Post("/", tsaHandler.Timestamp)
	r.Post("/tsa", tsaHandler.Timestamp)

	return r
}
