// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/meridianlabs/valuation-engine/cmd/valuation-engine-api/handlers"
	"github.com/meridianlabs/valuation-engine/cmd/valuation-engine-api/middleware"
	"github.com/meridianlabs/valuation-engine/internal/config"
	"github.com/meridianlabs/valuation-engine/internal/job"
	"github.com/meridianlabs/valuation-engine/internal/observability"
	"github.com/meridianlabs/valuation-engine/internal/pipeline"
	"github.com/meridianlabs/valuation-engine/internal/storage"
)

// Dependencies carries the constructed services the router wires into
// handlers.
type Dependencies struct {
	Jobs      *job.Manager
	Pipeline  *pipeline.Pipeline
	Documents *storage.DocumentRepository
	Metrics   *storage.MetricsRepository
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.ReadTimeout))

	// Health check (unauthenticated)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"valuation-engine"}`))
	})

	documentsHandler := handlers.NewDocumentsHandler(
		logger, deps.Jobs, deps.Pipeline, deps.Documents, deps.Metrics,
		cfg.Server.MaxUploadBytes,
	)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(middleware.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			Tokens:  cfg.Auth.Tokens,
		}))

		r.Post("/documents", documentsHandler.Upload)
		r.Get("/documents", documentsHandler.ListDocuments)
		r.Get("/documents/{documentId}/metrics", documentsHandler.GetMetrics)
		r.Get("/jobs/{jobId}", documentsHandler.GetJob)
	})

	return r
}
