package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-finder/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	runs := s.deps.Runs
	analyzeHandler := handlers.NewAnalyzeHandler(
		s.deps.Runner, s.jobManager, runs, s.config.Web.MaxUploadBytes(), s.config.Analysis.TempDir,
	)
	runsHandler := handlers.NewRunsHandler(runs, s.deps.Detector, s.config.Analysis.MatchThreshold)
	configHandler := handlers.NewConfigHandler(s.config, s.deps.Models, runs != nil)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// SSE streams stay open for the whole job and are exempt from the request timeout.
		r.Get("/jobs/{jobId}/events", analyzeHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(s.requestTimeout()))

			r.Get("/config", configHandler.Get)

			// Analysis
			r.Post("/analyze", analyzeHandler.Analyze)
			r.Post("/render", handlers.Render)

			// Jobs (asynchronous analysis)
			r.Get("/jobs", analyzeHandler.ListJobs)
			r.Post("/jobs", analyzeHandler.StartJob)
			r.Get("/jobs/{jobId}", analyzeHandler.Status)
			r.Delete("/jobs/{jobId}", analyzeHandler.Cancel)

			// Run history
			r.Get("/runs", runsHandler.List)
			r.Post("/runs/search", runsHandler.Search)
			r.Get("/runs/{id}", runsHandler.Get)
		})
	})
}
