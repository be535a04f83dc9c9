package api

import (
	"net/http"
	"orca/internal/health"
	"orca/internal/observability"
	"orca/internal/orchestration"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService    *orchestration.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	ListLimitMax  int
	Version       string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.HealthChecker, cfg.ListLimitMax, cfg.Version)

	r := chi.NewRouter()

	// Middleware chain, outermost first
	r.Use(RecoveryMiddleware())
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware())
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(CORSMiddleware())
	r.Use(ContentTypeMiddleware())

	// Health check endpoints (liveness/readiness probes)
	r.Get("/livez", handler.Livez)
	r.Get("/readyz", handler.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.Health)

		r.Post("/jobs", handler.SubmitForm)
		r.Post("/jobs/json", handler.SubmitJSON)
		r.Get("/jobs", handler.ListJobs)
		r.Get("/jobs/{jobId}", handler.GetJob)
		r.Delete("/jobs/{jobId}", handler.DeleteJob)
	})

	return r
}
