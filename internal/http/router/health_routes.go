package router

import "github.com/go-chi/chi/v5"

// RegisterHealthRoutes registra /readyz y /metrics.
func RegisterHealthRoutes(r chi.Router, deps Deps) {
	r.Get("/readyz", deps.Controllers.Health.Health.Readyz)
	if deps.Metrics != nil {
		r.Method("GET", "/metrics", deps.Metrics)
	}
}
