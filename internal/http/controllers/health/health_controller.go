package health

import (
	"net/http"

	"github.com/dropDatabas3/hellojohn-identity/internal/http/helpers"
	svc "github.com/dropDatabas3/hellojohn-identity/internal/http/services/health"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// HealthController maneja las rutas de health check.
type HealthController struct {
	service svc.HealthService
}

// NewHealthController crea un nuevo controller de health check.
func NewHealthController(service svc.HealthService) *HealthController {
	return &HealthController{service: service}
}

// Readyz maneja GET /readyz
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	response := c.service.Check(ctx)

	if response.Version != "" {
		w.Header().Set("X-Service-Version", response.Version)
	}

	statusCode := http.StatusOK
	if response.Status == "unavailable" {
		statusCode = http.StatusServiceUnavailable
	}

	logger.From(ctx).Debug("health check completed",
		logger.Layer("controller"),
		logger.String("status", response.Status),
		logger.Int("components_count", len(response.Components)),
	)
	helpers.WriteJSON(w, statusCode, response)
}
