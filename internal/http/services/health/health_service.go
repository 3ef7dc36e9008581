package health

import (
	"context"
	"fmt"
	"os"
	"time"

	dto "github.com/dropDatabas3/hellojohn-identity/internal/http/dto/health"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services/common"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// HealthService define las operaciones de health check.
type HealthService interface {
	Check(ctx context.Context) dto.HealthResponse
}

// Deps contiene las dependencias inyectables para el health service.
type Deps struct {
	// AppIDs lista las apps cuyos storages se verifican.
	AppIDs   func() []string
	Storages common.StorageResolver

	// CacheCheck verifica el cache de revocaciones (opcional).
	CacheCheck func(ctx context.Context) error

	// Timeout por chequeo (default 2s).
	Timeout time.Duration
}

type healthService struct {
	deps Deps
}

// NewHealthService crea un nuevo service de health check.
func NewHealthService(deps Deps) HealthService {
	if deps.Timeout <= 0 {
		deps.Timeout = 2 * time.Second
	}
	return &healthService{deps: deps}
}

func (s *healthService) Check(ctx context.Context) dto.HealthResponse {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("health"), logger.Op("Check"))

	response := dto.HealthResponse{
		Components: make(map[string]dto.HealthStatus),
		Version:    os.Getenv("SERVICE_VERSION"),
		Timestamp:  time.Now().UTC(),
	}

	// Storage (crítico): un chequeo por app; apps del mismo pool comparten storage.
	critical := false
	if s.deps.Storages != nil && s.deps.AppIDs != nil {
		for _, appID := range s.deps.AppIDs() {
			name := "storage:" + appID
			if err := s.ping(ctx, appID); err != nil {
				response.Components[name] = dto.HealthStatus{Status: "error", Message: fmt.Sprintf("unavailable: %v", err)}
				critical = true
				log.Error("storage unavailable", logger.AppID(appID), logger.Err(err))
				continue
			}
			response.Components[name] = dto.HealthStatus{Status: "ok"}
		}
	}

	// Cache (no crítico): sin cache las revocaciones se pierden pero la API responde.
	degraded := false
	if s.deps.CacheCheck != nil {
		cctx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
		err := s.deps.CacheCheck(cctx)
		cancel()
		if err != nil {
			response.Components["cache"] = dto.HealthStatus{Status: "error", Message: err.Error()}
			degraded = true
			log.Warn("cache unavailable", logger.Err(err))
		} else {
			response.Components["cache"] = dto.HealthStatus{Status: "ok"}
		}
	}

	switch {
	case critical:
		response.Status = "unavailable"
	case degraded:
		response.Status = "degraded"
	default:
		response.Status = "ready"
	}
	return response
}

func (s *healthService) ping(ctx context.Context, appID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
	defer cancel()
	st, err := s.deps.Storages.StorageFor(ctx, appID)
	if err != nil {
		return err
	}
	return st.Ping(ctx)
}
