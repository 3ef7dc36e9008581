// Package router define las rutas HTTP del servicio sobre chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/hellojohn-identity/internal/http/controllers"
	httperrors "github.com/dropDatabas3/hellojohn-identity/internal/http/errors"
	mw "github.com/dropDatabas3/hellojohn-identity/internal/http/middlewares"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/metrics"
	"github.com/dropDatabas3/hellojohn-identity/internal/rate"
)

// Deps contiene las dependencias del router.
type Deps struct {
	Controllers *controllers.Controllers

	// KnownApp valida el {appID} del path.
	KnownApp mw.AppLookup

	// Metrics es el handler de /metrics (opcional).
	Metrics http.Handler

	CORSAllowedOrigins []string

	// RateLimiter limita por app+IP las rutas de app (opcional).
	RateLimiter rate.Limiter
}

// New arma el handler raíz. Las rutas de app se montan en "/" (app public)
// y en "/appid-{appID}".
func New(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.Std(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithCORS(deps.CORSAllowedOrigins),
	)...)
	r.Use(metrics.WithMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	RegisterHealthRoutes(r, deps)

	appRoutes := func(r chi.Router) {
		appMw := []mw.Middleware{mw.WithApp(deps.KnownApp)}
		if deps.RateLimiter != nil {
			appMw = append(appMw, mw.WithRateLimit(deps.RateLimiter, mw.AppIPRateKey))
		}
		r.Use(mw.Std(appMw...)...)
		RegisterAccountLinkingRoutes(r, deps.Controllers.AccountLinking)
		RegisterBulkImportRoutes(r, deps.Controllers.BulkImport)
	}
	r.Group(appRoutes)
	r.Route("/appid-{appID}", appRoutes)

	return r
}
