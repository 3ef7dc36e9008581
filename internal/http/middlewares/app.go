package middlewares

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/hellojohn-identity/internal/http/errors"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// DefaultAppID es la app de las rutas sin prefijo /appid-{appID}.
const DefaultAppID = "public"

// AppLookup indica si una app está configurada.
type AppLookup func(appID string) bool

// WithApp resuelve la app desde el path ({appID}) y la inyecta en el contexto.
// Apps desconocidas responden 404.
func WithApp(known AppLookup) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			appID := chi.URLParam(r, "appID")
			if appID == "" {
				appID = DefaultAppID
			}
			if known != nil && !known(appID) {
				httperrors.WriteError(w, httperrors.ErrUnknownApp.WithDetail(appID))
				return
			}
			ctx := setAppID(r.Context(), appID)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.AppID(appID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
