package middlewares

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	httperrors "github.com/dropDatabas3/hellojohn-identity/internal/http/errors"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
	"github.com/dropDatabas3/hellojohn-identity/internal/rate"
)

// AppIPRateKey arma la key de rate limit con la app y la IP del cliente.
func AppIPRateKey(r *http.Request) string {
	return GetAppID(r.Context()) + "|" + clientIP(r)
}

// WithRateLimit responde 429 cuando la key supera el límite. Si el limiter
// falla, el request pasa.
func WithRateLimit(l rate.Limiter, key func(*http.Request) string) Middleware {
	if key == nil {
		key = AppIPRateKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), key(r))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable", logger.Layer("middleware"), logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
				httperrors.WriteError(w, httperrors.ErrTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		return strings.TrimSpace(strings.Split(xf, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
