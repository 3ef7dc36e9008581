package middlewares

import "context"

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	ctxAppIDKey     ctxKey = "app_id"
)

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

func setAppID(ctx context.Context, appID string) context.Context {
	return context.WithValue(ctx, ctxAppIDKey, appID)
}

// GetRequestID obtiene el request ID del contexto ("" si no hay).
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetAppID obtiene la app resuelta por WithApp ("" si no hay).
func GetAppID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxAppIDKey).(string); ok {
		return v
	}
	return ""
}
