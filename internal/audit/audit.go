// Package audit registra los cambios de identidad (primary, link, unlink,
// borrado, import) como eventos estructurados en el logger del request.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// Eventos.
const (
	PrimaryCreated  = "primary_user_created"
	AccountsLinked  = "accounts_linked"
	AccountUnlinked = "account_unlinked"
	UserDeleted     = "user_deleted"
	UserImported    = "user_imported"
)

// Log escribe el evento con los campos del logger de ctx (request_id,
// app_id, ...) más los propios.
func Log(ctx context.Context, event string, fields ...zap.Field) {
	logger.From(ctx).Info("audit",
		append([]zap.Field{logger.Component("audit"), logger.String("event", event)}, fields...)...)
}
