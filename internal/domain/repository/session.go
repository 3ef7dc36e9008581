package repository

import (
	"context"
	"time"
)

// Session representa una sesión emitida para un user id efectivo.
type Session struct {
	Handle    string
	AppID     string
	TenantID  string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionRepository es el dominio no-auth de sesiones.
type SessionRepository interface {
	Create(ctx context.Context, s Session) error

	// ListByUser retorna las sesiones del usuario.
	ListByUser(ctx context.Context, appID, userID string) ([]Session, error)

	// DeleteForUser borra todas las sesiones del usuario y retorna los handles borrados.
	DeleteForUser(ctx context.Context, appID, userID string) ([]string, error)
}
