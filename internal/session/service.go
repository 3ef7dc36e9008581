// Package session revoca sesiones de un usuario: borra las filas de sesión en
// storage y publica una marca de revocación por handle en el cache compartido,
// que los verificadores de sesión consultan antes de aceptar un token.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-identity/internal/cache"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// DefaultRevocationTTL cubre la vida máxima de un access token.
const DefaultRevocationTTL = time.Hour

// Service implementa la revocación de sesiones.
type Service struct {
	cache cache.Client
	ttl   time.Duration
}

// NewService crea el servicio. Con ttl <= 0 usa DefaultRevocationTTL.
func NewService(c cache.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultRevocationTTL
	}
	return &Service{cache: c, ttl: ttl}
}

func revokedKey(appID, handle string) string {
	return "session:revoked:" + appID + ":" + handle
}

// RevokeAllForUser borra todas las sesiones del usuario en su propia
// transacción y publica las marcas de revocación.
func (s *Service) RevokeAllForUser(ctx context.Context, appID string, storage repository.Storage, userID string) error {
	var handles []string
	err := storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		handles, err = tx.Sessions().DeleteForUser(ctx, appID, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("revoke sessions of %s: %w", userID, err)
	}
	return s.MarkRevoked(ctx, appID, handles)
}

// DeleteNonAuthForUser borra las sesiones dentro de la transacción del caller.
// Los handles retornados se publican con MarkRevoked después del commit.
func (s *Service) DeleteNonAuthForUser(ctx context.Context, tx repository.Tx, appID, userID string) ([]string, error) {
	return tx.Sessions().DeleteForUser(ctx, appID, userID)
}

// MarkRevoked publica una marca por handle. Sigue con los demás si uno falla
// y retorna el primer error.
func (s *Service) MarkRevoked(ctx context.Context, appID string, handles []string) error {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("session"),
		logger.Op("MarkRevoked"),
		logger.AppID(appID),
	)

	var firstErr error
	for _, h := range handles {
		if err := s.cache.Set(ctx, revokedKey(appID, h), "1", s.ttl); err != nil {
			log.Warn("failed to publish session revocation", zap.String("session_handle", h), logger.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if len(handles) > 0 {
		log.Debug("sessions revoked", logger.Count(len(handles)))
	}
	return firstErr
}

// IsRevoked indica si el handle fue revocado.
func (s *Service) IsRevoked(ctx context.Context, appID, handle string) (bool, error) {
	return s.cache.Exists(ctx, revokedKey(appID, handle))
}
