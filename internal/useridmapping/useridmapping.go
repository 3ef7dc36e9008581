// Package useridmapping resuelve alias externos sobre ids internos de usuario.
package useridmapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// ErrExternalIDIsUser indica que el external id coincide con un recipe user id
// existente distinto del mapeado. Con force se permite (estado de migración).
var ErrExternalIDIsUser = errors.New("external user id is already a user id")

// Resolve busca el mapping de userID en la dirección pedida.
// Retorna (nil, nil) si no hay mapping.
func Resolve(ctx context.Context, tx repository.Tx, appID, userID string, idType repository.UserIDType) (*repository.UserIDMapping, error) {
	m, err := tx.UserIDMappings().Get(ctx, appID, userID, idType)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user id mapping %s: %w", userID, err)
	}
	return m, nil
}

// EffectiveID retorna el id con el que el resto del sistema conoce al usuario:
// el external id si hay mapping, o el mismo id si no.
func EffectiveID(ctx context.Context, tx repository.Tx, appID, superTokensUserID string) (string, error) {
	m, err := Resolve(ctx, tx, appID, superTokensUserID, repository.UserIDTypeSuperTokens)
	if err != nil {
		return "", err
	}
	if m == nil {
		return superTokensUserID, nil
	}
	return m.ExternalUserID, nil
}

// Create crea el mapping validando que el external id no pise a otro usuario.
func Create(ctx context.Context, tx repository.Tx, appID string, m repository.UserIDMapping, force bool) error {
	if m.SuperTokensUserID == "" || m.ExternalUserID == "" {
		return fmt.Errorf("user id mapping: %w", repository.ErrInvalidInput)
	}
	if !force && m.ExternalUserID != m.SuperTokensUserID {
		exists, err := tx.Linking().DoesUserIDExist(ctx, appID, m.ExternalUserID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrExternalIDIsUser, m.ExternalUserID)
		}
	}
	return tx.UserIDMappings().Create(ctx, appID, m)
}
