package repository

import "context"

// UserIDType indica contra qué columna resolver un id.
type UserIDType string

const (
	UserIDTypeSuperTokens UserIDType = "SUPERTOKENS"
	UserIDTypeExternal    UserIDType = "EXTERNAL"
	UserIDTypeAny         UserIDType = "ANY"
)

// UserIDMapping es un alias externo sobre un id interno.
type UserIDMapping struct {
	SuperTokensUserID string
	ExternalUserID    string
	ExternalInfo      string
}

// UserIDMappingRepository persiste mappings de ids.
type UserIDMappingRepository interface {
	// Get busca el mapping. Con UserIDTypeAny se prioriza el match por
	// SuperTokensUserID. Retorna ErrNotFound si no hay mapping.
	Get(ctx context.Context, appID, userID string, idType UserIDType) (*UserIDMapping, error)

	// Create crea el mapping. Retorna ErrConflict si alguno de los ids ya está mapeado.
	Create(ctx context.Context, appID string, m UserIDMapping) error

	// Delete borra el mapping del id interno.
	Delete(ctx context.Context, appID, superTokensUserID string) error
}
