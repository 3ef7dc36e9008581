package repository

import "context"

// NonAuthDomain identifica un store de datos no-auth keyed por user id.
type NonAuthDomain string

const (
	DomainMetadata          NonAuthDomain = "metadata"
	DomainRoles             NonAuthDomain = "roles"
	DomainEmailVerification NonAuthDomain = "emailverification"
	DomainTOTP              NonAuthDomain = "totp"
	DomainActiveUsers       NonAuthDomain = "activeusers"
	DomainPassword          NonAuthDomain = "password"
)

// NonAuthDomains en el orden en que se borran.
var NonAuthDomains = []NonAuthDomain{
	DomainMetadata, DomainRoles, DomainEmailVerification, DomainTOTP, DomainActiveUsers, DomainPassword,
}

// NonAuthRepository es el contrato mínimo de un store no-auth.
// Data es opaca para el core (JSON, lista de roles, timestamp, ...).
type NonAuthRepository interface {
	Domain() NonAuthDomain

	// Upsert reemplaza el dato del usuario.
	Upsert(ctx context.Context, appID, userID string, data []byte) error

	// Get retorna ErrNotFound si el usuario no tiene dato en el dominio.
	Get(ctx context.Context, appID, userID string) ([]byte, error)

	// DeleteForUser borra el dato. Retorna true si existía.
	DeleteForUser(ctx context.Context, appID, userID string) (bool, error)
}
