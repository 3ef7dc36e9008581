// Package migrations embeds SQL migration files.
package migrations

import "embed"

// IdentityFS contiene las migraciones de la base de identidad (una por user pool).
//
//go:embed identity/*.sql
var IdentityFS embed.FS

// IdentityDir es el directorio dentro de IdentityFS donde viven las migraciones.
const IdentityDir = "identity"
