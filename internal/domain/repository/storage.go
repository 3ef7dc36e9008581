package repository

import "context"

// Storage es el set de capacidades que el core necesita de un backend.
// Se resuelve una sola vez al abrir el adapter (store.Open) en lugar de
// castear interfaces en cada call site.
type Storage interface {
	// Name retorna el nombre del adapter ("postgres", "memory").
	Name() string

	// UserPoolID identifica la base física. Dos Storage con el mismo pool
	// comparten usuarios.
	UserPoolID() string

	// InTx ejecuta fn dentro de una transacción. Si fn retorna error se hace
	// rollback y el error se retorna sin modificar. Fallos de serialización se
	// reintentan; al agotarse se retorna un error que envuelve ErrTransient.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx expone los repositorios dentro de una transacción activa.
type Tx interface {
	Linking() LinkingRepository
	UserIDMappings() UserIDMappingRepository
	Sessions() SessionRepository
	BulkImport() BulkImportRepository

	// NonAuth retorna el store del dominio pedido.
	NonAuth(domain NonAuthDomain) NonAuthRepository

	// Savepoint ejecuta fn en un savepoint: si fn falla, solo se deshacen sus
	// cambios y la transacción externa sigue usable.
	Savepoint(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// LinkingRepository opera sobre recipe users, grupos y reservas de account info.
type LinkingRepository interface {
	// GetUserByID retorna el grupo que contiene al id (como recipe user o como
	// primary user id). Retorna ErrNotFound si no existe.
	GetUserByID(ctx context.Context, appID, userID string) (*User, error)

	// ListUsersByAccountInfo retorna, en una sola consulta, todos los grupos que
	// tocan alguno de los tenants dados (todos si tenantIDs está vacío) y que
	// contienen algún login method con alguno de los valores de la query.
	ListUsersByAccountInfo(ctx context.Context, appID string, tenantIDs []string, q AccountInfoQuery) ([]User, error)

	// DoesUserIDExist indica si existe un recipe user con ese id. El id de un
	// primary borrado que todavía keyea a su grupo no cuenta.
	DoesUserIDExist(ctx context.Context, appID, userID string) (bool, error)

	// CreateRecipeUser inserta un recipe user con su login method.
	// Retorna ErrDuplicateID si el id existe y ErrConflict si viola unicidad de recipe.
	CreateRecipeUser(ctx context.Context, appID string, in CreateRecipeUserInput) error

	// MakePrimary marca al recipe user como primary y reserva su account info.
	MakePrimary(ctx context.Context, appID, recipeUserID string) error

	// LinkAccounts asocia recipeUserID al grupo de primaryUserID y extiende las reservas.
	LinkAccounts(ctx context.Context, appID, recipeUserID, primaryUserID string) error

	// UnlinkAccounts separa recipeUserID del grupo y recalcula las reservas del grupo.
	UnlinkAccounts(ctx context.Context, appID, primaryUserID, recipeUserID string) error

	// ReassignPrimary mueve todos los miembros de oldPrimaryID a newPrimaryID
	// (que pasa a ser primary) y recalcula reservas.
	ReassignPrimary(ctx context.Context, appID, oldPrimaryID, newPrimaryID string) error

	// DeleteAuthRecipeUser borra la fila de auth (credencial + tenants) del recipe
	// user y su user-id mapping. No toca a los demás miembros: si es el primary
	// de un grupo con miembros, el id sigue keyeando al grupo (GetUserByID lo
	// resuelve) y el mapping se conserva.
	DeleteAuthRecipeUser(ctx context.Context, appID, recipeUserID string) error

	// DeleteAccountInfoReservations borra las reservas del grupo primaryUserID.
	DeleteAccountInfoReservations(ctx context.Context, appID, primaryUserID string) error
}
