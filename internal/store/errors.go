package store

import "errors"

// Errores comunes del DAL.
var (
	// ErrAdapterNotRegistered indica que no hay adapter con ese nombre (falta el import de dal).
	ErrAdapterNotRegistered = errors.New("adapter not registered")

	// ErrPoolNotConfigured indica que el user pool pedido no está en la config.
	ErrPoolNotConfigured = errors.New("user pool not configured")
)

// IsPoolNotConfigured helper para verificar si el error es por pool desconocido.
func IsPoolNotConfigured(err error) bool {
	return errors.Is(err, ErrPoolNotConfigured)
}
