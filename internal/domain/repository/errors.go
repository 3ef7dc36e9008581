package repository

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indica que el recurso solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica un conflicto (ej: duplicado, constraint violation).
	ErrConflict = errors.New("conflict")

	// ErrDuplicateID indica que un ID generado ya existe. El caller debe regenerar y reintentar.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransient indica un fallo de storage reintentable (serialización, deadlock, conexión).
	ErrTransient = errors.New("transient storage failure")

	// ErrNoDatabase indica que no hay base de datos configurada.
	ErrNoDatabase = errors.New("no database configured")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict verifica si el error es ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTransient verifica si el error es reintentable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// DuplicateIDsError es un ErrDuplicateID que informa qué ids chocaron, para
// que el caller regenere solo esos.
type DuplicateIDsError struct {
	IDs []string
}

func (e *DuplicateIDsError) Error() string {
	return "duplicate id: " + strings.Join(e.IDs, ", ")
}

func (e *DuplicateIDsError) Unwrap() error { return ErrDuplicateID }
