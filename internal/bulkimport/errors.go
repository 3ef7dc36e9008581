package bulkimport

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// Errores de request (HTTP 400).
var (
	ErrTooManyUsers    = errors.New("bulkimport: too many users")
	ErrNoUsers         = errors.New("bulkimport: you need to add at least one user")
	ErrLimitOutOfRange = errors.New("bulkimport: limit out of range")
	ErrInvalidToken    = errors.New("bulkimport: invalid pagination token")
	ErrInvalidStatus   = errors.New("bulkimport: invalid status")
	ErrTooManyIDs      = errors.New("bulkimport: too many ids")
	ErrNoIDs           = errors.New("bulkimport: ids cannot be empty")
	ErrIDRegeneration  = errors.New("bulkimport: could not allocate unique entry ids")
	ErrUnknownApp      = errors.New("bulkimport: unknown app")
)

// UserErrors son los problemas de validación de un usuario del request.
type UserErrors struct {
	Index  int      `json:"index"`
	Errors []string `json:"errors"`
}

// InvalidDataError agrupa los usuarios inválidos de un request.
type InvalidDataError struct {
	Users []UserErrors
}

func (e *InvalidDataError) Error() string {
	return "Data has missing or invalid fields. Please check the users field for more details."
}

// Códigos de error del import de un usuario.
const (
	CodeCreateUserFailed   = "E002"
	CodeDuplicateUser      = "E003"
	CodeMappingFailed      = "E030"
	CodeExternalIDExists   = "E031"
	CodeMappingUnknownUser = "E032"
	CodeRolesFailed        = "E033"
	CodeUnknownRole        = "E034"
	CodeTOTPFailed         = "E036"
	CodePasswordFailed     = "E037"
	CodeEmailVerifyFailed  = "E038"
	CodeMetadataFailed     = "E040"
	CodeInvalidEntry       = "E050"
)

// ImportError es el error de un usuario que no se pudo importar. El mensaje
// (con código) se guarda en la entrada FAILED.
type ImportError struct {
	Code string
	Msg  string
	Err  error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return e.Code + ": " + e.Msg
}

func (e *ImportError) Unwrap() error { return e.Err }

func importErr(code, msg string, err error) *ImportError {
	return &ImportError{Code: code, Msg: msg, Err: err}
}

// isTransient indica si el error debe abortar el lote en lugar de marcar
// un usuario como FAILED.
func isTransient(err error) bool {
	return errors.Is(err, repository.ErrTransient) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
