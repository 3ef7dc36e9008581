package accountlinking

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// Kind clasifica los fallos del paquete.
type Kind string

const (
	KindUnknownUser                     Kind = "UNKNOWN_USER"
	KindNotAPrimaryUser                 Kind = "NOT_A_PRIMARY_USER"
	KindInputUserIsNotAPrimaryUser      Kind = "INPUT_USER_IS_NOT_A_PRIMARY_USER"
	KindAlreadyLinkedWithPrimary        Kind = "ALREADY_LINKED_WITH_PRIMARY"
	KindAlreadyLinkedWithAnotherPrimary Kind = "ALREADY_LINKED_WITH_ANOTHER_PRIMARY"
	KindAccountInfoConflict             Kind = "ACCOUNT_INFO_CONFLICT"
	KindFeatureNotEnabled               Kind = "FEATURE_NOT_ENABLED"
	KindTransientStorageFailure         Kind = "TRANSIENT_STORAGE_FAILURE"
	KindStorageFault                    Kind = "STORAGE_FAULT"
)

// Status retorna el discriminador "status" de la respuesta HTTP.
// Los kinds sin status propio retornan "".
func (k Kind) Status() string {
	switch k {
	case KindAccountInfoConflict:
		return "ACCOUNT_INFO_ALREADY_ASSOCIATED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR"
	case KindAlreadyLinkedWithAnotherPrimary:
		return "RECIPE_USER_ID_ALREADY_LINKED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR"
	case KindAlreadyLinkedWithPrimary:
		return "RECIPE_USER_ID_ALREADY_LINKED_WITH_PRIMARY_USER_ID_ERROR"
	case KindNotAPrimaryUser, KindInputUserIsNotAPrimaryUser:
		return "INPUT_USER_IS_NOT_A_PRIMARY_USER"
	}
	return ""
}

// Error es el error tipado del paquete. Se compara por Kind con errors.Is
// contra los sentinels (ErrUnknownUser, ErrAccountInfoConflict, ...).
type Error struct {
	Kind Kind

	// PrimaryUserID es el primary user involucrado (dueño del conflicto,
	// grupo al que ya pertenece el recipe user, ...).
	PrimaryUserID string
	RecipeUserID  string

	// Attribute identifica el atributo en conflicto: "email", "phone number",
	// "third-party login" o "webauthn credential".
	Attribute string

	Err error
}

func (e *Error) Error() string {
	msg := e.message()
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Description es el mensaje del error sin la causa.
func (e *Error) Description() string { return e.message() }

func (e *Error) message() string {
	switch e.Kind {
	case KindUnknownUser:
		return fmt.Sprintf("unknown user id %q", e.RecipeUserID)
	case KindNotAPrimaryUser:
		return fmt.Sprintf("user %q is not a primary user", e.PrimaryUserID)
	case KindInputUserIsNotAPrimaryUser:
		return fmt.Sprintf("input user %q is not a primary user", e.RecipeUserID)
	case KindAlreadyLinkedWithPrimary:
		return fmt.Sprintf("recipe user %q is already linked with primary user %q", e.RecipeUserID, e.PrimaryUserID)
	case KindAlreadyLinkedWithAnotherPrimary:
		return fmt.Sprintf("recipe user %q is already linked with another primary user %q", e.RecipeUserID, e.PrimaryUserID)
	case KindAccountInfoConflict:
		return fmt.Sprintf("this user's %s is already associated with another user ID (%s)", e.Attribute, e.PrimaryUserID)
	case KindFeatureNotEnabled:
		return "account linking feature is not enabled for this app"
	case KindTransientStorageFailure:
		return "transient storage failure"
	}
	return "storage fault"
}

func (e *Error) Unwrap() error { return e.Err }

// Is compara por Kind contra otro *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels para errors.Is.
var (
	ErrUnknownUser                     = &Error{Kind: KindUnknownUser}
	ErrNotAPrimaryUser                 = &Error{Kind: KindNotAPrimaryUser}
	ErrInputUserIsNotAPrimaryUser      = &Error{Kind: KindInputUserIsNotAPrimaryUser}
	ErrAlreadyLinkedWithPrimary        = &Error{Kind: KindAlreadyLinkedWithPrimary}
	ErrAlreadyLinkedWithAnotherPrimary = &Error{Kind: KindAlreadyLinkedWithAnotherPrimary}
	ErrAccountInfoConflict             = &Error{Kind: KindAccountInfoConflict}
	ErrFeatureNotEnabled               = &Error{Kind: KindFeatureNotEnabled}
	ErrTransientStorageFailure         = &Error{Kind: KindTransientStorageFailure}
	ErrStorageFault                    = &Error{Kind: KindStorageFault}
)

// KindOf retorna el Kind del error o "" si no es un *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// storageErr deja pasar los *Error y clasifica el resto como fallo de storage.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, repository.ErrTransient) {
		return &Error{Kind: KindTransientStorageFailure, Err: err}
	}
	return &Error{Kind: KindStorageFault, Err: err}
}

func unknownUser(id string) *Error {
	return &Error{Kind: KindUnknownUser, RecipeUserID: id}
}
