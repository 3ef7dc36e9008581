package accountlinking

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

func TestStorageErr(t *testing.T) {
	require.NoError(t, storageErr(nil))

	typed := &Error{Kind: KindNotAPrimaryUser}
	require.Same(t, typed, storageErr(typed))

	err := storageErr(fmt.Errorf("pg: %w", repository.ErrTransient))
	require.Equal(t, KindTransientStorageFailure, KindOf(err))

	err = storageErr(errors.New("disk full"))
	require.ErrorIs(t, err, ErrStorageFault)
	require.Equal(t, "storage fault: disk full", err.Error())
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestKindStatus(t *testing.T) {
	require.Equal(t, "INPUT_USER_IS_NOT_A_PRIMARY_USER", KindInputUserIsNotAPrimaryUser.Status())
	require.Equal(t, "RECIPE_USER_ID_ALREADY_LINKED_WITH_PRIMARY_USER_ID_ERROR", KindAlreadyLinkedWithPrimary.Status())
	require.Empty(t, KindUnknownUser.Status())
}
