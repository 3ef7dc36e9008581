package useridmapping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/store/adapters/memory"
)

func withUsers(t *testing.T, ids ...string) *memory.Storage {
	t.Helper()
	st := memory.New("test")
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		for i, id := range ids {
			err := tx.Linking().CreateRecipeUser(ctx, "public", repository.CreateRecipeUserInput{LoginMethod: repository.LoginMethod{
				RecipeUserID: id,
				RecipeID:     repository.RecipeEmailPassword,
				TenantIDs:    []string{"public"},
				Email:        id + "@x.com",
				TimeJoined:   int64(i + 1),
			}})
			if err != nil {
				return err
			}
		}
		return nil
	}))
	return st
}

func TestCreateAndResolve(t *testing.T) {
	st := withUsers(t, "st-1")
	ctx := context.Background()

	require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		id, err := EffectiveID(ctx, tx, "public", "st-1")
		require.NoError(t, err)
		require.Equal(t, "st-1", id)

		m, err := Resolve(ctx, tx, "public", "st-1", repository.UserIDTypeAny)
		require.NoError(t, err)
		require.Nil(t, m)

		require.NoError(t, Create(ctx, tx, "public", repository.UserIDMapping{SuperTokensUserID: "st-1", ExternalUserID: "ext-1"}, false))

		id, err = EffectiveID(ctx, tx, "public", "st-1")
		require.NoError(t, err)
		require.Equal(t, "ext-1", id)

		m, err = Resolve(ctx, tx, "public", "ext-1", repository.UserIDTypeExternal)
		require.NoError(t, err)
		require.Equal(t, "st-1", m.SuperTokensUserID)

		m, err = Resolve(ctx, tx, "public", "ext-1", repository.UserIDTypeSuperTokens)
		require.NoError(t, err)
		require.Nil(t, m)
		return nil
	}))
}

func TestCreate_Rejects(t *testing.T) {
	st := withUsers(t, "st-1", "st-2", "st-3")
	ctx := context.Background()

	tests := []struct {
		name    string
		mapping repository.UserIDMapping
		force   bool
		is      error
	}{
		{"missing ids", repository.UserIDMapping{SuperTokensUserID: "st-1"}, false, repository.ErrInvalidInput},
		{"external is a user", repository.UserIDMapping{SuperTokensUserID: "st-1", ExternalUserID: "st-2"}, false, ErrExternalIDIsUser},
		{"unknown user", repository.UserIDMapping{SuperTokensUserID: "ghost", ExternalUserID: "ext-9"}, false, repository.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := st.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				return Create(ctx, tx, "public", tc.mapping, tc.force)
			})
			require.ErrorIs(t, err, tc.is)
		})
	}

	// force permite mapear sobre un id existente.
	require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return Create(ctx, tx, "public", repository.UserIDMapping{SuperTokensUserID: "st-1", ExternalUserID: "st-2"}, true)
	}))
	err := st.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return Create(ctx, tx, "public", repository.UserIDMapping{SuperTokensUserID: "st-3", ExternalUserID: "st-2"}, true)
	})
	require.ErrorIs(t, err, repository.ErrConflict)
}
