package accountlinking

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

func TestCreatePrimaryUser(t *testing.T) {
	e := newEnv(t)
	e.create(t, e.lm("a", "a@x.com"))

	res, err := e.svc.CreatePrimaryUser(e.ctx, testApp, e.storage, "a")
	require.NoError(t, err)
	require.False(t, res.WasAlreadyPrimary)
	require.True(t, res.User.IsPrimaryUser)
	require.Equal(t, "a", res.User.ID)

	res, err = e.svc.CreatePrimaryUser(e.ctx, testApp, e.storage, "a")
	require.NoError(t, err)
	require.True(t, res.WasAlreadyPrimary)
}

func TestCreatePrimaryUser_Errors(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("a", "a@x.com"))
	e.create(t, e.lm("b", "b@x.com"), e.lm("c", "A@x.com"))
	_, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, "b", "a")
	require.NoError(t, err)

	t.Run("unknown user", func(t *testing.T) {
		_, err := e.svc.CreatePrimaryUser(e.ctx, testApp, e.storage, "nope")
		require.ErrorIs(t, err, ErrUnknownUser)
	})

	t.Run("member of another group", func(t *testing.T) {
		_, err := e.svc.CreatePrimaryUser(e.ctx, testApp, e.storage, "b")
		require.ErrorIs(t, err, ErrAlreadyLinkedWithPrimary)
		var ae *Error
		require.ErrorAs(t, err, &ae)
		require.Equal(t, "a", ae.PrimaryUserID)
	})

	t.Run("email owned by another primary", func(t *testing.T) {
		_, err := e.svc.CanCreatePrimaryUser(e.ctx, testApp, e.storage, "c")
		require.ErrorIs(t, err, ErrAccountInfoConflict)

		_, err = e.svc.CreatePrimaryUser(e.ctx, testApp, e.storage, "c")
		require.ErrorIs(t, err, ErrAccountInfoConflict)
		var ae *Error
		require.ErrorAs(t, err, &ae)
		require.Equal(t, "a", ae.PrimaryUserID)
		require.Equal(t, "email", ae.Attribute)
		require.Equal(t, "ACCOUNT_INFO_ALREADY_ASSOCIATED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR", ae.Kind.Status())
		require.False(t, e.user(t, "c").IsPrimaryUser)
	})

	t.Run("other tenant does not conflict", func(t *testing.T) {
		e.create(t, e.lm("d", "a@x.com", "other"))
		_, err := e.svc.CreatePrimaryUser(e.ctx, testApp, e.storage, "d")
		require.NoError(t, err)
	})
}

func TestLinkAccounts_Idempotent(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("a", "same@x.com"))
	e.create(t, e.lm("b", "same@x.com"))

	res, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, "b", "a")
	require.NoError(t, err)
	require.False(t, res.WasAlreadyLinked)
	require.Equal(t, []string{"a", "b"}, memberIDs(res.User))

	res, err = e.svc.LinkAccounts(e.ctx, testApp, e.storage, "b", "a")
	require.NoError(t, err)
	require.True(t, res.WasAlreadyLinked)
	require.Equal(t, []string{"a", "b"}, memberIDs(res.User))

	// linkear por id de miembro tampoco cambia nada
	res, err = e.svc.LinkAccounts(e.ctx, testApp, e.storage, "a", "b")
	require.NoError(t, err)
	require.True(t, res.WasAlreadyLinked)
}

func TestLinkAccounts_Errors(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("p1", "p1@x.com"))
	e.primary(t, e.lm("p2", "p2@x.com"))
	e.create(t, e.lm("r", "r@x.com"), e.lm("dup", "p2@x.com"))

	_, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, "missing", "p1")
	require.ErrorIs(t, err, ErrUnknownUser)

	_, err = e.svc.LinkAccounts(e.ctx, testApp, e.storage, "p1", "missing")
	require.ErrorIs(t, err, ErrUnknownUser)

	_, err = e.svc.LinkAccounts(e.ctx, testApp, e.storage, "p1", "r")
	require.ErrorIs(t, err, ErrNotAPrimaryUser)

	_, err = e.svc.LinkAccounts(e.ctx, testApp, e.storage, "p2", "p1")
	require.ErrorIs(t, err, ErrAlreadyLinkedWithAnotherPrimary)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "p2", ae.PrimaryUserID)

	_, err = e.svc.CanLinkAccounts(e.ctx, testApp, e.storage, "dup", "p1")
	require.ErrorIs(t, err, ErrAccountInfoConflict)
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "p2", ae.PrimaryUserID)
	require.Equal(t, "dup", ae.RecipeUserID)
}

// Ningún par de primaries puede compartir un account info en un tenant común.
func TestLinkAccounts_NoConflictInvariant(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("p1", "one@x.com", "t1", "t2"))
	e.primary(t, e.lm("p2", "two@x.com", "t2"))

	e.create(t,
		e.lm("u1", "two@x.com", "t1"),
		e.lm("u2", "two@x.com", "t3"),
		e.lm("u3", "three@x.com", "t2"),
	)

	for _, id := range []string{"u1", "u2", "u3"} {
		_, _ = e.svc.LinkAccounts(e.ctx, testApp, e.storage, id, "p1")
	}

	owners := make(map[string]string)
	for _, id := range []string{"p1", "p2"} {
		g := e.user(t, id)
		for _, tenant := range g.TenantIDs {
			for _, info := range AccountInfosOf(g) {
				k := tenant + "|" + string(info.Kind) + "|" + info.Value
				prev, ok := owners[k]
				require.False(t, ok && prev != g.ID, "%s owned by %s and %s", k, prev, g.ID)
				owners[k] = g.ID
			}
		}
	}
	// u1 y u2 traerían two@x.com al grupo de p1, que también está en t2
	require.Equal(t, []string{"p1", "u3"}, memberIDs(e.user(t, "p1")))
	require.False(t, e.user(t, "u1").IsPrimaryUser)
	require.False(t, e.user(t, "u2").IsPrimaryUser)
}

// El grupo resultante aparece en todos los tenants de ambos lados: el chequeo
// tiene que mirar la unión y no solo los tenants del recipe user.
func TestLinkAccounts_TenantUnion(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("p", "p@x.com", "t1", "t2"))
	e.primary(t, e.lm("q", "shared@x.com", "t2"))
	e.create(t, e.lm("u", "shared@x.com", "t1"))

	// mirando solo los tenants de u no hay conflicto
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		u, err := GetPrimaryGroupFor(ctx, tx, testApp, "u")
		require.NoError(t, err)
		return Checker{}.CheckMergeable(ctx, tx, testApp, u.TenantIDs, AccountInfosOf(u), "p")
	})

	_, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, "u", "p")
	require.ErrorIs(t, err, ErrAccountInfoConflict)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "q", ae.PrimaryUserID)
	require.Equal(t, []string{"p"}, memberIDs(e.user(t, "p")))
}

func TestLinkAccounts_PostCommit(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("a", "a@x.com"))
	e.create(t, e.lm("b", "b@x.com"))
	e.mapID(t, "b", "ext-b")
	e.addSession(t, "h-b", "ext-b")
	e.addSession(t, "h-a", "a")
	e.putNonAuth(t, repository.DomainActiveUsers, "ext-b", "1")

	_, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, "b", "a")
	require.NoError(t, err)

	require.Empty(t, e.sessionsOf(t, "ext-b"))
	require.Len(t, e.sessionsOf(t, "a"), 1)
	revoked, err := e.sessions.IsRevoked(e.ctx, testApp, "h-b")
	require.NoError(t, err)
	require.True(t, revoked)

	_, ok := e.nonAuth(t, repository.DomainActiveUsers, "ext-b")
	require.False(t, ok)
	last, ok := e.nonAuth(t, repository.DomainActiveUsers, "a")
	require.True(t, ok)
	require.Equal(t, strconv.FormatInt(e.svc.now().UnixMilli(), 10), last)
}

func TestLinkAccounts_TransientFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("a", "a@x.com"))
	e.create(t, e.lm("b", "b@x.com"))

	e.storage.SetFaultHook(func(op string) error {
		if op == "LinkAccounts" {
			return fmt.Errorf("serialization: %w", repository.ErrTransient)
		}
		return nil
	})
	_, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, "b", "a")
	require.ErrorIs(t, err, ErrTransientStorageFailure)
	require.ErrorIs(t, err, repository.ErrTransient)

	e.storage.SetFaultHook(nil)
	require.False(t, e.user(t, "b").IsPrimaryUser)
}

// Un ErrConflict de la mutación es la reserva de account info rechazando una
// escritura concurrente: sale como conflicto tipado y la transacción se revierte.
func TestReservationConflictFromStorage(t *testing.T) {
	for _, op := range []string{"MakePrimary", "LinkAccounts"} {
		t.Run(op, func(t *testing.T) {
			e := newEnv(t)
			e.primary(t, e.lm("p", "p@x.com"))
			e.create(t, e.lm("r", "r@x.com"))
			e.storage.SetFaultHook(func(got string) error {
				if got == op {
					return fmt.Errorf("unique violation: %w", repository.ErrConflict)
				}
				return nil
			})

			var err error
			if op == "MakePrimary" {
				_, err = e.svc.CreatePrimaryUser(e.ctx, testApp, e.storage, "r")
			} else {
				_, err = e.svc.LinkAccounts(e.ctx, testApp, e.storage, "r", "p")
			}
			require.ErrorIs(t, err, ErrAccountInfoConflict)
			require.ErrorIs(t, err, repository.ErrConflict)
			var ae *Error
			require.ErrorAs(t, err, &ae)
			require.Equal(t, "r", ae.RecipeUserID)
			// el dueño no es visible en el snapshot: el conflicto sale sin él
			require.Empty(t, ae.PrimaryUserID)

			e.storage.SetFaultHook(nil)
			require.False(t, e.user(t, "r").IsPrimaryUser)
			require.Equal(t, []string{"p"}, memberIDs(e.user(t, "p")))
		})
	}
}

func TestCreatePrimaryUser_LosesReservationRace(t *testing.T) {
	e := newEnv(t)
	e.create(t, e.lm("r", "same@x.com"))
	rival := e.lm("q", "same@x.com")

	st := racingStorage{Storage: e.storage, before: func(ctx context.Context, l repository.LinkingRepository) error {
		if err := l.CreateRecipeUser(ctx, testApp, repository.CreateRecipeUserInput{LoginMethod: rival}); err != nil {
			return err
		}
		return l.MakePrimary(ctx, testApp, "q")
	}}
	_, err := e.svc.CreatePrimaryUser(e.ctx, testApp, st, "r")
	require.ErrorIs(t, err, ErrAccountInfoConflict)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "q", ae.PrimaryUserID)
	require.Equal(t, "email", ae.Attribute)

	require.False(t, e.user(t, "r").IsPrimaryUser)
	require.False(t, e.exists(t, "q"))
}

func TestLinkAccounts_LosesLinkRace(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("p", "p@x.com"))
	e.primary(t, e.lm("o", "o@x.com"))
	e.create(t, e.lm("r", "r@x.com"))

	st := racingStorage{Storage: e.storage, before: func(ctx context.Context, l repository.LinkingRepository) error {
		return l.LinkAccounts(ctx, testApp, "r", "o")
	}}
	_, err := e.svc.LinkAccounts(e.ctx, testApp, st, "r", "p")
	require.ErrorIs(t, err, ErrAlreadyLinkedWithAnotherPrimary)
	require.ErrorIs(t, err, repository.ErrInvalidInput)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "o", ae.PrimaryUserID)
	require.Equal(t, "RECIPE_USER_ID_ALREADY_LINKED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR", ae.Kind.Status())

	require.Equal(t, []string{"o"}, memberIDs(e.user(t, "o")))
	require.False(t, e.user(t, "r").IsPrimaryUser)
}

func TestFeatureNotEnabled(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("a", "a@x.com"))
	e.create(t, e.lm("b", "b@x.com"))
	svc := NewService(Deps{Flags: FlagFunc(func(appID string) bool { return appID != testApp })})

	_, err := svc.CreatePrimaryUser(e.ctx, testApp, e.storage, "b")
	require.ErrorIs(t, err, ErrFeatureNotEnabled)
	_, err = svc.CanCreatePrimaryUser(e.ctx, testApp, e.storage, "b")
	require.ErrorIs(t, err, ErrFeatureNotEnabled)
	_, err = svc.LinkAccounts(e.ctx, testApp, e.storage, "b", "a")
	require.ErrorIs(t, err, ErrFeatureNotEnabled)
	_, err = svc.CanLinkAccounts(e.ctx, testApp, e.storage, "b", "a")
	require.ErrorIs(t, err, ErrFeatureNotEnabled)
	_, err = svc.UnlinkAccounts(e.ctx, testApp, e.storage, "a")
	require.ErrorIs(t, err, ErrFeatureNotEnabled)

	require.Equal(t, []string{"a"}, memberIDs(e.user(t, "a")))
}

func TestUnlinkAccounts(t *testing.T) {
	t.Run("not primary", func(t *testing.T) {
		e := newEnv(t)
		e.create(t, e.lm("r", "r@x.com"))
		_, err := e.svc.UnlinkAccounts(e.ctx, testApp, e.storage, "r")
		require.ErrorIs(t, err, ErrInputUserIsNotAPrimaryUser)

		_, err = e.svc.UnlinkAccounts(e.ctx, testApp, e.storage, "missing")
		require.ErrorIs(t, err, ErrUnknownUser)
	})

	t.Run("primary without members is demoted", func(t *testing.T) {
		e := newEnv(t)
		e.primary(t, e.lm("a", "a@x.com"))
		e.addSession(t, "h1", "a")

		res, err := e.svc.UnlinkAccounts(e.ctx, testApp, e.storage, "a")
		require.NoError(t, err)
		require.Equal(t, UnlinkResult{EffectiveUserID: "a"}, res)
		require.False(t, e.user(t, "a").IsPrimaryUser)
		require.Empty(t, e.sessionsOf(t, "a"))

		// el email quedó libre
		e.create(t, e.lm("c", "a@x.com"))
		_, err = e.svc.CreatePrimaryUser(e.ctx, testApp, e.storage, "c")
		require.NoError(t, err)
	})

	t.Run("member", func(t *testing.T) {
		e := newEnv(t)
		e.primary(t, e.lm("a", "a@x.com"))
		e.create(t, e.lm("b", "b@x.com"))
		_, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, "b", "a")
		require.NoError(t, err)

		res, err := e.svc.UnlinkAccounts(e.ctx, testApp, e.storage, "b")
		require.NoError(t, err)
		require.True(t, res.WasLinked)
		require.False(t, res.WasRecipeUserDeleted)
		require.Equal(t, []string{"a"}, memberIDs(e.user(t, "a")))
		b := e.user(t, "b")
		require.Equal(t, "b", b.ID)
		require.False(t, b.IsPrimaryUser)
	})

	t.Run("primary with survivors", func(t *testing.T) {
		e := newEnv(t)
		e.primary(t, e.lm("p", "p@x.com"))
		e.create(t, e.lm("b", "b@x.com"), e.lm("c", "c@x.com"))
		for _, id := range []string{"b", "c"} {
			_, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, id, "p")
			require.NoError(t, err)
		}
		e.mapID(t, "p", "ext-p")
		e.addSession(t, "hp", "ext-p")
		e.putNonAuth(t, repository.DomainMetadata, "ext-p", `{"plan":"pro"}`)

		res, err := e.svc.UnlinkAccounts(e.ctx, testApp, e.storage, "p")
		require.NoError(t, err)
		require.Equal(t, UnlinkResult{EffectiveUserID: "ext-p", WasLinked: true, WasRecipeUserDeleted: true}, res)

		require.False(t, e.exists(t, "p"))
		g := e.user(t, "c")
		require.Equal(t, "b", g.ID)
		require.True(t, g.IsPrimaryUser)
		require.Equal(t, []string{"b", "c"}, memberIDs(g))
		require.Empty(t, e.sessionsOf(t, "ext-p"))

		// el external id pasa al nuevo primary junto con los datos del grupo
		require.Nil(t, e.mapping(t, "p", repository.UserIDTypeSuperTokens))
		require.Equal(t, "ext-p", e.effectiveID(t, "b"))
		md, ok := e.nonAuth(t, repository.DomainMetadata, "ext-p")
		require.True(t, ok)
		require.Equal(t, `{"plan":"pro"}`, md)

		// p@x.com ya no está reservado
		e.create(t, e.lm("n", "p@x.com"))
		_, err = e.svc.CreatePrimaryUser(e.ctx, testApp, e.storage, "n")
		require.NoError(t, err)
	})

	t.Run("survivor with own mapping", func(t *testing.T) {
		e := newEnv(t)
		e.primary(t, e.lm("p", "p@x.com"))
		e.create(t, e.lm("b", "b@x.com"))
		_, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, "b", "p")
		require.NoError(t, err)
		e.mapID(t, "p", "ext-p")
		e.mapID(t, "b", "ext-b")
		e.putNonAuth(t, repository.DomainMetadata, "ext-p", `{"from":"p"}`)
		e.putNonAuth(t, repository.DomainRoles, "ext-p", `["admin"]`)
		e.putNonAuth(t, repository.DomainMetadata, "ext-b", `{"from":"b"}`)

		_, err = e.svc.UnlinkAccounts(e.ctx, testApp, e.storage, "p")
		require.NoError(t, err)

		require.Equal(t, "ext-b", e.effectiveID(t, "b"))
		md, ok := e.nonAuth(t, repository.DomainMetadata, "ext-b")
		require.True(t, ok)
		require.Equal(t, `{"from":"b"}`, md)
		roles, ok := e.nonAuth(t, repository.DomainRoles, "ext-b")
		require.True(t, ok)
		require.Equal(t, `["admin"]`, roles)
		for _, d := range []repository.NonAuthDomain{repository.DomainMetadata, repository.DomainRoles} {
			_, ok := e.nonAuth(t, d, "ext-p")
			require.False(t, ok, d)
		}
		require.Nil(t, e.mapping(t, "ext-p", repository.UserIDTypeExternal))
	})

	t.Run("retired primary id", func(t *testing.T) {
		e := newEnv(t)
		e.primary(t, e.lm("p", "p@x.com"))
		e.create(t, e.lm("b", "b@x.com"), e.lm("c", "c@x.com"))
		for _, id := range []string{"b", "c"} {
			_, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, id, "p")
			require.NoError(t, err)
		}
		require.NoError(t, e.svc.DeleteUser(e.ctx, testApp, e.storage, "p", false))

		_, err := e.svc.UnlinkAccounts(e.ctx, testApp, e.storage, "p")
		require.ErrorIs(t, err, ErrUnknownUser)
		require.Equal(t, []string{"b", "c"}, memberIDs(e.user(t, "p")))
	})
}
