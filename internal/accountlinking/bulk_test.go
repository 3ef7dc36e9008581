package accountlinking

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// candidate crea en storage un usuario importado con login method email y
// third-party y retorna el candidato.
func (e *env) candidate(t *testing.T, id, email string) BulkCandidate {
	t.Helper()
	ep := e.lm(id+"-ep", email)
	tp := e.lm(id+"-tp", email)
	tp.RecipeID = repository.RecipeThirdParty
	tp.ThirdParty = &repository.ThirdParty{ID: "google", UserID: "g-" + id}
	e.create(t, ep, tp)
	return BulkCandidate{ID: id, PrimaryRecipeUserID: ep.RecipeUserID, LoginMethods: []repository.LoginMethod{ep, tp}}
}

func TestBulkLink_PartialFailure(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("existing", "u57@x.com"))

	var cs []BulkCandidate
	for i := 0; i < 100; i++ {
		cs = append(cs, e.candidate(t, fmt.Sprintf("c%d", i), fmt.Sprintf("u%d@x.com", i)))
	}

	res, err := e.svc.LinkMultipleAccountsForBulkImport(e.ctx, testApp, e.storage, cs, nil)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	require.Len(t, res.Primaries, 99)

	itemErr := res.Errors["c57"]
	require.ErrorIs(t, itemErr, ErrAccountInfoConflict)
	var ie *ItemError
	require.ErrorAs(t, itemErr, &ie)
	require.Equal(t, CodeMakePrimaryConflict, ie.Code)

	g := e.user(t, "c3-tp")
	require.Equal(t, "c3-ep", g.ID)
	require.True(t, g.IsPrimaryUser)
	require.Equal(t, []string{"c3-ep", "c3-tp"}, memberIDs(g))
	require.Equal(t, "c3-ep", res.Primaries["c3"])

	require.False(t, e.user(t, "c57-ep").IsPrimaryUser)
	require.False(t, e.user(t, "c57-tp").IsPrimaryUser)
}

func TestBulkLink_ConflictInsideBatch(t *testing.T) {
	e := newEnv(t)
	first := e.candidate(t, "first", "dup@x.com")
	second := e.candidate(t, "second", "dup@x.com")

	res, err := e.svc.LinkMultipleAccountsForBulkImport(e.ctx, testApp, e.storage, []BulkCandidate{first, second}, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"first": "first-ep"}, res.Primaries)
	require.ErrorIs(t, res.Errors["second"], ErrAccountInfoConflict)

	var ae *Error
	require.ErrorAs(t, res.Errors["second"], &ae)
	require.Equal(t, "first-ep", ae.PrimaryUserID)
}

func TestBulkLink_AlreadyLinkedElsewhere(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("other", "o@x.com"))
	e.create(t, e.lm("m", "m@x.com"), e.lm("n", "n@x.com"))
	_, err := e.svc.LinkAccounts(e.ctx, testApp, e.storage, "m", "other")
	require.NoError(t, err)

	c := BulkCandidate{
		ID:                  "c",
		PrimaryRecipeUserID: "n",
		LoginMethods:        []repository.LoginMethod{e.user(t, "n").LoginMethods[0], *e.user(t, "m").LoginMethodFor("m")},
	}
	res, err := e.svc.LinkMultipleAccountsForBulkImport(e.ctx, testApp, e.storage, []BulkCandidate{c}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, res.Errors["c"], ErrAlreadyLinkedWithAnotherPrimary)
	var ie *ItemError
	require.ErrorAs(t, res.Errors["c"], &ie)
	require.Equal(t, CodeLinkAlreadyLinkedOther, ie.Code)
	require.Equal(t, []string{"other", "m"}, memberIDs(e.user(t, "other")))
}

func TestBulkLink_SkipsAndReimports(t *testing.T) {
	e := newEnv(t)
	e.primary(t, e.lm("again", "again@x.com"))
	e.create(t, e.lm("single", "single@x.com"))

	cs := []BulkCandidate{
		{ID: "single", PrimaryRecipeUserID: "single", LoginMethods: e.user(t, "single").LoginMethods},
		{ID: "again", PrimaryRecipeUserID: "again", LoginMethods: e.user(t, "again").LoginMethods, MakePrimary: true},
		{ID: "ghost", PrimaryRecipeUserID: "ghost", LoginMethods: []repository.LoginMethod{e.lm("ghost", "ghost@x.com")}, MakePrimary: true},
	}
	res, err := e.svc.LinkMultipleAccountsForBulkImport(e.ctx, testApp, e.storage, cs, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"again": "again"}, res.Primaries)
	require.Len(t, res.Errors, 1)
	require.ErrorIs(t, res.Errors["ghost"], ErrUnknownUser)
	require.False(t, e.user(t, "single").IsPrimaryUser)
}

func TestBulkLink_TransientAbortsBatch(t *testing.T) {
	e := newEnv(t)
	a := e.candidate(t, "a", "a@x.com")
	b := e.candidate(t, "b", "b@x.com")

	calls := 0
	e.storage.SetFaultHook(func(op string) error {
		if op == "LinkAccounts" {
			calls++
			if calls == 2 {
				return fmt.Errorf("deadlock: %w", repository.ErrTransient)
			}
		}
		return nil
	})
	_, err := e.svc.LinkMultipleAccountsForBulkImport(e.ctx, testApp, e.storage, []BulkCandidate{a, b}, nil)
	require.ErrorIs(t, err, ErrTransientStorageFailure)

	e.storage.SetFaultHook(nil)
	require.False(t, e.user(t, "a-ep").IsPrimaryUser)
}

func TestItemError(t *testing.T) {
	err := itemErr(CodeLinkConflict, &Error{Kind: KindAccountInfoConflict, PrimaryUserID: "p", Attribute: "email"})
	require.Equal(t, "E027: this user's email is already associated with another user ID (p)", err.Error())
	require.True(t, errors.Is(err, ErrAccountInfoConflict))
	require.False(t, errors.Is(err, ErrUnknownUser))
}

func TestBulkLink_InvalidInputCodes(t *testing.T) {
	cases := []struct {
		op   string
		code string
		want error
	}{
		{"MakePrimary", CodeMakePrimaryAlreadyLinked, ErrAlreadyLinkedWithPrimary},
		{"LinkAccounts", CodeLinkNotPrimary, ErrNotAPrimaryUser},
	}
	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			e := newEnv(t)
			c := e.candidate(t, "c", "c@x.com")
			e.storage.SetFaultHook(func(op string) error {
				if op == tc.op {
					return repository.ErrInvalidInput
				}
				return nil
			})

			res, err := e.svc.LinkMultipleAccountsForBulkImport(e.ctx, testApp, e.storage, []BulkCandidate{c}, nil)
			require.NoError(t, err)
			require.Empty(t, res.Primaries)
			require.ErrorIs(t, res.Errors["c"], tc.want)
			var ie *ItemError
			require.ErrorAs(t, res.Errors["c"], &ie)
			require.Equal(t, tc.code, ie.Code)
		})
	}
}
