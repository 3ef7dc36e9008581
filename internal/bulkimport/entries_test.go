package bulkimport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

func TestEntries_AddUsers(t *testing.T) {
	e := newEnv(t)

	ids := e.add(t, emailUser("a", "a@x.com"), emailUser("b", "b@x.com"), linkedUser("c", "c@x.com"))
	require.Len(t, ids, 3)

	status := repository.BulkImportNew
	require.EqualValues(t, 3, e.count(t, &status))
	require.EqualValues(t, 3, e.count(t, nil))
}

func TestEntries_AddUsersRejects(t *testing.T) {
	e := newEnv(t)

	_, err := e.entries.AddUsers(e.ctx, testApp, e.storage, nil)
	require.ErrorIs(t, err, ErrNoUsers)

	small := NewEntries(EntriesConfig{Apps: e.apps, MaxUsersPerAdd: 2, Now: e.entries.now})
	_, err = small.AddUsers(e.ctx, testApp, e.storage, []User{emailUser("a", "a@x.com"), emailUser("b", "b@x.com"), emailUser("c", "c@x.com")})
	require.ErrorIs(t, err, ErrTooManyUsers)

	bad := emailUser("b", "b@x.com")
	bad.LoginMethods[0].RecipeID = "magic"
	_, err = e.entries.AddUsers(e.ctx, testApp, e.storage, []User{emailUser("a", "a@x.com"), bad})
	var invalid *InvalidDataError
	require.ErrorAs(t, err, &invalid)
	require.Len(t, invalid.Users, 1)
	require.Equal(t, 1, invalid.Users[0].Index)

	// Ningún usuario queda encolado si alguno es inválido.
	require.Zero(t, e.count(t, nil))
}

func TestEntries_AddUsersRegeneratesDuplicateIDs(t *testing.T) {
	e := newEnv(t)

	calls := 0
	e.storage.SetFaultHook(func(op string) error {
		if op != "AddBulkImportUsers" {
			return nil
		}
		calls++
		if calls == 1 {
			return repository.ErrDuplicateID
		}
		return nil
	})

	ids := e.add(t, emailUser("a", "a@x.com"))
	require.Len(t, ids, 1)
	require.Equal(t, 2, calls)
	require.EqualValues(t, 1, e.count(t, nil))
}

func TestEntries_AddUsersRegeneratesOnlyCollidingIDs(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.storage.InTx(e.ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.BulkImport().Add(ctx, testApp, []repository.BulkImportEntry{{ID: "taken", RawData: []byte("{}")}})
	}))
	next := []string{"id-1", "taken", "id-3", "id-4"}
	e.entries.newID = func() string {
		id := next[0]
		next = next[1:]
		return id
	}

	ids, err := e.entries.AddUsers(e.ctx, testApp, e.storage, []User{emailUser("a", "a@x.com"), emailUser("b", "b@x.com")})
	require.NoError(t, err)
	require.Equal(t, []string{"id-1", "id-3"}, ids)
	require.EqualValues(t, 3, e.count(t, nil))
}

func TestEntries_AddUsersGivesUpOnDuplicates(t *testing.T) {
	e := newEnv(t)

	calls := 0
	e.storage.SetFaultHook(func(op string) error {
		if op == "AddBulkImportUsers" {
			calls++
			return repository.ErrDuplicateID
		}
		return nil
	})

	_, err := e.entries.AddUsers(e.ctx, testApp, e.storage, []User{emailUser("a", "a@x.com")})
	require.ErrorIs(t, err, ErrIDRegeneration)
	require.Equal(t, addAttempts, calls)
}

func TestEntries_AddUsersStorageError(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("boom")
	e.storage.SetFaultHook(func(op string) error {
		if op == "AddBulkImportUsers" {
			return boom
		}
		return nil
	})

	_, err := e.entries.AddUsers(e.ctx, testApp, e.storage, []User{emailUser("a", "a@x.com")})
	require.ErrorIs(t, err, boom)
}

func TestEntries_ListPagination(t *testing.T) {
	e := newEnv(t)
	var users []User
	for i := 0; i < 5; i++ {
		users = append(users, emailUser(fmt.Sprintf("u%d", i), fmt.Sprintf("u%d@x.com", i)))
	}
	ids := e.add(t, users...)

	var got []string
	token := ""
	pages := 0
	for {
		page, err := e.entries.List(e.ctx, testApp, e.storage, ListParams{Limit: 2, Token: token})
		require.NoError(t, err)
		pages++
		for _, u := range page.Users {
			got = append(got, u.ID)
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	require.Equal(t, 3, pages)
	require.Equal(t, ids, got)
}

func TestEntries_ListRejects(t *testing.T) {
	e := newEnv(t)

	_, err := e.entries.List(e.ctx, testApp, e.storage, ListParams{Limit: MaxListLimit + 1})
	require.ErrorIs(t, err, ErrLimitOutOfRange)

	_, err = e.entries.List(e.ctx, testApp, e.storage, ListParams{Limit: -1})
	require.ErrorIs(t, err, ErrLimitOutOfRange)

	_, err = e.entries.List(e.ctx, testApp, e.storage, ListParams{Token: "%%%"})
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = e.entries.List(e.ctx, testApp, e.storage, ListParams{Token: encodeToken("", e.now)})
	require.ErrorIs(t, err, ErrInvalidToken)

	status := repository.BulkImportStatus("DONE")
	_, err = e.entries.List(e.ctx, testApp, e.storage, ListParams{Status: &status})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestEntries_Delete(t *testing.T) {
	e := newEnv(t)
	ids := e.add(t, emailUser("a", "a@x.com"), emailUser("b", "b@x.com"))

	deleted, invalid, err := e.entries.Delete(e.ctx, testApp, e.storage, []string{ids[0], "missing"})
	require.NoError(t, err)
	require.Equal(t, []string{ids[0]}, deleted)
	require.Equal(t, []string{"missing"}, invalid)
	require.EqualValues(t, 1, e.count(t, nil))

	_, _, err = e.entries.Delete(e.ctx, testApp, e.storage, nil)
	require.ErrorIs(t, err, ErrNoIDs)

	_, _, err = e.entries.Delete(e.ctx, testApp, e.storage, make([]string, MaxDeleteIDs+1))
	require.ErrorIs(t, err, ErrTooManyIDs)
}

func TestToken_RoundTrip(t *testing.T) {
	e := newEnv(t)
	id, at, err := decodeToken(encodeToken("entry-1", e.now))
	require.NoError(t, err)
	require.Equal(t, "entry-1", id)
	require.True(t, at.Equal(e.now))
}
