package bulkimport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/security/password"
	"github.com/dropDatabas3/hellojohn-identity/internal/store"
	"github.com/dropDatabas3/hellojohn-identity/internal/store/adapters/memory"
)

const testApp = "public"

var cheapHash = password.Params{Memory: 64, Time: 1, Parallelism: 1, KeyLen: 16}

type fakeApps struct {
	linking bool
	roles   []string
}

func (f *fakeApps) AccountLinkingEnabled(string) bool { return f.linking }
func (f *fakeApps) RolesFor(string) []string          { return f.roles }
func (f *fakeApps) AppIDs() []string                  { return []string{testApp} }

func (f *fakeApps) AdapterConfig(appID string) (store.AdapterConfig, error) {
	return store.AdapterConfig{Name: "memory", UserPoolID: "test"}, nil
}

type env struct {
	ctx     context.Context
	now     time.Time
	storage *memory.Storage
	apps    *fakeApps
	linker  *accountlinking.Service
	entries *Entries
	proc    *Processor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	clock := func() time.Time { return now }

	st := memory.New("test")
	st.SetClock(clock)
	t.Cleanup(func() { _ = st.Close() })

	apps := &fakeApps{linking: true}
	linker := accountlinking.NewService(accountlinking.Deps{Now: clock})
	proc := NewProcessor(ProcessorConfig{
		Apps:           apps,
		Linker:         linker,
		BatchSize:      100,
		Now:            clock,
		PasswordParams: cheapHash,
	})
	return &env{
		ctx:     context.Background(),
		now:     now,
		storage: st,
		apps:    apps,
		linker:  linker,
		entries: NewEntries(EntriesConfig{Apps: apps, Now: clock}),
		proc:    proc,
	}
}

func (e *env) tx(t *testing.T, fn func(ctx context.Context, tx repository.Tx) error) {
	t.Helper()
	require.NoError(t, e.storage.InTx(e.ctx, fn))
}

func (e *env) add(t *testing.T, users ...User) []string {
	t.Helper()
	ids, err := e.entries.AddUsers(e.ctx, testApp, e.storage, users)
	require.NoError(t, err)
	return ids
}

func (e *env) count(t *testing.T, status *repository.BulkImportStatus) int64 {
	t.Helper()
	n, err := e.entries.Count(e.ctx, testApp, e.storage, status)
	require.NoError(t, err)
	return n
}

func (e *env) failedEntries(t *testing.T) map[string]string {
	t.Helper()
	status := repository.BulkImportFailed
	page, err := e.entries.List(e.ctx, testApp, e.storage, ListParams{Status: &status, Limit: MaxListLimit})
	require.NoError(t, err)
	out := make(map[string]string, len(page.Users))
	for _, u := range page.Users {
		out[u.ID] = u.ErrorMessage
	}
	return out
}

func (e *env) user(t *testing.T, id string) *repository.User {
	t.Helper()
	var u *repository.User
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		var err error
		u, err = tx.Linking().GetUserByID(ctx, testApp, id)
		return err
	})
	return u
}

func (e *env) exists(t *testing.T, id string) bool {
	t.Helper()
	var ok bool
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		var err error
		ok, err = tx.Linking().DoesUserIDExist(ctx, testApp, id)
		return err
	})
	return ok
}

func (e *env) nonAuth(t *testing.T, domain repository.NonAuthDomain, userID string) string {
	t.Helper()
	var data []byte
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		var err error
		data, err = tx.NonAuth(domain).Get(ctx, testApp, userID)
		return err
	})
	return string(data)
}

// emailUser arma un usuario emailpassword de un solo login method.
func emailUser(id, email string) User {
	return User{LoginMethods: []LoginMethod{{
		RecipeID:          "emailpassword",
		Email:             email,
		PlainTextPassword: "secret-password",
		SuperTokensUserID: id,
		TimeJoined:        1000,
	}}}
}

// linkedUser arma un usuario primary con login method email y google.
func linkedUser(prefix, email string) User {
	return User{LoginMethods: []LoginMethod{
		{
			RecipeID:          "emailpassword",
			Email:             email,
			PasswordHash:      "$2a$10$abcdefghijklmnopqrstuv",
			HashingAlgorithm:  "bcrypt",
			IsVerified:        true,
			IsPrimary:         true,
			SuperTokensUserID: prefix + "-ep",
			TimeJoined:        1000,
		},
		{
			RecipeID:          "thirdparty",
			Email:             email,
			ThirdPartyID:      "google",
			ThirdPartyUserID:  "g-" + prefix,
			SuperTokensUserID: prefix + "-tp",
			TimeJoined:        2000,
		},
	}}
}
