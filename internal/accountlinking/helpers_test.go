package accountlinking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/cache"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/session"
	"github.com/dropDatabas3/hellojohn-identity/internal/store/adapters/memory"
)

const testApp = "public"

type env struct {
	ctx      context.Context
	storage  *memory.Storage
	sessions *session.Service
	svc      *Service
	joined   int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.New("test")
	t.Cleanup(func() { _ = st.Close() })
	sess := session.NewService(cache.NewMemory("test:"), time.Minute)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &env{
		ctx:      context.Background(),
		storage:  st,
		sessions: sess,
		svc:      NewService(Deps{Sessions: sess, Now: func() time.Time { return now }}),
		joined:   1000,
	}
}

// lm arma un login method emailpassword con TimeJoined creciente.
func (e *env) lm(id, email string, tenants ...string) repository.LoginMethod {
	if len(tenants) == 0 {
		tenants = []string{"public"}
	}
	e.joined++
	return repository.LoginMethod{
		RecipeUserID: id,
		RecipeID:     repository.RecipeEmailPassword,
		TenantIDs:    tenants,
		Email:        email,
		TimeJoined:   e.joined,
	}
}

func (e *env) tx(t *testing.T, fn func(ctx context.Context, tx repository.Tx) error) {
	t.Helper()
	require.NoError(t, e.storage.InTx(e.ctx, fn))
}

func (e *env) create(t *testing.T, lms ...repository.LoginMethod) {
	t.Helper()
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		for _, lm := range lms {
			if err := tx.Linking().CreateRecipeUser(ctx, testApp, repository.CreateRecipeUserInput{LoginMethod: lm}); err != nil {
				return err
			}
		}
		return nil
	})
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

func (e *env) putNonAuth(t *testing.T, domain repository.NonAuthDomain, userID, data string) {
	t.Helper()
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		return tx.NonAuth(domain).Upsert(ctx, testApp, userID, []byte(data))
	})
}

func (e *env) nonAuth(t *testing.T, domain repository.NonAuthDomain, userID string) (string, bool) {
	t.Helper()
	var data []byte
	err := e.storage.InTx(e.ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		data, err = tx.NonAuth(domain).Get(ctx, testApp, userID)
		return err
	})
	if repository.IsNotFound(err) {
		return "", false
	}
	require.NoError(t, err)
	return string(data), true
}

func (e *env) addSession(t *testing.T, handle, userID string) {
	t.Helper()
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		return tx.Sessions().Create(ctx, repository.Session{
			Handle:    handle,
			AppID:     testApp,
			TenantID:  "public",
			UserID:    userID,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(time.Hour),
		})
	})
}

func (e *env) sessionsOf(t *testing.T, userID string) []repository.Session {
	t.Helper()
	var out []repository.Session
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.Sessions().ListByUser(ctx, testApp, userID)
		return err
	})
	return out
}

// mapID crea el mapping sin validar colisiones con recipe users.
func (e *env) mapID(t *testing.T, stID, externalID string) {
	t.Helper()
	e.tx(t, func(ctx context.Context, tx repository.Tx) error {
		return tx.UserIDMappings().Create(ctx, testApp, repository.UserIDMapping{
			SuperTokensUserID: stID,
			ExternalUserID:    externalID,
		})
	})
}

// primary crea y promueve un recipe user.
func (e *env) primary(t *testing.T, lm repository.LoginMethod) {
	t.Helper()
	e.create(t, lm)
	_, err := e.svc.CreatePrimaryUser(e.ctx, testApp, e.storage, lm.RecipeUserID)
	require.NoError(t, err)
}

func memberIDs(u *repository.User) []string {
	out := make([]string, 0, len(u.LoginMethods))
	for _, lm := range u.LoginMethods {
		out = append(out, lm.RecipeUserID)
	}
	return out
}

// racingStorage corre before dentro de la misma transacción justo antes de
// MakePrimary/LinkAccounts, como una escritura concurrente que ganó la carrera
// entre los chequeos y la mutación.
type racingStorage struct {
	*memory.Storage
	before func(ctx context.Context, l repository.LinkingRepository) error
}

func (s racingStorage) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.Storage.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, racingTx{Tx: tx, before: s.before})
	})
}

type racingTx struct {
	repository.Tx
	before func(ctx context.Context, l repository.LinkingRepository) error
}

func (t racingTx) Linking() repository.LinkingRepository {
	return racingLinking{LinkingRepository: t.Tx.Linking(), before: t.before}
}

type racingLinking struct {
	repository.LinkingRepository
	before func(ctx context.Context, l repository.LinkingRepository) error
}

func (l racingLinking) MakePrimary(ctx context.Context, appID, recipeUserID string) error {
	if err := l.before(ctx, l.LinkingRepository); err != nil {
		return err
	}
	return l.LinkingRepository.MakePrimary(ctx, appID, recipeUserID)
}

func (l racingLinking) LinkAccounts(ctx context.Context, appID, recipeUserID, primaryUserID string) error {
	if err := l.before(ctx, l.LinkingRepository); err != nil {
		return err
	}
	return l.LinkingRepository.LinkAccounts(ctx, appID, recipeUserID, primaryUserID)
}
