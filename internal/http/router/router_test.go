package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/cache"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/controllers"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services/common"
	"github.com/dropDatabas3/hellojohn-identity/internal/rate"
	"github.com/dropDatabas3/hellojohn-identity/internal/store"
	"github.com/dropDatabas3/hellojohn-identity/internal/store/adapters/memory"
)

type testApps struct{}

func (testApps) AppIDs() []string                    { return []string{"public", "nolink"} }
func (testApps) AccountLinkingEnabled(id string) bool { return id == "public" }
func (testApps) RolesFor(string) []string            { return nil }

func (testApps) AdapterConfig(string) (store.AdapterConfig, error) {
	return store.AdapterConfig{Name: "memory", UserPoolID: "test"}, nil
}

func (a testApps) known(id string) bool {
	for _, k := range a.AppIDs() {
		if k == id {
			return true
		}
	}
	return false
}

type harness struct {
	t       *testing.T
	storage *memory.Storage
	handler http.Handler
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	st := memory.New("test")
	apps := testApps{}
	storages := store.NewStorageCache(func(ctx context.Context, cfg store.AdapterConfig) (repository.Storage, error) {
		return st, nil
	}, store.CacheConfig{})

	linker := accountlinking.NewService(accountlinking.Deps{Flags: apps})
	svcs := services.New(services.Deps{
		AppIDs:    apps.AppIDs,
		Storages:  common.NewStorageResolver(apps, storages),
		Linker:    linker,
		Entries:   bulkimport.NewEntries(bulkimport.EntriesConfig{Apps: apps}),
		Processor: bulkimport.NewProcessor(bulkimport.ProcessorConfig{Apps: apps, Storages: storages, Linker: linker}),
	})

	deps := Deps{Controllers: controllers.New(svcs), KnownApp: apps.known}
	for _, o := range opts {
		o(&deps)
	}
	return &harness{t: t, storage: st, handler: New(deps)}
}

func (h *harness) recipeUser(id, email string, joined int64) {
	h.t.Helper()
	require.NoError(h.t, h.storage.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.Linking().CreateRecipeUser(ctx, "public", repository.CreateRecipeUserInput{LoginMethod: repository.LoginMethod{
			RecipeUserID: id,
			RecipeID:     repository.RecipeEmailPassword,
			TenantIDs:    []string{"public"},
			Email:        email,
			TimeJoined:   joined,
		}})
	}))
}

func (h *harness) do(method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestAccountLinkingRoutes(t *testing.T) {
	h := newHarness(t)
	h.recipeUser("p", "p@x.com", 1)
	h.recipeUser("r", "r@x.com", 2)
	h.recipeUser("other", "p@x.com", 3)

	code, body := h.do("GET", "/recipe/accountlinking/user/primary/check?recipeUserId=p", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "OK", body["status"])
	require.Equal(t, false, body["wasAlreadyAPrimaryUser"])

	code, body = h.do("POST", "/recipe/accountlinking/user/primary", map[string]string{"recipeUserId": "p"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "OK", body["status"])
	user := body["user"].(map[string]any)
	require.Equal(t, true, user["isPrimaryUser"])

	code, body = h.do("GET", "/recipe/accountlinking/user/link/check?recipeUserId=r&primaryUserId=p", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["accountsAlreadyLinked"])

	code, body = h.do("POST", "/recipe/accountlinking/user/link", map[string]string{"recipeUserId": "r", "primaryUserId": "p"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "OK", body["status"])
	require.Len(t, body["user"].(map[string]any)["loginMethods"], 2)

	// "other" comparte email con el primary p.
	code, body = h.do("POST", "/recipe/accountlinking/user/primary", map[string]string{"recipeUserId": "other"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ACCOUNT_INFO_ALREADY_ASSOCIATED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR", body["status"])
	require.Equal(t, "p", body["primaryUserId"])

	code, body = h.do("POST", "/recipe/accountlinking/user/unlink", map[string]string{"recipeUserId": "r"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["wasLinked"])
	require.Equal(t, false, body["wasRecipeUserDeleted"])

	code, body = h.do("POST", "/user/remove", map[string]any{"userId": "p"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "OK", body["status"])

	code, body = h.do("POST", "/recipe/accountlinking/user/primary", map[string]string{"recipeUserId": "p"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "UNKNOWN_USER_ID", body["code"])
}

func TestAccountLinkingRoutes_Errors(t *testing.T) {
	h := newHarness(t)

	code, body := h.do("POST", "/appid-nolink/recipe/accountlinking/user/primary", map[string]string{"recipeUserId": "x"})
	require.Equal(t, http.StatusPaymentRequired, code)
	require.Equal(t, "FEATURE_NOT_ENABLED", body["code"])

	code, body = h.do("POST", "/appid-ghost/recipe/accountlinking/user/primary", map[string]string{"recipeUserId": "x"})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "APP_NOT_FOUND", body["code"])

	code, body = h.do("POST", "/recipe/accountlinking/user/link", map[string]string{"recipeUserId": "x"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "MISSING_FIELDS", body["code"])

	code, _ = h.do("GET", "/recipe/accountlinking/user/unlink", nil)
	require.Equal(t, http.StatusMethodNotAllowed, code)

	// El borrado no depende del feature flag.
	code, body = h.do("POST", "/appid-nolink/user/remove", map[string]any{"userId": "ghost"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "UNKNOWN_USER_ID", body["code"])
}

func TestBulkImportRoutes(t *testing.T) {
	h := newHarness(t)

	user := map[string]any{"loginMethods": []map[string]any{{
		"recipeId":          "emailpassword",
		"email":             "bulk@x.com",
		"plainTextPassword": "pw",
		"superTokensUserId": "bulk-1",
	}}}
	bad := map[string]any{"loginMethods": []map[string]any{{"recipeId": "magic"}}}

	code, body := h.do("POST", "/bulk-import/users", map[string]any{"users": []any{user, bad}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "INVALID_BULK_IMPORT_DATA", body["code"])
	require.Len(t, body["users"], 1)

	code, body = h.do("POST", "/bulk-import/users", map[string]any{"users": []any{user}})
	require.Equal(t, http.StatusOK, code)
	ids := body["ids"].([]any)
	require.Len(t, ids, 1)

	code, body = h.do("GET", "/bulk-import/users/count?status=NEW", nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])

	code, body = h.do("GET", "/bulk-import/users?limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["users"], 1)

	code, _ = h.do("GET", "/bulk-import/users?limit=1000", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do("GET", "/bulk-import/users/count?status=DONE", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = h.do("POST", "/bulk-import/users/remove", map[string]any{"ids": []any{ids[0], "missing"}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{ids[0]}, body["deletedIds"])
	require.Equal(t, []any{"missing"}, body["invalidIds"])

	code, body = h.do("POST", "/bulk-import/import", map[string]any{"user": user})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "bulk-1", body["user"].(map[string]any)["id"])

	code, body = h.do("POST", "/bulk-import/import", map[string]any{"user": user})
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, body["detail"], "E003")
}

func TestReadyz(t *testing.T) {
	h := newHarness(t)
	code, body := h.do("GET", "/readyz", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", body["status"])

	require.NoError(t, h.storage.Close())
	code, body = h.do("GET", "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "unavailable", body["status"])
}

func TestRateLimit(t *testing.T) {
	limiter := rate.NewFixedWindow(cache.NewMemory("test:"), "rl:", 2, time.Minute)
	h := newHarness(t, func(d *Deps) { d.RateLimiter = limiter })
	h.recipeUser("p", "p@x.com", 1)

	for i := 0; i < 2; i++ {
		code, _ := h.do("GET", "/recipe/accountlinking/user/primary/check?recipeUserId=p", nil)
		require.Equal(t, http.StatusOK, code)
	}
	code, body := h.do("GET", "/recipe/accountlinking/user/primary/check?recipeUserId=p", nil)
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, "RATE_LIMITED", body["code"])

	// otra app, otra key
	code, _ = h.do("POST", "/appid-nolink/user/remove", map[string]string{"userId": "ghost"})
	require.Equal(t, http.StatusBadRequest, code)

	// health no pasa por el limiter
	code, _ = h.do("GET", "/readyz", nil)
	require.Equal(t, http.StatusOK, code)
}
