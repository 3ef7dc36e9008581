package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/config"
)

func memoryConfig(t *testing.T, bulk bool) *config.Config {
	t.Helper()
	t.Setenv("IDENTITY_STORAGE_DRIVER", "memory")
	if bulk {
		t.Setenv("IDENTITY_BULK_IMPORT_ENABLED", "true")
	}
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNew_RegistersBulkJob(t *testing.T) {
	a, err := New(memoryConfig(t, true), Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.Equal(t, []string{BulkImportJob}, a.Scheduler.Names())

	b, err := New(memoryConfig(t, false), Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.Empty(t, b.Scheduler.Names())
}

func TestMigrate_SkipsStoragesWithoutSchema(t *testing.T) {
	a, err := New(memoryConfig(t, false), Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	res, err := a.Migrate(context.Background())
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Empty(t, res[config.DefaultPool].Applied)
}

func TestHandlerAndBulkJob(t *testing.T) {
	a, err := New(memoryConfig(t, true), Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	h, err := a.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ctx := context.Background()
	s, err := a.StorageFor(ctx, "public")
	require.NoError(t, err)
	_, err = a.Entries.AddUsers(ctx, "public", s, []bulkimport.User{{
		LoginMethods: []bulkimport.LoginMethod{{RecipeID: "emailpassword", Email: "a@x.com", PlainTextPassword: "pw"}},
	}})
	require.NoError(t, err)

	require.NoError(t, a.Scheduler.RunOnce(ctx, BulkImportJob))
	n, err := a.Entries.Count(ctx, "public", s, nil)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = a.StorageFor(ctx, "ghost")
	require.Error(t, err)
}
