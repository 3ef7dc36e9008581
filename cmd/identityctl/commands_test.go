package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/app"
	"github.com/dropDatabas3/hellojohn-identity/internal/config"
)

const testConfig = `
storage:
  driver: memory
apps:
  - id: public
    account_linking: true
`

const testUsers = `{"users": [
  {"loginMethods": [{"recipeId": "emailpassword", "email": "a@x.com", "plainTextPassword": "pw", "superTokensUserId": "u1", "timeJoinedInMSSinceEpoch": 1000}]},
  {"loginMethods": [{"recipeId": "emailpassword", "email": "b@x.com", "plainTextPassword": "pw", "superTokensUserId": "u2", "timeJoinedInMSSinceEpoch": 2000}]}
]}`

type harness struct {
	t   *testing.T
	dir string
	c   *cli
	buf *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	a, err := app.New(cfg, app.Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	buf := &bytes.Buffer{}
	return &harness{t: t, dir: dir, c: &cli{out: buf, app: a}, buf: buf}
}

// run ejecuta un comando y decodifica su salida JSON.
func (h *harness) run(args ...string) (map[string]any, error) {
	h.t.Helper()
	h.buf.Reset()
	root := newRootCmd(h.c)
	root.SetArgs(args)
	err := root.Execute()

	out := map[string]any{}
	if h.buf.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(h.buf.Bytes(), &out), h.buf.String())
	}
	return out, err
}

func TestBulkAndLinkingCommands(t *testing.T) {
	h := newHarness(t)
	file := filepath.Join(h.dir, "users.json")
	require.NoError(t, os.WriteFile(file, []byte(testUsers), 0o600))

	out, err := h.run("bulk", "add", "-f", file)
	require.NoError(t, err)
	require.Len(t, out["ids"], 2)

	out, err = h.run("bulk", "count", "--status", "NEW")
	require.NoError(t, err)
	require.EqualValues(t, 2, out["count"])

	out, err = h.run("bulk", "process")
	require.NoError(t, err)
	require.EqualValues(t, 2, out["imported"])
	require.EqualValues(t, 0, out["failed"])

	out, err = h.run("primary", "--recipe-user", "u1")
	require.NoError(t, err)
	require.Equal(t, "OK", out["status"])

	out, err = h.run("link", "--recipe-user", "u2", "--primary-user", "u1", "--check")
	require.NoError(t, err)
	require.Equal(t, false, out["accountsAlreadyLinked"])

	out, err = h.run("link", "--recipe-user", "u2", "--primary-user", "u1")
	require.NoError(t, err)
	require.Equal(t, "OK", out["status"])

	// u2 ya pertenece al grupo de u1.
	out, err = h.run("primary", "--recipe-user", "u2")
	require.NoError(t, err)
	require.Equal(t, "RECIPE_USER_ID_ALREADY_LINKED_WITH_PRIMARY_USER_ID_ERROR", out["status"])
	require.Equal(t, "u1", out["primaryUserId"])

	out, err = h.run("unlink", "--recipe-user", "u2")
	require.NoError(t, err)
	require.Equal(t, true, out["wasLinked"])

	_, err = h.run("delete", "--user", "u1")
	require.NoError(t, err)

	_, err = h.run("primary", "--recipe-user", "u1")
	require.Error(t, err)
}

func TestBulkAdd_InvalidData(t *testing.T) {
	h := newHarness(t)
	file := filepath.Join(h.dir, "bad.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"users": [{"loginMethods": []}]}`), 0o600))

	out, err := h.run("bulk", "add", "-f", file)
	require.Error(t, err)
	require.Len(t, out["users"], 1)

	_, err = h.run("bulk", "count", "--status", "DONE")
	require.Error(t, err)
}

func TestMigrate_Memory(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("migrate")
	require.NoError(t, err)
	require.Contains(t, out, config.DefaultPool)
}
