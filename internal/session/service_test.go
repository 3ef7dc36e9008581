package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/cache"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/store/adapters/memory"
)

func seedSessions(t *testing.T, s repository.Storage, sessions ...repository.Session) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		for _, sess := range sessions {
			if err := tx.Sessions().Create(ctx, sess); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestRevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test")
	svc := NewService(cache.NewMemory("t"), 0)

	seedSessions(t, st,
		repository.Session{Handle: "h1", AppID: "public", UserID: "u1"},
		repository.Session{Handle: "h2", AppID: "public", UserID: "u1"},
		repository.Session{Handle: "h3", AppID: "public", UserID: "u2"},
	)

	require.NoError(t, svc.RevokeAllForUser(ctx, "public", st, "u1"))

	for _, h := range []string{"h1", "h2"} {
		revoked, err := svc.IsRevoked(ctx, "public", h)
		require.NoError(t, err)
		require.True(t, revoked, h)
	}
	revoked, err := svc.IsRevoked(ctx, "public", "h3")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		left, err := tx.Sessions().ListByUser(ctx, "public", "u1")
		require.Empty(t, left)
		return err
	}))
}

func TestRevokeAllForUser_StorageFault(t *testing.T) {
	st := memory.New("test")
	st.SetFaultHook(func(op string) error {
		if op == "DeleteSessions" {
			return errors.New("down")
		}
		return nil
	})
	svc := NewService(cache.NewMemory(""), 0)
	require.ErrorContains(t, svc.RevokeAllForUser(context.Background(), "public", st, "u1"), "down")
}

type failingCache struct{ cache.Client }

func (failingCache) Set(context.Context, string, string, time.Duration) error {
	return errors.New("cache down")
}

func TestMarkRevoked_ContinuesOnError(t *testing.T) {
	svc := NewService(failingCache{cache.NewMemory("")}, time.Minute)
	err := svc.MarkRevoked(context.Background(), "public", []string{"a", "b"})
	require.EqualError(t, err, "cache down")
	require.NoError(t, svc.MarkRevoked(context.Background(), "public", nil))
}
