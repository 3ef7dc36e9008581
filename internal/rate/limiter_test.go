package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-identity/internal/cache"
)

func TestFixedWindow(t *testing.T) {
	ctx := context.Background()
	l := NewFixedWindow(cache.NewMemory("t"), "", 2, time.Minute)
	now := time.Date(2026, 3, 4, 10, 0, 5, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "public|10.0.0.1")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "public|10.0.0.1")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Zero(t, res.Remaining)
	require.EqualValues(t, 3, res.CurrentHits)
	require.Greater(t, res.RetryAfter, time.Duration(0))

	// otra key y otra ventana cuentan aparte
	res, err = l.Allow(ctx, "public|10.0.0.2")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.EqualValues(t, 1, res.Remaining)

	now = now.Add(time.Minute)
	res, err = l.Allow(ctx, "public|10.0.0.1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}
