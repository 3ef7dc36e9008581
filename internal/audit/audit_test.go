package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

func TestLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).With(logger.RequestID("req-1")))

	Log(ctx, AccountsLinked, logger.AppID("public"), logger.RecipeUserID("r"))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "audit", fields["component"])
	require.Equal(t, AccountsLinked, fields["event"])
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "r", fields["recipe_user_id"])
}
