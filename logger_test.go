package sfnlocal_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/sfnlocal"
)

func TestLoggerDefaults(t *testing.T) {
	ctx := context.Background()

	logger := sfnlocal.NewLogger()
	require.True(t, logger.Enabled(ctx, slog.LevelInfo))
	require.False(t, logger.Enabled(ctx, slog.LevelDebug))

	jsonLogger := sfnlocal.NewJSONLogger()
	require.True(t, jsonLogger.Enabled(ctx, slog.LevelInfo))
}
