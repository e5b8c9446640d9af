package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestContextLoggerRoundTrip(t *testing.T) {
	logger := zap.NewNop()
	ctx := ContextWithLogger(context.Background(), logger)

	got, ok := LoggerFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, logger, got)
}

func TestLoggerFromContextMissing(t *testing.T) {
	got, ok := LoggerFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, got)
}
