package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger := New(level, "text")
		assert.NotNil(t, logger, "level %s", level)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req_123")
	assert.Equal(t, "req_123", RequestID(ctx))
}

func TestL_FallsBackToDefault(t *testing.T) {
	assert.NotNil(t, L(context.Background()))
}

func TestL_UsesContextLogger(t *testing.T) {
	logger := New("info", "json")
	ctx := WithLogger(context.Background(), logger)
	got := L(ctx)
	assert.NotNil(t, got)

	// With a request id, L returns a derived logger.
	ctx = WithRequestID(ctx, "req_1")
	derived := L(ctx)
	assert.NotNil(t, derived)
	assert.IsType(t, &slog.Logger{}, derived)
}
