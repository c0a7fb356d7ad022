package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", CorrelationIDFromContext(ctx))

	ctx = WithCorrelationID(ctx, "abc-123")
	assert.Equal(t, "abc-123", CorrelationIDFromContext(ctx))
}

func TestCorrelationID_IgnoresStringKeys(t *testing.T) {
	//nolint:staticcheck // plain string key must not collide with the typed key
	ctx := context.WithValue(context.Background(), "correlation_id", "raw")
	assert.Equal(t, "", CorrelationIDFromContext(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	scoped := zap.New(core)
	fallback := zap.NewNop()

	assert.Same(t, fallback, LoggerFromContext(context.Background(), fallback))
	assert.NotNil(t, LoggerFromContext(context.Background(), nil))

	ctx := WithLogger(context.Background(), scoped)
	LoggerFromContext(ctx, fallback).Info("scoped")
	assert.Equal(t, 1, logs.Len())
}
