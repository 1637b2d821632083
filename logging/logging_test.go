package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		log, err := New("debug", format)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	}

	_, err := New("loud", "json")
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	t.Run("Empty context", func(t *testing.T) {
		assert.Empty(t, ContextFields(context.Background()))
		log := zap.NewNop()
		assert.Same(t, log, For(context.Background(), log))
	})

	t.Run("Request and user", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		ctx := WithUserID(WithRequestID(context.Background(), "req-1"), "u-1")

		For(ctx, zap.New(core)).Info("hello")

		fields := logs.All()[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "u-1", fields["user_id"])
	})

	t.Run("Trace ids", func(t *testing.T) {
		tp := trace.NewTracerProvider(trace.WithSpanProcessor(tracetest.NewSpanRecorder()))
		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		fields := ContextFields(ctx)
		require.Len(t, fields, 2)
		assert.Equal(t, "trace_id", fields[0].Key)
		assert.Equal(t, span.SpanContext().TraceID().String(), fields[0].String)
	})
}
