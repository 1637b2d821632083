package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

func TestSetupTracingDisabled(t *testing.T) {
	cfg := testConfig(t)
	tp, shutdown, err := setupTracing(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, shutdown(context.Background()))

	_, isSDK := tp.(*sdktrace.TracerProvider)
	assert.False(t, isSDK, "no exporter is built without an endpoint")
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestSetupTracingExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := testConfig(t)
	cfg.Telemetry.OTLPEndpoint = "localhost:4318"
	tp, shutdown, err := setupTracing(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, isSDK := tp.(*sdktrace.TracerProvider)
	assert.True(t, isSDK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nothing was recorded, so shutdown has nothing to flush
	_ = shutdown(ctx)
}
