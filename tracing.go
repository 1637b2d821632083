package main

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/config"
)

const tracerName = "github.com/MasterBuilder91/misyar-connect"

// setupTracing installs a global tracer provider exporting over OTLP/HTTP.
// With no endpoint configured it leaves the no-op provider in place and the
// returned shutdown does nothing.
func setupTracing(cfg *config.Config, log *zap.Logger) (trace.TracerProvider, func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Telemetry.OTLPEndpoint == "" {
		log.Info("tracing disabled")
		return otel.GetTracerProvider(), func(context.Context) error { return nil }, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Telemetry.OTLPEndpoint)}
	if !cfg.IsProduction() {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res := resource.NewSchemaless(
		semconv.ServiceName(cfg.Telemetry.ServiceName),
		attribute.String("environment", cfg.Env),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing initialized",
		zap.String("service", cfg.Telemetry.ServiceName),
		zap.String("endpoint", cfg.Telemetry.OTLPEndpoint),
	)
	return tp, tp.Shutdown, nil
}
