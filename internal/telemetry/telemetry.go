// Package telemetry wires OpenTelemetry tracing and metrics for the
// discovery pipeline. When disabled it degrades to a no-op so callers never
// branch on configuration.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

type telemetry struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider

	scanCounter   metric.Int64Counter
	scanDuration  metric.Float64Histogram
	dispatchCount metric.Int64Counter
	toolCounter   metric.Int64Counter
	toolDuration  metric.Float64Histogram
}

func New(ctx context.Context, cfg config.TelemetryConfig) (core.Telemetry, error) {
	if !cfg.Enabled {
		return &noopTelemetry{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := tp.Tracer(cfg.ServiceName)
	meter := otel.Meter(cfg.ServiceName)

	scanCounter, err := meter.Int64Counter("ambit.scans.total",
		metric.WithDescription("Total number of asset scans by status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram("ambit.scan.duration",
		metric.WithDescription("Asset scan duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	dispatchCount, err := meter.Int64Counter("ambit.dispatch.targets",
		metric.WithDescription("Dispatched scan targets by publish outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	toolCounter, err := meter.Int64Counter("ambit.tool.invocations",
		metric.WithDescription("Tool child-process invocations by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram("ambit.tool.duration",
		metric.WithDescription("Tool invocation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		tracer:         tracer,
		meter:          meter,
		tracerProvider: tp,
		scanCounter:    scanCounter,
		scanDuration:   scanDuration,
		dispatchCount:  dispatchCount,
		toolCounter:    toolCounter,
		toolDuration:   toolDuration,
	}, nil
}

func (t *telemetry) RecordScan(ctx context.Context, scanType types.ScanType, status types.ScanStatus, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("scan.type", string(scanType)),
		attribute.String("scan.status", string(status)),
	}

	t.scanCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.scanDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (t *telemetry) RecordDispatch(ctx context.Context, scanType types.ScanType, success, failed int) {
	typeAttr := attribute.String("scan.type", string(scanType))

	if success > 0 {
		t.dispatchCount.Add(ctx, int64(success), metric.WithAttributes(
			typeAttr, attribute.String("outcome", "published")))
	}
	if failed > 0 {
		t.dispatchCount.Add(ctx, int64(failed), metric.WithAttributes(
			typeAttr, attribute.String("outcome", "failed")))
	}
}

func (t *telemetry) RecordToolInvocation(ctx context.Context, tool string, outcome string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("tool.name", tool),
		attribute.String("tool.outcome", outcome),
	}

	t.toolCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

type noopTelemetry struct{}

// Noop returns a telemetry sink that records nothing.
func Noop() core.Telemetry { return &noopTelemetry{} }

func (n *noopTelemetry) RecordScan(context.Context, types.ScanType, types.ScanStatus, time.Duration) {
}
func (n *noopTelemetry) RecordDispatch(context.Context, types.ScanType, int, int) {}
func (n *noopTelemetry) RecordToolInvocation(context.Context, string, string, time.Duration) {
}
func (n *noopTelemetry) Shutdown(context.Context) error { return nil }
