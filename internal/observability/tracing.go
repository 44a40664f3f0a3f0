// Package observability wires OpenTelemetry tracing and metrics around job
// execution, plus the read-only execution-metrics surface supplemented from
// original_source/routilux/api/models/monitor.py. It is grounded on the
// teacher's internal/observability/otel.go (env-gated init, resource
// attributes, graceful fallback) simplified to a stdout-only trace exporter:
// the domain-stack wiring here has no OTLP collector to talk to, so there is
// no otlptracehttp leg as the teacher has.
package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/routilux/routilux-go/internal/logger"
)

// TracingConfig names the service for the resource attributes attached to
// every exported span.
type TracingConfig struct {
	ServiceName string
	Environment string
}

var (
	tracingOnce sync.Once
	tracer      trace.Tracer = otel.Tracer("github.com/routilux/routilux-go")
)

// InitTracing installs a global TracerProvider exporting spans to stdout.
// Safe to call more than once; only the first call takes effect. Returns a
// shutdown func that flushes and releases the exporter.
func InitTracing(ctx context.Context, log *logger.Logger, cfg TracingConfig) func(context.Context) error {
	var shutdown func(context.Context) error
	tracingOnce.Do(func() {
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "routilux"
		}
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(serviceName),
				attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
			),
		)
		if err != nil && log != nil {
			log.Warn("observability: resource init failed, continuing", "error", err)
		}

		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			if log != nil {
				log.Warn("observability: stdout trace exporter init failed, tracing disabled", "error", err)
			}
			shutdown = func(context.Context) error { return nil }
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		tracer = tp.Tracer("github.com/routilux/routilux-go")
		shutdown = tp.Shutdown
		if log != nil {
			log.Info("observability: tracing initialized", "service", serviceName)
		}
	})
	if shutdown == nil {
		shutdown = func(context.Context) error { return nil }
	}
	return shutdown
}

// Tracer returns the package-level tracer, set up by InitTracing (or the
// otel no-op default if InitTracing was never called).
func Tracer() trace.Tracer { return tracer }

// StartRoutineSpan opens a span around one routine firing, named by
// convention so traces read as a timeline of the flow graph executing.
func StartRoutineSpan(ctx context.Context, jobID, routineID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "routine.fire",
		trace.WithAttributes(
			attribute.String("routilux.job_id", jobID),
			attribute.String("routilux.routine_id", routineID),
		),
	)
}
