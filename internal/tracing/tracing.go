package tracing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer oteltrace.Tracer

// Config holds tracing configuration. There is no collector in this
// engine's deployment shape, so the exporter writes spans to a local
// sink (stdout, or a file when Output is set) rather than over OTLP.
type Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Output      string `mapstructure:"output"` // "stdout" (default) or a file path
	PrettyPrint bool   `mapstructure:"pretty_print"`
}

// Initialize sets up span export via stdouttrace.
func Initialize(cfg Config, logger *zap.Logger) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "taskmesh-orchestrator"
	}
	// Always set a tracer handle, even if the provider stays disabled, so
	// Start* helpers never panic.
	tracer = otel.Tracer(cfg.ServiceName)

	if !cfg.Enabled {
		logger.Info("tracing disabled")
		return nil
	}

	opts := []stdouttrace.Option{}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}

	writer, err := traceWriter(cfg.Output)
	if err != nil {
		return fmt.Errorf("open trace output: %w", err)
	}
	if writer != nil {
		opts = append(opts, stdouttrace.WithWriter(writer))
	}

	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return fmt.Errorf("create stdout trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", "1.0.0"),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(cfg.ServiceName)

	logger.Info("tracing initialized", zap.String("output", cfg.Output))
	return nil
}

// W3CTraceparent generates a W3C traceparent header value for ctx's span.
func W3CTraceparent(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}

	sc := span.SpanContext()
	return fmt.Sprintf("00-%s-%s-%02x",
		sc.TraceID().String(),
		sc.SpanID().String(),
		sc.TraceFlags(),
	)
}

// InjectTraceparent adds a W3C traceparent header to an outgoing HTTP request.
func InjectTraceparent(ctx context.Context, req *http.Request) {
	if traceparent := W3CTraceparent(ctx); traceparent != "" {
		req.Header.Set("traceparent", traceparent)
	}
}

// StartSpan creates a new span with the given name.
func StartSpan(ctx context.Context, spanName string) (context.Context, oteltrace.Span) {
	if tracer == nil {
		tracer = otel.Tracer("taskmesh-orchestrator")
	}
	return tracer.Start(ctx, spanName)
}

// StartHTTPSpan creates a span for an outbound HTTP operation.
func StartHTTPSpan(ctx context.Context, method, url string) (context.Context, oteltrace.Span) {
	if tracer == nil {
		tracer = otel.Tracer("taskmesh-orchestrator")
	}
	ctx, span := tracer.Start(ctx, fmt.Sprintf("HTTP %s", method))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", url),
	)
	return ctx, span
}

// ParseTraceparent parses a W3C traceparent header.
func ParseTraceparent(traceparent string) (traceID, spanID string, flags byte, valid bool) {
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return "", "", 0, false
	}

	version := parts[0]
	if version != "00" {
		return "", "", 0, false
	}

	traceID = parts[1]
	spanID = parts[2]

	var flagsInt int
	if _, err := fmt.Sscanf(parts[3], "%02x", &flagsInt); err != nil {
		return "", "", 0, false
	}
	flags = byte(flagsInt)

	return traceID, spanID, flags, true
}
