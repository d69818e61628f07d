package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled        bool
	Exporter       string // otlp, zipkin
	OTLPEndpoint   string
	ZipkinEndpoint string
	SampleRate     float64 // 0.0 to 1.0
	ServiceName    string
	ServiceVersion string
}

// TracerProvider wraps the OpenTelemetry tracer.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider creates a tracer provider, or a noop one when
// tracing is disabled.
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer("commandcenter"),
		}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "commandcenter"
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch config.Exporter {
	case "otlp":
		endpoint := config.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := config.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("commandcenter"),
	}, nil
}

// Shutdown flushes and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSpan starts a span with the given attributes.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Common span names.
const (
	SpanAssignTask  = "commandcenter.queue.assign"
	SpanExecuteTask = "commandcenter.executor.execute"
	SpanRetryLadder = "commandcenter.executor.retry_ladder"
	SpanRouteTask   = "commandcenter.router.route"
	SpanCodeReview  = "commandcenter.review.review"
	SpanHTTPServer  = "commandcenter.http.request"
)

// Common attribute keys.
const (
	AttrTaskID        = "commandcenter.task_id"
	AttrAgentID       = "commandcenter.agent_id"
	AttrAgentType     = "commandcenter.agent_type"
	AttrTier          = "commandcenter.tier"
	AttrComplexity    = "commandcenter.complexity"
	AttrIteration     = "commandcenter.iteration"
	AttrStatus        = "commandcenter.status"
	AttrError         = "commandcenter.error"
	AttrErrorCategory = "commandcenter.error_category"
)

// TaskAttrs creates the standard task attributes.
func TaskAttrs(taskID string, iteration int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
		attribute.Int(AttrIteration, iteration),
	}
}

// RouteAttrs creates routing decision attributes.
func RouteAttrs(tier string, complexity float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTier, tier),
		attribute.Float64(AttrComplexity, complexity),
	}
}

// ErrorAttrs creates error attributes.
func ErrorAttrs(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(AttrError, true),
		attribute.String("error.message", err.Error()),
	}
}
