// Package observability wires metrics and tracing for the engine:
// an OpenTelemetry meter exported through Prometheus, and an optional
// OTLP/Zipkin tracer.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled        bool
	PrometheusPort int
}

// MetricsCollector owns the engine's instruments. It subscribes to the
// event bridge, so everything the engine announces is also counted.
// With Enabled false every method is a no-op.
type MetricsCollector struct {
	meter  metric.Meter
	logger logging.Logger

	eventsEmitted  metric.Int64Counter
	tasksAssigned  metric.Int64Counter
	tasksCompleted metric.Int64Counter
	tasksFailed    metric.Int64Counter
	taskDuration   metric.Float64Histogram
	routeDecisions metric.Int64Counter
	retryAttempts  metric.Int64Counter
	reviewVerdicts metric.Int64Counter
	apiCost        metric.Float64Counter

	prometheusServer *http.Server
}

// NewMetricsCollector creates the collector and, when a port is set,
// starts the Prometheus scrape endpoint.
func NewMetricsCollector(config MetricsConfig, logger logging.Logger) (*MetricsCollector, error) {
	collector := &MetricsCollector{logger: logging.OrNop(logger)}
	if !config.Enabled {
		return collector, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("commandcenter")
	collector.meter = meter

	for _, inst := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&collector.eventsEmitted, "commandcenter.events.emitted.total", "Events emitted on the bridge", "{event}"},
		{&collector.tasksAssigned, "commandcenter.tasks.assigned.total", "Tasks assigned to agents", "{task}"},
		{&collector.tasksCompleted, "commandcenter.tasks.completed.total", "Tasks completed", "{task}"},
		{&collector.tasksFailed, "commandcenter.tasks.failed.total", "Tasks aborted or failed", "{task}"},
		{&collector.routeDecisions, "commandcenter.router.decisions.total", "Routing decisions by tier", "{decision}"},
		{&collector.retryAttempts, "commandcenter.retry.attempts.total", "Auto-retry ladder attempts", "{attempt}"},
		{&collector.reviewVerdicts, "commandcenter.reviews.total", "Code review verdicts", "{review}"},
	} {
		c, err := meter.Int64Counter(inst.name, metric.WithDescription(inst.desc), metric.WithUnit(inst.unit))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", inst.name, err)
		}
		*inst.dst = c
	}

	collector.taskDuration, err = meter.Float64Histogram(
		"commandcenter.task.duration",
		metric.WithDescription("Wall time spent on completed tasks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create task duration histogram: %w", err)
	}
	collector.apiCost, err = meter.Float64Counter(
		"commandcenter.cost.total",
		metric.WithDescription("Hosted model spend"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cost counter: %w", err)
	}

	if config.PrometheusPort > 0 {
		collector.startPrometheusServer(config.PrometheusPort)
	}
	return collector, nil
}

func (m *MetricsCollector) startPrometheusServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	m.prometheusServer = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		m.logger.Info("prometheus metrics listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Warn("prometheus server: %v", err)
		}
	}()
}

// Shutdown stops the scrape endpoint.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// HandleEvent lets the collector ride the event bridge: every emitted
// event is counted, and lifecycle events update the domain instruments.
func (m *MetricsCollector) HandleEvent(event domain.Event) {
	if m.eventsEmitted == nil {
		return
	}
	ctx := context.Background()
	m.eventsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(event.Type))))

	switch event.Type {
	case domain.EventTaskAssigned:
		m.tasksAssigned.Add(ctx, 1)
	case domain.EventTaskCompleted:
		task, ok := event.Payload.(*domain.Task)
		if !ok {
			return
		}
		m.tasksCompleted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task_type", string(task.TaskType)),
		))
		m.taskDuration.Record(ctx, float64(task.TimeSpentMs)/1000)
		if task.APICreditsUsed > 0 {
			m.apiCost.Add(ctx, task.APICreditsUsed)
		}
	case domain.EventTaskFailed:
		task, ok := event.Payload.(*domain.Task)
		if !ok {
			return
		}
		m.tasksFailed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_category", string(task.ErrorCategory)),
		))
	case domain.EventAutoRetryAttempt:
		m.retryAttempts.Add(ctx, 1)
	case domain.EventCodeReviewCompleted:
		review, ok := event.Payload.(*domain.CodeReview)
		if !ok {
			return
		}
		m.reviewVerdicts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reviewer_tier", string(review.ReviewerTier)),
			attribute.String("status", string(review.Status)),
		))
		if review.CostUSD > 0 {
			m.apiCost.Add(ctx, review.CostUSD, metric.WithAttributes(
				attribute.String("tier", string(review.ReviewerTier)),
			))
		}
	}
}

// RecordRouteDecision counts a routing decision by tier and provenance.
func (m *MetricsCollector) RecordRouteDecision(ctx context.Context, tier domain.Tier, source domain.ComplexitySource) {
	if m.routeDecisions == nil {
		return
	}
	m.routeDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", string(tier)),
		attribute.String("source", string(source)),
	))
}

// RecordHostedCall records spend and latency for a hosted model call.
func (m *MetricsCollector) RecordHostedCall(ctx context.Context, tier domain.Tier, latency time.Duration, cost float64) {
	if m.apiCost == nil {
		return
	}
	if cost > 0 {
		m.apiCost.Add(ctx, cost, metric.WithAttributes(attribute.String("tier", string(tier))))
	}
	m.taskDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("tier", string(tier))))
}
