package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Cache request metrics (L1 and durable tiers)
	CacheRequests metric.Int64Counter

	// Durable tier metrics
	DurableCalls         metric.Int64Counter
	DurableCallDuration  metric.Float64Histogram
	DurableWriteFailures metric.Int64Counter

	// Maintenance metrics
	SweepRemoved metric.Int64Counter

	// L1 entry count
	L1Entries metric.Int64Gauge

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Degradation alert metrics
	AlertPublishes metric.Int64Counter

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.CacheRequests, err = m.meter.Int64Counter(
		"contractcache.requests",
		metric.WithDescription("Cache requests by tier, domain, and hit/miss status"),
	)
	if err != nil {
		return err
	}

	m.DurableCalls, err = m.meter.Int64Counter(
		"contractcache.durable.calls",
		metric.WithDescription("Total durable tier calls"),
	)
	if err != nil {
		return err
	}

	m.DurableCallDuration, err = m.meter.Float64Histogram(
		"contractcache.durable.duration",
		metric.WithDescription("Durable tier call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.DurableWriteFailures, err = m.meter.Int64Counter(
		"contractcache.durable.write_failures",
		metric.WithDescription("Durable tier upserts that failed and were absorbed"),
	)
	if err != nil {
		return err
	}

	m.SweepRemoved, err = m.meter.Int64Counter(
		"contractcache.sweep.removed",
		metric.WithDescription("Entries removed by expiry sweeps"),
	)
	if err != nil {
		return err
	}

	m.L1Entries, err = m.meter.Int64Gauge(
		"contractcache.l1.entries",
		metric.WithDescription("Live entries in the in-process tier"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"contractcache.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.AlertPublishes, err = m.meter.Int64Counter(
		"contractcache.alerts.published",
		metric.WithDescription("Degradation alert publish attempts by status"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"contractcache.errors",
		metric.WithDescription("Total errors encountered"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordCacheRequest records a cache lookup outcome for one tier
func (m *Metrics) RecordCacheRequest(ctx context.Context, tier, domain string, hit bool) {
	if m.CacheRequests == nil {
		return
	}
	status := "miss"
	if hit {
		status = "hit"
	}
	m.CacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("domain", domain),
		attribute.String("status", status),
	))
}

// RecordDurableCall records a durable tier call with its duration
func (m *Metrics) RecordDurableCall(ctx context.Context, domain, operation, status string, duration time.Duration) {
	if m.DurableCalls == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("domain", domain),
		attribute.String("operation", operation),
		attribute.String("status", status),
	}
	m.DurableCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.DurableCallDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDurableWriteFailure records an absorbed write-path failure
func (m *Metrics) RecordDurableWriteFailure(ctx context.Context, domain string) {
	if m.DurableWriteFailures == nil {
		return
	}
	m.DurableWriteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", domain)))
}

// RecordSweepRemoved records entries removed by an expiry sweep
func (m *Metrics) RecordSweepRemoved(ctx context.Context, tier, domain string, removed int64) {
	if m.SweepRemoved == nil {
		return
	}
	m.SweepRemoved.Add(ctx, removed, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("domain", domain),
	))
}

// SetL1Entries records the live entry count of the in-process tier
func (m *Metrics) SetL1Entries(ctx context.Context, count int64) {
	if m.L1Entries == nil {
		return
	}
	m.L1Entries.Record(ctx, count)
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	if m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordAlertPublish records a degradation alert publish attempt
func (m *Metrics) RecordAlertPublish(ctx context.Context, status string) {
	if m.AlertPublishes == nil {
		return
	}
	m.AlertPublishes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if m.Errors == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	// The OpenTelemetry Prometheus exporter registers with the default
	// Prometheus registry, so the standard handler serves everything.
	return promhttp.Handler()
}
