package notification

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/clausehub/contract-cache/internal/platform/aws"
	"github.com/clausehub/contract-cache/internal/platform/observability"
)

// Alert describes a cache degradation event worth paging on. Individual
// absorbed write failures do not alert; sustained failure surfaces here
// through circuit breaker transitions.
type Alert struct {
	Kind       string    `json:"kind"`
	Component  string    `json:"component"`
	Detail     string    `json:"detail"`
	FromState  string    `json:"fromState,omitempty"`
	ToState    string    `json:"toState,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Alert kinds.
const (
	AlertKindBreakerStateChange = "circuit_breaker_state_change"
	AlertKindSweepFailure       = "sweep_failure"
)

// AlertPublisher publishes degradation alerts.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *Alert) error
}

// Publisher publishes degradation alerts to SNS.
type Publisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    observability.Tracer
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    observability.Tracer
}

// NewPublisher creates a new degradation alert publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Publisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}, nil
}

// PublishAlert publishes a degradation alert to SNS.
func (p *Publisher) PublishAlert(ctx context.Context, alert *Alert) error {
	ctx, span := p.tracer.StartSpan(
		ctx,
		"Publisher.PublishAlert",
		observability.WithAttributes(
			attribute.String("alert_kind", alert.Kind),
			attribute.String("component", alert.Component),
			attribute.String("topic_arn", p.topicARN),
		),
	)
	defer span.End()

	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}

	// Message attributes let subscribers filter by kind and component.
	attributes := map[string]string{
		"kind":      alert.Kind,
		"component": alert.Component,
	}
	if alert.ToState != "" {
		attributes["toState"] = alert.ToState
	}

	if err := p.snsClient.Publish(ctx, p.topicARN, alert, attributes); err != nil {
		span.NoticeError(err)
		if p.logger != nil {
			p.logger.LogError(ctx, "failed to publish alert to SNS", err,
				"alert_kind", alert.Kind,
				"component", alert.Component,
				"topic_arn", p.topicARN,
			)
		}
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	if p.logger != nil {
		p.logger.Info("published degradation alert",
			"alert_kind", alert.Kind,
			"component", alert.Component,
			"to_state", alert.ToState,
		)
	}

	return nil
}

// CircuitBreakerState returns the current circuit breaker state
func (p *Publisher) CircuitBreakerState() string {
	return p.snsClient.CircuitBreakerState().String()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (p *Publisher) ResetCircuitBreaker() {
	p.snsClient.ResetCircuitBreaker()
	if p.logger != nil {
		p.logger.Info("reset SNS circuit breaker")
	}
}
