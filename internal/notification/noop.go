package notification

import (
	"context"

	"github.com/clausehub/contract-cache/internal/platform/observability"
)

// NoOpPublisher is a publisher that only logs alerts.
// Use this when SNS is not configured (local development, testing).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a new no-op publisher that only logs alerts.
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	return &NoOpPublisher{
		logger: logger,
	}
}

// PublishAlert logs the alert instead of publishing to SNS.
func (p *NoOpPublisher) PublishAlert(ctx context.Context, alert *Alert) error {
	if p.logger != nil {
		p.logger.Warn("degradation alert (SNS disabled)",
			"alert_kind", alert.Kind,
			"component", alert.Component,
			"detail", alert.Detail,
			"from_state", alert.FromState,
			"to_state", alert.ToState,
		)
	}
	return nil
}
