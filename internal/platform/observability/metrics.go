package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lumen-studio/booking/internal/platform/auth"
)

const meterName = "github.com/lumen-studio/booking/internal/platform/observability"

// NewVerificationMetrics counts OIDC and webhook signature checks by outcome
// and records their latency. A nil meter uses the global provider.
func NewVerificationMetrics(meter metric.Meter) (auth.MetricsRecorder, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	outcomes, err := meter.Int64Counter("booking.auth.verifications",
		metric.WithDescription("Inbound credential checks by kind and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("register verification counter: %w", err)
	}
	latency, err := meter.Float64Histogram("booking.auth.verification.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent verifying inbound credentials"),
	)
	if err != nil {
		return nil, fmt.Errorf("register verification latency: %w", err)
	}

	return auth.MetricsRecorderFunc(func(ctx context.Context, kind string, success bool, reason string, d time.Duration) {
		outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.Bool("success", success),
			attribute.String("reason", reason),
		))
		latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attribute.String("kind", kind)))
	}), nil
}
