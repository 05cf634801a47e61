package telemetry

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authsync/internal/auth/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricVerifyTotal    = "auth.verify.total"
	MetricVerifyDuration = "auth.verify.duration_ms"
)

// VerifyMetrics records bearer token verification outcomes.
type VerifyMetrics struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewVerifyMetrics registers the verification instruments on meter.
func NewVerifyMetrics(meter metric.Meter) (*VerifyMetrics, error) {
	total, err := meter.Int64Counter(
		MetricVerifyTotal,
		metric.WithDescription("Bearer token verifications by outcome"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		MetricVerifyDuration,
		metric.WithDescription("Bearer token verification duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &VerifyMetrics{total: total, duration: duration}, nil
}

// Record counts one verification. A nil receiver records nothing.
func (m *VerifyMetrics) Record(ctx context.Context, outcome domain.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}

	opt := metric.WithAttributes(attribute.String("outcome", outcome.String()))
	m.total.Add(ctx, 1, opt)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, opt)
}
