package degradation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/mirrorbuddy/reliability/internal/degradation"

// Metrics holds the OpenTelemetry instruments for the engine. A nil *Metrics
// records nothing.
type Metrics struct {
	level        metric.Int64Gauge
	transitions  metric.Int64Counter
	healthChecks metric.Int64Counter
}

// NewMetrics creates the engine instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	level, err := meter.Int64Gauge(
		"degradation.level",
		metric.WithDescription("Aggregate degradation level (0 none, 1 partial, 2 severe, 3 critical)"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"degradation.transitions",
		metric.WithDescription("Number of feature degrade and recover transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	healthChecks, err := meter.Int64Counter(
		"health.checks",
		metric.WithDescription("Number of health check observations recorded"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		level:        level,
		transitions:  transitions,
		healthChecks: healthChecks,
	}, nil
}

func (m *Metrics) recordLevel(ctx context.Context, l Level) {
	if m == nil {
		return
	}
	m.level.Record(ctx, l.Severity())
}

func (m *Metrics) recordTransition(ctx context.Context, e Event) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("feature", string(e.FeatureID)),
		attribute.String("new_state", e.NewState),
	))
}

func (m *Metrics) recordHealthCheck(ctx context.Context, service string, healthy bool) {
	if m == nil {
		return
	}
	m.healthChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.Bool("healthy", healthy),
	))
}
