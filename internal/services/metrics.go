package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"dataplane-signaling/backend/pkg/status"
)

const instrumentationName = "dataplane-signaling/backend/internal/services"

type signalingMetrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
	conflicts  metric.Int64Counter
}

func newSignalingMetrics(mp metric.MeterProvider) (*signalingMetrics, error) {
	meter := mp.Meter(instrumentationName)

	operations, err := meter.Int64Counter("dataplane.signaling.operations",
		metric.WithDescription("Signaling commands handled, by operation and outcome."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("dataplane.signaling.duration",
		metric.WithDescription("Time spent handling a signaling command."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("dataplane.signaling.lease_conflicts",
		metric.WithDescription("Commands rejected because another owner held the lease."))
	if err != nil {
		return nil, err
	}
	return &signalingMetrics{operations: operations, duration: duration, conflicts: conflicts}, nil
}

func (m *signalingMetrics) record(ctx context.Context, op string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = status.ReasonOf(err).String()
	}
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome))
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *signalingMetrics) leaseConflict(ctx context.Context, op string) {
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
