package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "effortlog"

// Metrics holds all lifecycle metric instruments.
type Metrics struct {
	InstancesCreated   metric.Int64Counter
	InstancesCompleted metric.Int64Counter
	InstancesCancelled metric.Int64Counter
	InstanceDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.InstancesCreated, err = meter.Int64Counter("effortlog.instances.created",
		metric.WithDescription("Number of instances created"))
	if err != nil {
		return nil, err
	}

	m.InstancesCompleted, err = meter.Int64Counter("effortlog.instances.completed",
		metric.WithDescription("Number of instances completed"))
	if err != nil {
		return nil, err
	}

	m.InstancesCancelled, err = meter.Int64Counter("effortlog.instances.cancelled",
		metric.WithDescription("Number of instances cancelled"))
	if err != nil {
		return nil, err
	}

	m.InstanceDuration, err = meter.Float64Histogram("effortlog.instance.duration_minutes",
		metric.WithDescription("Recorded duration of finished instances in minutes"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
