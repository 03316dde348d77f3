package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "effortlog"

// StartLifecycleSpan starts a span for a lifecycle operation on an instance.
func StartLifecycleSpan(ctx context.Context, op, instanceID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "lifecycle."+op,
		trace.WithAttributes(
			attribute.String("instance.id", instanceID),
		),
	)
}

// StartAggregateSpan starts a span for an aggregate query over a task.
func StartAggregateSpan(ctx context.Context, op, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "aggregate."+op,
		trace.WithAttributes(
			attribute.String("task.id", taskID),
		),
	)
}
