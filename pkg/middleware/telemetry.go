package middleware

import (
	"context"
	"fmt"

	"github.com/corefold/shopstream/pkg/eventsourcing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryMiddleware adds OpenTelemetry distributed tracing to command
// execution. Uses the global tracer provider registered for tracerName.
func TelemetryMiddleware(tracerName string) eventsourcing.CommandMiddleware {
	if tracerName == "" {
		tracerName = "github.com/corefold/shopstream"
	}
	return TelemetryMiddlewareWithTracer(otel.Tracer(tracerName))
}

// TelemetryMiddlewareWithTracer creates tracing middleware with a specific tracer.
func TelemetryMiddlewareWithTracer(tracer trace.Tracer) eventsourcing.CommandMiddleware {
	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd *eventsourcing.CommandEnvelope) ([]*eventsourcing.Event, error) {
			commandType := cmd.Command.CommandType()
			if commandType == "" {
				commandType = "unknown"
			}

			spanCtx, span := tracer.Start(ctx, fmt.Sprintf("command.%s", commandType),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("command.id", cmd.Metadata.CommandID),
					attribute.String("command.type", commandType),
					attribute.String("command.actor", cmd.Metadata.Actor),
					attribute.String("command.correlation_id", cmd.Metadata.CorrelationID),
				),
			)
			defer span.End()

			events, err := next.Handle(spanCtx, cmd)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			span.SetAttributes(attribute.Int("events.count", len(events)))
			if len(events) > 0 {
				eventTypes := make([]string, len(events))
				for i, evt := range events {
					eventTypes[i] = evt.EventType
				}
				span.SetAttributes(attribute.StringSlice("events.types", eventTypes))
			}

			span.SetStatus(codes.Ok, "command executed successfully")
			return events, nil
		})
	}
}
