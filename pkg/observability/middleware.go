package observability

import (
	"context"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// CommandMetricsMiddleware records dispatch duration, totals and error
// kinds for every command flowing through the bus. It pairs with the
// telemetry middleware in pkg/middleware, which owns the span side.
func CommandMetricsMiddleware(metrics *Metrics) eventsourcing.CommandMiddleware {
	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd *eventsourcing.CommandEnvelope) ([]*eventsourcing.Event, error) {
			start := time.Now()

			events, err := next.Handle(ctx, cmd)

			metrics.RecordCommand(ctx, cmd.Command.CommandType(), time.Since(start), err)
			if err == nil {
				metrics.RecordPublished(ctx, len(events))
			}

			return events, err
		})
	}
}
