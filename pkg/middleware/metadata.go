package middleware

import (
	"context"

	"github.com/corefold/shopstream/pkg/eventsourcing"
	"go.opentelemetry.io/otel/trace"
)

type actorContextKey struct{}

// ContextWithActor returns a context carrying the acting principal's identifier.
// Transports put the authenticated caller here so commands dispatched further
// down are attributed without threading identity through every signature.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the acting principal set by ContextWithActor.
func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(string)
	return actor, ok && actor != ""
}

// MetadataMiddleware fills envelope metadata that callers commonly omit.
// The actor comes from the context when not set explicitly, the correlation
// ID from the active trace span, falling back to the command ID so every
// command chain stays traceable.
func MetadataMiddleware() eventsourcing.CommandMiddleware {
	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd *eventsourcing.CommandEnvelope) ([]*eventsourcing.Event, error) {
			if cmd.Metadata.Actor == "" {
				if actor, ok := ActorFromContext(ctx); ok {
					cmd.Metadata.Actor = actor
				}
			}

			if cmd.Metadata.CorrelationID == "" {
				if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
					cmd.Metadata.CorrelationID = sc.TraceID().String()
				} else {
					cmd.Metadata.CorrelationID = cmd.Metadata.CommandID
				}
			}

			if cmd.Metadata.Timestamp.IsZero() {
				cmd.Metadata.Timestamp = eventsourcing.Now()
			}

			return next.Handle(ctx, cmd)
		})
	}
}
