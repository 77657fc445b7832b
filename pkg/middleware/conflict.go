package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
	"github.com/corefold/shopstream/pkg/resilience"
)

// DefaultConflictAttempts is how many times a command runs before a
// persistent version conflict is surfaced to the caller.
const DefaultConflictAttempts = 3

// ConflictRetryMiddleware re-executes a command when the append loses an
// optimistic concurrency race. The whole handler runs again so the aggregate
// is reloaded at the new version before the command logic re-applies. It must
// sit innermost in the chain, directly around the handler, so outer concerns
// observe a single execution.
//
// When every attempt conflicts the command fails with a service unavailable
// error carrying the last conflict.
func ConflictRetryMiddleware(attempts int, logger *slog.Logger) eventsourcing.CommandMiddleware {
	if attempts < 1 {
		attempts = DefaultConflictAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd *eventsourcing.CommandEnvelope) ([]*eventsourcing.Event, error) {
			cfg := resilience.DefaultRetryConfig()
			cfg.MaxAttempts = attempts
			cfg.RetryIf = eventsourcing.IsVersionConflict
			cfg.OnRetry = func(attempt int, err error, _ time.Duration) {
				logger.WarnContext(ctx, "Retrying command after version conflict",
					slog.String("command_id", cmd.Metadata.CommandID),
					slog.String("command_type", cmd.Command.CommandType()),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
			}

			var events []*eventsourcing.Event
			err := resilience.Retry(ctx, cfg, func(ctx context.Context) error {
				var handleErr error
				events, handleErr = next.Handle(ctx, cmd)
				return handleErr
			})
			if err != nil {
				if eventsourcing.IsVersionConflict(err) {
					return nil, fmt.Errorf("%w: command %s conflicted %d times: %w",
						eventsourcing.ErrServiceUnavailable, cmd.Metadata.CommandID, attempts, err)
				}
				return nil, err
			}
			return events, nil
		})
	}
}
