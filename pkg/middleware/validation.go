package middleware

import (
	"context"
	"fmt"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// Validatable is implemented by commands that validate their own fields.
type Validatable interface {
	Validate() error
}

// Validator validates commands with rules that live outside the command type.
type Validator interface {
	// Validate validates a command and returns an error if invalid.
	Validate(cmd eventsourcing.Command) error
}

// ValidationMiddleware rejects malformed envelopes and invalid commands
// before they reach a handler. Commands implementing Validatable run their
// own field checks.
func ValidationMiddleware() eventsourcing.CommandMiddleware {
	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd *eventsourcing.CommandEnvelope) ([]*eventsourcing.Event, error) {
			if cmd.Command == nil {
				return nil, fmt.Errorf("%w: empty envelope", eventsourcing.ErrInvalidCommand)
			}
			if cmd.Metadata.CommandID == "" {
				return nil, fmt.Errorf("%w: command_id is required", eventsourcing.ErrInvalidCommand)
			}
			if cmd.Command.CommandType() == "" {
				return nil, fmt.Errorf("%w: command type is required", eventsourcing.ErrInvalidCommand)
			}

			if v, ok := cmd.Command.(Validatable); ok {
				if err := v.Validate(); err != nil {
					if eventsourcing.IsValidation(err) {
						return nil, err
					}
					return nil, fmt.Errorf("%w: %w", eventsourcing.ErrValidation, err)
				}
			}

			return next.Handle(ctx, cmd)
		})
	}
}

// ExternalValidationMiddleware validates commands with an injected validator.
func ExternalValidationMiddleware(validator Validator) eventsourcing.CommandMiddleware {
	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd *eventsourcing.CommandEnvelope) ([]*eventsourcing.Event, error) {
			if err := validator.Validate(cmd.Command); err != nil {
				if eventsourcing.IsValidation(err) {
					return nil, err
				}
				return nil, fmt.Errorf("%w: %w", eventsourcing.ErrValidation, err)
			}
			return next.Handle(ctx, cmd)
		})
	}
}
