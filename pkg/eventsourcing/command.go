package eventsourcing

import (
	"context"
	"time"
)

// Command represents an intention to change the system state.
type Command interface {
	// CommandID returns the unique identifier for this command.
	// Must be provided by the caller for idempotency.
	CommandID() string

	// AggregateID returns the ID of the aggregate this command targets.
	AggregateID() string

	// CommandType returns the type name of the command (e.g., "CreateProduct").
	CommandType() string
}

// CommandMetadata contains contextual information about a command.
type CommandMetadata struct {
	// CommandID is the unique identifier for this command
	CommandID string

	// IdempotencyKey deduplicates repeated dispatches of the same intent.
	// Empty means no deduplication.
	IdempotencyKey string

	// CorrelationID is used to trace related commands and events
	CorrelationID string

	// CausationID is the ID of the message that caused this command
	CausationID string

	// Actor is the identifier of the principal executing this command
	Actor string

	// Timestamp is when the command was created
	Timestamp time.Time

	// Custom allows for application-specific metadata
	Custom map[string]string
}

// EventMetadata derives event metadata from the command context.
func (m CommandMetadata) EventMetadata() EventMetadata {
	return EventMetadata{
		CommandID:     m.CommandID,
		CorrelationID: m.CorrelationID,
		CausationID:   m.CommandID,
		Actor:         m.Actor,
	}
}

// CommandEnvelope wraps a command with its metadata.
type CommandEnvelope struct {
	Command  Command
	Metadata CommandMetadata
}

// NewEnvelope wraps a command, filling metadata defaults from the command itself.
func NewEnvelope(cmd Command) *CommandEnvelope {
	return &CommandEnvelope{
		Command: cmd,
		Metadata: CommandMetadata{
			CommandID: cmd.CommandID(),
			Timestamp: Now(),
		},
	}
}

// CommandHandler processes a command and returns the produced events.
type CommandHandler interface {
	Handle(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error)
}

// CommandHandlerFunc is a function adapter for CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error)

// Handle implements CommandHandler.
func (f CommandHandlerFunc) Handle(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
	return f(ctx, cmd)
}

// TypedHandler is a CommandHandler that announces the command types it serves.
type TypedHandler interface {
	CommandHandler

	// CommandTypes returns the command types this handler accepts.
	CommandTypes() []string
}

// CommandMiddleware wraps command handlers with cross-cutting concerns.
type CommandMiddleware func(CommandHandler) CommandHandler

// CommandResult represents the result of processing a command.
type CommandResult struct {
	// CommandID is the ID of the command that was processed
	CommandID string

	// Events are the events produced by the command
	Events []*Event

	// AlreadyProcessed indicates the result came from the idempotency cache
	AlreadyProcessed bool

	// ProcessedAt is when the command was originally processed
	ProcessedAt time.Time
}
