package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// ErrSagaNotFound is returned when a saga's log does not exist.
var ErrSagaNotFound = errors.New("saga not found")

// Status is a saga instance's position in its lifecycle.
type Status string

const (
	StatusStarted      Status = "started"
	StatusRunning      Status = "running"
	StatusCompensating Status = "compensating"
	StatusCompleted    Status = "completed"
	StatusCompensated  Status = "compensated"
	StatusFailed       Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

// Instance is one saga's durable state, sourced entirely from its own
// `saga-<id>` stream. Forward progress and rollback progress are both
// derived from the recorded step completions, so replaying the log alone
// re-enters the exact state the coordinator left off at.
type Instance struct {
	id          string
	sagaType    string
	version     int64
	uncommitted []*eventsourcing.Event

	Status           Status
	Data             json.RawMessage
	Deadline         time.Time
	Completed        []string
	CompensatedSteps []string
	FailedStep       string
	FailureReason    string
}

// NewInstance returns an empty instance at version 0, ready for replay.
func NewInstance(id string) *Instance {
	return &Instance{id: id}
}

// Start opens a new saga log.
func Start(id, sagaType string, data json.RawMessage, deadline time.Time) (*Instance, error) {
	s := NewInstance(id)
	if err := s.record(EventStarted, StartedPayload{
		SagaID:   id,
		SagaType: sagaType,
		Data:     data,
		Deadline: deadline,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Load rebuilds an instance from its stream.
func Load(ctx context.Context, store eventsourcing.EventStore, id string) (*Instance, error) {
	events, err := store.ReadStream(ctx, eventsourcing.SagaStreamID(id), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("reading saga stream: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, id)
	}
	s := NewInstance(id)
	for _, event := range events {
		if err := s.ApplyEvent(event); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ID returns the saga's unique identifier.
func (s *Instance) ID() string { return s.id }

// Type returns the saga definition type this instance runs.
func (s *Instance) Type() string { return s.sagaType }

// Version returns the saga log's stream version.
func (s *Instance) Version() int64 { return s.version }

// Position returns the index of the next forward step.
func (s *Instance) Position() int { return len(s.Completed) }

// Expired reports whether the deadline has passed at the given time.
func (s *Instance) Expired(now time.Time) bool {
	return !s.Deadline.IsZero() && now.After(s.Deadline)
}

// UncommittedEvents returns transitions not yet appended to the stream.
func (s *Instance) UncommittedEvents() []*eventsourcing.Event { return s.uncommitted }

// ClearUncommittedEvents drops the buffered transitions after a save.
func (s *Instance) ClearUncommittedEvents() { s.uncommitted = nil }

// MarkStepCompleted records a forward step's completion.
func (s *Instance) MarkStepCompleted(step string) error {
	if err := s.requireForward(); err != nil {
		return err
	}
	return s.record(EventStepCompleted, StepCompletedPayload{SagaID: s.id, Step: step})
}

// MarkCompleted closes the saga after its last step.
func (s *Instance) MarkCompleted() error {
	if err := s.requireForward(); err != nil {
		return err
	}
	return s.record(EventCompleted, CompletedPayload{SagaID: s.id})
}

// MarkCompensationStarted switches the saga to rollback. step names the step
// whose failure triggered it; reason says why (a domain code or "timeout").
func (s *Instance) MarkCompensationStarted(step, reason string) error {
	if err := s.requireForward(); err != nil {
		return err
	}
	return s.record(EventCompensationStarted, CompensationStartedPayload{
		SagaID: s.id,
		Step:   step,
		Reason: reason,
	})
}

// MarkCompensationStep records one compensating step's completion.
func (s *Instance) MarkCompensationStep(step string) error {
	if s.Status != StatusCompensating {
		return fmt.Errorf("saga %s is %s, not compensating", s.id, s.Status)
	}
	return s.record(EventStepCompleted, StepCompletedPayload{SagaID: s.id, Step: step, Compensation: true})
}

// MarkCompensated closes the saga after a full rollback.
func (s *Instance) MarkCompensated() error {
	if s.Status != StatusCompensating {
		return fmt.Errorf("saga %s is %s, not compensating", s.id, s.Status)
	}
	return s.record(EventCompensated, CompensatedPayload{SagaID: s.id})
}

// MarkFailed closes the saga when rollback itself cannot proceed.
func (s *Instance) MarkFailed(step, reason string) error {
	if s.Status.Terminal() {
		return fmt.Errorf("saga %s is already %s", s.id, s.Status)
	}
	return s.record(EventFailed, FailedPayload{SagaID: s.id, Step: step, Reason: reason})
}

func (s *Instance) requireForward() error {
	if s.Status != StatusStarted && s.Status != StatusRunning {
		return fmt.Errorf("saga %s is %s, not advancing", s.id, s.Status)
	}
	return nil
}

func (s *Instance) record(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}
	event := &eventsourcing.Event{
		ID:             eventsourcing.GenerateDeterministicEventID(s.id, s.id, int(s.version)),
		StreamID:       eventsourcing.SagaStreamID(s.id),
		AggregateID:    s.id,
		AggregateType:  AggregateType,
		EventType:      eventType,
		Version:        s.version + 1,
		Timestamp:      eventsourcing.Now(),
		Payload:        data,
		PayloadVersion: 1,
		Metadata:       eventsourcing.EventMetadata{CorrelationID: s.id},
	}
	s.uncommitted = append(s.uncommitted, event)
	if err := s.ApplyEvent(event); err != nil {
		s.uncommitted = s.uncommitted[:len(s.uncommitted)-1]
		return err
	}
	return nil
}

// ApplyEvent folds one log event into the instance.
func (s *Instance) ApplyEvent(event *eventsourcing.Event) error {
	if event.Version != s.version+1 {
		return fmt.Errorf("%w: saga event version %d does not follow %d",
			eventsourcing.ErrInvalidEvent, event.Version, s.version)
	}

	switch event.EventType {
	case EventStarted:
		var payload StartedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		s.sagaType = payload.SagaType
		s.Data = payload.Data
		s.Deadline = payload.Deadline
		s.Status = StatusStarted

	case EventStepCompleted:
		var payload StepCompletedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		if payload.Compensation {
			s.CompensatedSteps = append(s.CompensatedSteps, payload.Step)
		} else {
			s.Completed = append(s.Completed, payload.Step)
			s.Status = StatusRunning
		}

	case EventCompensationStarted:
		var payload CompensationStartedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		s.Status = StatusCompensating
		s.FailedStep = payload.Step
		s.FailureReason = payload.Reason

	case EventCompensated:
		s.Status = StatusCompensated

	case EventCompleted:
		s.Status = StatusCompleted

	case EventFailed:
		var payload FailedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		s.Status = StatusFailed
		s.FailureReason = payload.Reason

	default:
		return eventsourcing.Fatal(fmt.Errorf("unknown saga event type %q", event.EventType))
	}

	s.version = event.Version
	return nil
}
