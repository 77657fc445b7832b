package saga

import (
	"encoding/json"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// AggregateType is the aggregate type stamped on saga log events.
const AggregateType = "Saga"

// Event types recorded in a saga's own stream. The log is the saga's only
// durable state: replaying it alone reconstructs the instance.
const (
	EventStarted             = "SagaStarted"
	EventStepCompleted       = "SagaStepCompleted"
	EventFailed              = "SagaFailed"
	EventCompensationStarted = "SagaCompensationStarted"
	EventCompensated         = "SagaCompensated"
	EventCompleted           = "SagaCompleted"
)

// StartedPayload opens the log with everything a resume needs.
type StartedPayload struct {
	SagaID   string          `json:"saga_id"`
	SagaType string          `json:"saga_type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Deadline time.Time       `json:"deadline"`
}

// StepCompletedPayload records one finished step. Compensation marks the
// completion of a compensating step during rollback.
type StepCompletedPayload struct {
	SagaID       string `json:"saga_id"`
	Step         string `json:"step"`
	Compensation bool   `json:"compensation,omitempty"`
}

// CompensationStartedPayload records the switch to rollback.
type CompensationStartedPayload struct {
	SagaID string `json:"saga_id"`
	Step   string `json:"step,omitempty"`
	Reason string `json:"reason"`
}

// CompensatedPayload closes the log after a full rollback.
type CompensatedPayload struct {
	SagaID string `json:"saga_id"`
}

// CompletedPayload closes the log after all steps succeeded.
type CompletedPayload struct {
	SagaID string `json:"saga_id"`
}

// FailedPayload closes the log when a compensation could not be carried out.
// Failed sagas need operator attention.
type FailedPayload struct {
	SagaID string `json:"saga_id"`
	Step   string `json:"step,omitempty"`
	Reason string `json:"reason"`
}

// RegisterEvents registers the saga log payloads.
func RegisterEvents(registry *eventsourcing.EventRegistry) {
	registry.Register(EventStarted, 1, func() any { return &StartedPayload{} })
	registry.Register(EventStepCompleted, 1, func() any { return &StepCompletedPayload{} })
	registry.Register(EventFailed, 1, func() any { return &FailedPayload{} })
	registry.Register(EventCompensationStarted, 1, func() any { return &CompensationStartedPayload{} })
	registry.Register(EventCompensated, 1, func() any { return &CompensatedPayload{} })
	registry.Register(EventCompleted, 1, func() any { return &CompletedPayload{} })
}
