package saga

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// CommandBuilder produces the command for a step from the saga's state.
// Builders must be deterministic: a redispatched step has to carry the same
// command ID so downstream idempotency caches and gateways collapse retries.
type CommandBuilder func(inst *Instance) (eventsourcing.Command, error)

// Step is one phase of a saga definition.
type Step struct {
	// Name identifies the step in the saga's log.
	Name string

	// Command builds the forward command.
	Command CommandBuilder

	// Compensation builds the undo command. Nil means the step needs no
	// rollback and is skipped during compensation.
	Compensation CommandBuilder

	// SucceedsOn lists event types whose appearance completes the step.
	SucceedsOn []string

	// FailsOn lists event types that mean the step was refused by the
	// domain. Seeing one triggers compensation instead of a retry.
	FailsOn []string
}

// Definition is a saga type: an ordered list of steps plus a deadline.
type Definition struct {
	// Type names the saga, e.g. "order-fulfilment".
	Type string

	// Steps run in order; compensation runs completed steps in reverse.
	Steps []Step

	// Timeout bounds the saga end to end. Zero means the coordinator's
	// default applies.
	Timeout time.Duration

	// TriggeredBy names the domain event type that opens a saga of this
	// type when it arrives on the pull subscription. Empty means sagas of
	// this type start only through StartSaga.
	TriggeredBy string

	// TriggerData extracts the saga's initial data from the triggering
	// event. Nil starts the saga with no data.
	TriggerData func(event *eventsourcing.Event) (json.RawMessage, error)
}

// Step returns the step at the given position.
func (d *Definition) Step(position int) (Step, error) {
	if position < 0 || position >= len(d.Steps) {
		return Step{}, fmt.Errorf("saga %s has no step at position %d", d.Type, position)
	}
	return d.Steps[position], nil
}

// StepNamed returns the step with the given name.
func (d *Definition) StepNamed(name string) (Step, error) {
	for _, step := range d.Steps {
		if step.Name == name {
			return step, nil
		}
	}
	return Step{}, fmt.Errorf("saga %s has no step named %q", d.Type, name)
}

// Done reports whether the position is past the last step.
func (d *Definition) Done(position int) bool {
	return position >= len(d.Steps)
}

func (d *Definition) validate() error {
	if d.Type == "" {
		return fmt.Errorf("saga definition needs a type")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("saga %s has no steps", d.Type)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("saga %s step %d has no name", d.Type, i)
		}
		if seen[step.Name] {
			return fmt.Errorf("saga %s declares step %q twice", d.Type, step.Name)
		}
		seen[step.Name] = true
		if step.Command == nil {
			return fmt.Errorf("saga %s step %q has no command", d.Type, step.Name)
		}
	}
	return nil
}
