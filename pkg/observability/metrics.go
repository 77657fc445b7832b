package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// Metrics holds the metric instruments for the command, event and read sides.
type Metrics struct {
	// Command metrics
	CommandDuration metric.Float64Histogram
	CommandTotal    metric.Int64Counter
	CommandErrors   metric.Int64Counter

	// Event store metrics
	AppendDuration   metric.Float64Histogram
	EventsAppended   metric.Int64Counter
	EventsPublished  metric.Int64Counter
	VersionConflicts metric.Int64Counter

	// Resilience metrics
	RetryAttempts      metric.Int64Counter
	BreakerTransitions metric.Int64Counter

	// Saga metrics
	SagasStarted  metric.Int64Counter
	SagasFinished metric.Int64Counter

	// Projection metrics
	ProjectionLag           metric.Int64Gauge
	ProjectionBatchDuration metric.Float64Histogram
	ProjectionEvents        metric.Int64Counter
	ProjectionErrors        metric.Int64Counter
}

// NewMetrics creates all metric instruments
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// Command metrics
	m.CommandDuration, err = meter.Float64Histogram(
		"shopstream.command.duration",
		metric.WithDescription("Command execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.duration: %w", err)
	}

	m.CommandTotal, err = meter.Int64Counter(
		"shopstream.command.total",
		metric.WithDescription("Total commands dispatched"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.total: %w", err)
	}

	m.CommandErrors, err = meter.Int64Counter(
		"shopstream.command.errors",
		metric.WithDescription("Total command errors by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.errors: %w", err)
	}

	// Event store metrics
	m.AppendDuration, err = meter.Float64Histogram(
		"shopstream.eventstore.append.duration",
		metric.WithDescription("Event store append duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating eventstore.append.duration: %w", err)
	}

	m.EventsAppended, err = meter.Int64Counter(
		"shopstream.events.appended",
		metric.WithDescription("Total events committed to the event store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	m.EventsPublished, err = meter.Int64Counter(
		"shopstream.events.published",
		metric.WithDescription("Total events handed to the event bus after commit"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.published: %w", err)
	}

	m.VersionConflicts, err = meter.Int64Counter(
		"shopstream.eventstore.version_conflicts",
		metric.WithDescription("Appends rejected by optimistic concurrency"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating eventstore.version_conflicts: %w", err)
	}

	// Resilience metrics
	m.RetryAttempts, err = meter.Int64Counter(
		"shopstream.retry.attempts",
		metric.WithDescription("Retry attempts after transient failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating retry.attempts: %w", err)
	}

	m.BreakerTransitions, err = meter.Int64Counter(
		"shopstream.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating breaker.transitions: %w", err)
	}

	// Saga metrics
	m.SagasStarted, err = meter.Int64Counter(
		"shopstream.saga.started",
		metric.WithDescription("Sagas started"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating saga.started: %w", err)
	}

	m.SagasFinished, err = meter.Int64Counter(
		"shopstream.saga.finished",
		metric.WithDescription("Sagas finished by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating saga.finished: %w", err)
	}

	// Projection metrics
	m.ProjectionLag, err = meter.Int64Gauge(
		"shopstream.projection.lag",
		metric.WithDescription("Events between a projection checkpoint and the store head"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.lag: %w", err)
	}

	m.ProjectionBatchDuration, err = meter.Float64Histogram(
		"shopstream.projection.batch.duration",
		metric.WithDescription("Projection batch processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.batch.duration: %w", err)
	}

	m.ProjectionEvents, err = meter.Int64Counter(
		"shopstream.projection.events",
		metric.WithDescription("Events processed by projections, filtered events included"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.events: %w", err)
	}

	m.ProjectionErrors, err = meter.Int64Counter(
		"shopstream.projection.errors",
		metric.WithDescription("Projection processing errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.errors: %w", err)
	}

	return m, nil
}

// errorKind buckets an error for the command.errors counter.
func errorKind(err error) string {
	switch {
	case eventsourcing.IsValidation(err):
		return "validation"
	case eventsourcing.IsDomainViolation(err):
		return "domain"
	case eventsourcing.IsVersionConflict(err):
		return "version_conflict"
	case eventsourcing.IsFatal(err):
		return "fatal"
	case eventsourcing.IsTransient(err):
		return "transient"
	default:
		return "other"
	}
}

// RecordCommand records dispatch metrics for one command.
func (m *Metrics) RecordCommand(ctx context.Context, commandType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("command_type", commandType),
	}

	m.CommandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.CommandTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil {
		errorAttrs := append(attrs, attribute.String("error_kind", errorKind(err)))
		m.CommandErrors.Add(ctx, 1, metric.WithAttributes(errorAttrs...))
	}
}

// RecordAppend records an event store append. Conflicted appends count
// toward version_conflicts, not events.appended.
func (m *Metrics) RecordAppend(ctx context.Context, aggregateType string, duration time.Duration, eventCount int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("aggregate_type", aggregateType),
	}

	m.AppendDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	switch {
	case err == nil:
		m.EventsAppended.Add(ctx, int64(eventCount), metric.WithAttributes(attrs...))
	case eventsourcing.IsVersionConflict(err):
		m.VersionConflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordPublished records events handed to the bus after commit.
func (m *Metrics) RecordPublished(ctx context.Context, eventCount int) {
	m.EventsPublished.Add(ctx, int64(eventCount))
}

// RecordRetry records one retry attempt against a named endpoint.
func (m *Metrics) RecordRetry(ctx context.Context, endpoint string, attempt int) {
	m.RetryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Int("attempt", attempt),
	))
}

// RecordBreakerTransition records a circuit breaker state change. It has
// the resilience.StateChangeHook shape once states are stringified.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordSagaStarted records a new saga instance.
func (m *Metrics) RecordSagaStarted(ctx context.Context, sagaType string) {
	m.SagasStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("saga_type", sagaType),
	))
}

// RecordSagaFinished records a saga reaching a terminal status.
func (m *Metrics) RecordSagaFinished(ctx context.Context, sagaType, outcome string) {
	m.SagasFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("saga_type", sagaType),
		attribute.String("outcome", outcome),
	))
}

// RecordProjectionBatch records one committed or failed projection batch.
func (m *Metrics) RecordProjectionBatch(ctx context.Context, projectionName string, duration time.Duration, eventCount int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("projection", projectionName),
	}

	m.ProjectionBatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if err != nil {
		m.ProjectionErrors.Add(ctx, 1, metric.WithAttributes(append(attrs,
			attribute.String("error_kind", errorKind(err)))...))
		return
	}

	m.ProjectionEvents.Add(ctx, int64(eventCount), metric.WithAttributes(attrs...))
}

// RecordProjectionLag records how many events a projection is behind the
// store head.
func (m *Metrics) RecordProjectionLag(ctx context.Context, projectionName string, eventsBehind int64) {
	m.ProjectionLag.Record(ctx, eventsBehind, metric.WithAttributes(
		attribute.String("projection", projectionName),
	))
}
