// Package saga orchestrates long-running workflows over the command bus.
// Each saga instance records its transitions into its own event stream, so
// a crashed coordinator re-enters every open saga from the log alone.
//
// A step's outcome is read off the dispatch result: nil error with no
// declared failure event is success (including zero events, which means the
// step was already done), a failure event or a domain violation starts
// compensation, and any other dispatch error is treated as the step failing
// after the resilient client gave up. Compensation walks completed steps in
// reverse and retries transient failures from the timeout ticker.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corefold/shopstream/pkg/eventsourcing"
	"github.com/corefold/shopstream/pkg/runner"
	"github.com/corefold/shopstream/pkg/store"
)

const checkpointName = "saga-coordinator"

// Dispatcher sends saga commands into the write side. The command bus
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *eventsourcing.CommandEnvelope) (*eventsourcing.CommandResult, error)
}

// Observer receives saga lifecycle measurements. observability.Metrics
// satisfies it.
type Observer interface {
	RecordSagaStarted(ctx context.Context, sagaType string)
	RecordSagaFinished(ctx context.Context, sagaType, outcome string)
}

// execution is one open saga's in-memory handle. Its mutex serializes all
// transitions for that saga; different sagas progress independently.
type execution struct {
	mu   sync.Mutex
	inst *Instance
}

// Coordinator drives saga instances: it starts them, advances them on
// dispatch results and pulled events, compensates on failure, and sweeps
// deadlines. It implements runner.Service; the run loop pulls committed
// events from the store behind a checkpoint.
type Coordinator struct {
	store       eventsourcing.EventStore
	checkpoints store.CheckpointStore
	dispatcher  Dispatcher
	logger      *slog.Logger
	observer    Observer

	defaultTimeout time.Duration
	pollInterval   time.Duration
	batchSize      int

	mu     sync.Mutex
	defs   map[string]*Definition
	active map[string]*execution

	// processed suppresses duplicate event deliveries, bounded so a
	// long-lived coordinator does not grow without limit.
	processed *lru.Cache[string, struct{}]

	cancel context.CancelFunc
	done   chan struct{}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithDefaultTimeout sets the deadline applied to sagas whose definition
// declares no timeout. Defaults to 30 seconds.
func WithDefaultTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.defaultTimeout = timeout
	}
}

// WithPollInterval sets how often the run loop pulls events and sweeps
// deadlines. Defaults to 1 second.
func WithPollInterval(interval time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.pollInterval = interval
	}
}

// WithBatchSize sets the pull batch size. Defaults to 256.
func WithBatchSize(size int) CoordinatorOption {
	return func(c *Coordinator) {
		c.batchSize = size
	}
}

// WithObserver sets the metrics observer. Without one the coordinator
// only logs.
func WithObserver(observer Observer) CoordinatorOption {
	return func(c *Coordinator) {
		c.observer = observer
	}
}

// WithDedupSize bounds the processed event id set. Defaults to 4096.
func WithDedupSize(size int) CoordinatorOption {
	return func(c *Coordinator) {
		if cache, err := lru.New[string, struct{}](size); err == nil {
			c.processed = cache
		}
	}
}

// NewCoordinator creates a coordinator. Definitions must be registered
// before Start.
func NewCoordinator(eventStore eventsourcing.EventStore, checkpoints store.CheckpointStore, dispatcher Dispatcher, opts ...CoordinatorOption) *Coordinator {
	processed, _ := lru.New[string, struct{}](4096)
	c := &Coordinator{
		store:          eventStore,
		checkpoints:    checkpoints,
		dispatcher:     dispatcher,
		logger:         slog.Default(),
		defaultTimeout: 30 * time.Second,
		pollInterval:   time.Second,
		batchSize:      256,
		defs:           make(map[string]*Definition),
		active:         make(map[string]*execution),
		processed:      processed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a saga definition.
func (c *Coordinator) Register(def *Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[def.Type]; exists {
		return fmt.Errorf("saga type %s already registered", def.Type)
	}
	c.defs[def.Type] = def
	return nil
}

// StartSaga opens a new saga of the given type and drives it as far as the
// dispatch results allow before returning. The saga id is returned as soon
// as the opening transition is durable; later failures are retried by the
// run loop.
func (c *Coordinator) StartSaga(ctx context.Context, sagaType string, data json.RawMessage) (string, error) {
	def, ok := c.definition(sagaType)
	if !ok {
		return "", fmt.Errorf("unknown saga type %s", sagaType)
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	id := uuid.NewString()
	inst, err := Start(id, sagaType, data, eventsourcing.Now().Add(timeout))
	if err != nil {
		return "", err
	}
	if err := c.save(ctx, inst); err != nil {
		return "", err
	}

	c.logger.InfoContext(ctx, "Saga started",
		slog.String("saga_id", id),
		slog.String("saga_type", sagaType),
	)
	c.observeStarted(ctx, sagaType)

	rt := c.track(inst)
	rt.mu.Lock()
	c.advance(ctx, rt)
	rt.mu.Unlock()

	return id, nil
}

// TriggeredSagaID derives the saga id a triggering event opens. Deriving it
// from the event id makes redelivered triggers collide on the saga's stream
// instead of opening a second saga.
func TriggeredSagaID(event *eventsourcing.Event) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("saga-trigger:"+event.ID)).String()
}

func (c *Coordinator) trigger(eventType string) (*Definition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, def := range c.defs {
		if def.TriggeredBy != "" && def.TriggeredBy == eventType {
			return def, true
		}
	}
	return nil, false
}

// startTriggered opens the saga a pulled event triggers. A version conflict
// on the opening append means an earlier delivery already opened it.
func (c *Coordinator) startTriggered(ctx context.Context, def *Definition, event *eventsourcing.Event) error {
	id := TriggeredSagaID(event)
	if c.lookup(id) != nil {
		return nil
	}

	var data json.RawMessage
	if def.TriggerData != nil {
		var err error
		data, err = def.TriggerData(event)
		if err != nil {
			return fmt.Errorf("extracting %s trigger data from %s: %w", def.Type, event.EventType, err)
		}
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	inst, err := Start(id, def.Type, data, eventsourcing.Now().Add(timeout))
	if err != nil {
		return err
	}
	if err := c.save(ctx, inst); err != nil {
		if eventsourcing.IsVersionConflict(err) {
			return nil
		}
		return err
	}

	c.logger.InfoContext(ctx, "Saga started",
		slog.String("saga_id", id),
		slog.String("saga_type", def.Type),
		slog.String("trigger_event", event.EventType),
	)
	c.observeStarted(ctx, def.Type)

	rt := c.track(inst)
	rt.mu.Lock()
	c.advance(ctx, rt)
	rt.mu.Unlock()
	return nil
}

// HandleEvent feeds one committed event to the coordinator. It is the pull
// subscription entry point: events arrive in global sequence order from the
// run loop, and duplicates are suppressed by id.
func (c *Coordinator) HandleEvent(ctx context.Context, event *eventsourcing.Event) error {
	if event.AggregateType == AggregateType {
		return nil
	}
	if def, ok := c.trigger(event.EventType); ok {
		if err := c.startTriggered(ctx, def, event); err != nil {
			return err
		}
	}
	sagaID := event.Metadata.CorrelationID
	if sagaID == "" {
		return nil
	}
	rt := c.lookup(sagaID)
	if rt == nil {
		return nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if c.processed.Contains(event.ID) {
		return nil
	}
	c.processed.Add(event.ID, struct{}{})

	if rt.inst.Status != StatusStarted && rt.inst.Status != StatusRunning {
		return nil
	}
	def, ok := c.definition(rt.inst.Type())
	if !ok || def.Done(rt.inst.Position()) {
		return nil
	}
	step, err := def.Step(rt.inst.Position())
	if err != nil {
		return nil
	}

	switch {
	case containsType(step.SucceedsOn, event.EventType):
		if err := rt.inst.MarkStepCompleted(step.Name); err != nil {
			return err
		}
		if err := c.save(ctx, rt.inst); err != nil {
			return err
		}
		c.advance(ctx, rt)
	case containsType(step.FailsOn, event.EventType):
		c.beginCompensation(ctx, rt, step.Name, event.EventType)
	}
	return nil
}

// ResumeAll reloads every non-terminal saga from its log and re-enters it.
// Redispatching the pending step is safe: step command ids are deterministic,
// so the bus replays the cached result instead of re-executing.
func (c *Coordinator) ResumeAll(ctx context.Context) error {
	var from int64
	for {
		batch, err := c.store.ReadByType(ctx, EventStarted, from, c.batchSize)
		if err != nil {
			return fmt.Errorf("reading saga starts: %w", err)
		}
		for _, event := range batch {
			from = event.GlobalSequence
			if err := c.resume(ctx, event.AggregateID); err != nil {
				return err
			}
		}
		if len(batch) < c.batchSize {
			return nil
		}
	}
}

func (c *Coordinator) resume(ctx context.Context, sagaID string) error {
	if c.lookup(sagaID) != nil {
		return nil
	}
	inst, err := Load(ctx, c.store, sagaID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return nil
	}
	if _, ok := c.definition(inst.Type()); !ok {
		c.logger.WarnContext(ctx, "Open saga has no registered definition",
			slog.String("saga_id", sagaID),
			slog.String("saga_type", inst.Type()),
		)
		return nil
	}

	c.logger.InfoContext(ctx, "Resuming saga",
		slog.String("saga_id", sagaID),
		slog.String("saga_type", inst.Type()),
		slog.String("status", string(inst.Status)),
		slog.Int("position", inst.Position()),
	)

	rt := c.track(inst)
	rt.mu.Lock()
	if rt.inst.Status == StatusCompensating {
		c.compensate(ctx, rt)
	} else {
		c.advance(ctx, rt)
	}
	rt.mu.Unlock()
	return nil
}

// Instance loads a saga's current state fresh from the store.
func (c *Coordinator) Instance(ctx context.Context, sagaID string) (*Instance, error) {
	return Load(ctx, c.store, sagaID)
}

// ActiveCount returns the number of open sagas the coordinator is tracking.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// advance drives the saga forward until it completes, fails over to
// compensation, or a save error leaves it for the run loop to reconcile.
// The caller holds rt.mu.
func (c *Coordinator) advance(ctx context.Context, rt *execution) {
	for rt.inst.Status == StatusStarted || rt.inst.Status == StatusRunning {
		def, ok := c.definition(rt.inst.Type())
		if !ok {
			return
		}
		if rt.inst.Expired(eventsourcing.Now()) && !def.Done(rt.inst.Position()) {
			step := ""
			if s, err := def.Step(rt.inst.Position()); err == nil {
				step = s.Name
			}
			c.beginCompensation(ctx, rt, step, "timeout")
			return
		}
		if def.Done(rt.inst.Position()) {
			if err := rt.inst.MarkCompleted(); err != nil {
				c.logger.ErrorContext(ctx, "Saga completion rejected", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
				return
			}
			if err := c.save(ctx, rt.inst); err != nil {
				c.logger.ErrorContext(ctx, "Saga save failed", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
				return
			}
			c.logger.InfoContext(ctx, "Saga completed", slog.String("saga_id", rt.inst.ID()))
			c.observeFinished(ctx, rt.inst.Type(), string(StatusCompleted))
			c.retire(rt.inst.ID())
			return
		}

		step, err := def.Step(rt.inst.Position())
		if err != nil {
			return
		}
		cmd, err := step.Command(rt.inst)
		if err != nil {
			c.beginCompensation(ctx, rt, step.Name, err.Error())
			return
		}

		result, err := c.dispatch(ctx, rt.inst, cmd)
		if err != nil {
			reason := err.Error()
			if code := eventsourcing.DomainErrorCode(err); code != "" {
				reason = code
			}
			c.beginCompensation(ctx, rt, step.Name, reason)
			return
		}

		c.markProcessed(result.Events)
		if failure := firstMatch(result.Events, step.FailsOn); failure != "" {
			c.beginCompensation(ctx, rt, step.Name, failure)
			return
		}

		if err := rt.inst.MarkStepCompleted(step.Name); err != nil {
			c.logger.ErrorContext(ctx, "Saga step transition rejected", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
			return
		}
		if err := c.save(ctx, rt.inst); err != nil {
			c.logger.ErrorContext(ctx, "Saga save failed", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
			return
		}
		c.logger.DebugContext(ctx, "Saga step completed",
			slog.String("saga_id", rt.inst.ID()),
			slog.String("step", step.Name),
		)
	}
}

// beginCompensation flips the saga to compensating and starts the rollback.
// The caller holds rt.mu.
func (c *Coordinator) beginCompensation(ctx context.Context, rt *execution, step, reason string) {
	c.logger.WarnContext(ctx, "Saga step failed, compensating",
		slog.String("saga_id", rt.inst.ID()),
		slog.String("step", step),
		slog.String("reason", reason),
	)
	if err := rt.inst.MarkCompensationStarted(step, reason); err != nil {
		c.logger.ErrorContext(ctx, "Saga compensation transition rejected", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
		return
	}
	if err := c.save(ctx, rt.inst); err != nil {
		c.logger.ErrorContext(ctx, "Saga save failed", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
		return
	}
	c.compensate(ctx, rt)
}

// compensate undoes completed steps in reverse. Transient dispatch failures
// leave the saga compensating for the run loop to retry; domain or fatal
// failures close it as failed. The caller holds rt.mu.
func (c *Coordinator) compensate(ctx context.Context, rt *execution) {
	for rt.inst.Status == StatusCompensating {
		step, ok := c.nextCompensation(rt.inst)
		if !ok {
			if err := rt.inst.MarkCompensated(); err != nil {
				c.logger.ErrorContext(ctx, "Saga compensation close rejected", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
				return
			}
			if err := c.save(ctx, rt.inst); err != nil {
				c.logger.ErrorContext(ctx, "Saga save failed", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
				return
			}
			c.logger.InfoContext(ctx, "Saga compensated", slog.String("saga_id", rt.inst.ID()))
			c.observeFinished(ctx, rt.inst.Type(), string(StatusCompensated))
			c.retire(rt.inst.ID())
			return
		}

		cmd, err := step.Compensation(rt.inst)
		if err != nil {
			c.fail(ctx, rt, step.Name, err.Error())
			return
		}

		result, err := c.dispatch(ctx, rt.inst, cmd)
		switch {
		case err == nil:
			c.markProcessed(result.Events)
			if err := rt.inst.MarkCompensationStep(step.Name); err != nil {
				c.logger.ErrorContext(ctx, "Saga compensation transition rejected", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
				return
			}
			if err := c.save(ctx, rt.inst); err != nil {
				c.logger.ErrorContext(ctx, "Saga save failed", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
				return
			}
			c.logger.DebugContext(ctx, "Saga compensation step completed",
				slog.String("saga_id", rt.inst.ID()),
				slog.String("step", step.Name),
			)
		case eventsourcing.IsDomainViolation(err) || eventsourcing.IsFatal(err):
			c.fail(ctx, rt, step.Name, err.Error())
			return
		default:
			c.logger.WarnContext(ctx, "Saga compensation dispatch failed, will retry",
				slog.String("saga_id", rt.inst.ID()),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// fail closes the saga when rollback cannot proceed. The caller holds rt.mu.
func (c *Coordinator) fail(ctx context.Context, rt *execution, step, reason string) {
	c.logger.ErrorContext(ctx, "Saga failed",
		slog.String("saga_id", rt.inst.ID()),
		slog.String("step", step),
		slog.String("reason", reason),
	)
	if err := rt.inst.MarkFailed(step, reason); err != nil {
		c.logger.ErrorContext(ctx, "Saga failure transition rejected", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
		return
	}
	if err := c.save(ctx, rt.inst); err != nil {
		c.logger.ErrorContext(ctx, "Saga save failed", slog.String("saga_id", rt.inst.ID()), slog.String("error", err.Error()))
		return
	}
	c.observeFinished(ctx, rt.inst.Type(), string(StatusFailed))
	c.retire(rt.inst.ID())
}

// nextCompensation returns the deepest completed step that still needs
// undoing. Steps without a compensation builder are skipped.
func (c *Coordinator) nextCompensation(inst *Instance) (Step, bool) {
	def, ok := c.definition(inst.Type())
	if !ok {
		return Step{}, false
	}
	undone := make(map[string]bool, len(inst.CompensatedSteps))
	for _, name := range inst.CompensatedSteps {
		undone[name] = true
	}
	for i := len(inst.Completed) - 1; i >= 0; i-- {
		name := inst.Completed[i]
		if undone[name] {
			continue
		}
		step, err := def.StepNamed(name)
		if err != nil || step.Compensation == nil {
			continue
		}
		return step, true
	}
	return Step{}, false
}

func (c *Coordinator) dispatch(ctx context.Context, inst *Instance, cmd eventsourcing.Command) (*eventsourcing.CommandResult, error) {
	env := eventsourcing.NewEnvelope(cmd)
	env.Metadata.CorrelationID = inst.ID()
	env.Metadata.IdempotencyKey = cmd.CommandID()
	env.Metadata.Actor = "saga:" + inst.Type()
	return c.dispatcher.Dispatch(ctx, env)
}

func (c *Coordinator) save(ctx context.Context, inst *Instance) error {
	events := inst.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}
	expected := inst.Version() - int64(len(events))
	if _, err := c.store.AppendToStream(ctx, eventsourcing.SagaStreamID(inst.ID()), expected, events); err != nil {
		return fmt.Errorf("appending saga log: %w", err)
	}
	inst.ClearUncommittedEvents()
	return nil
}

func (c *Coordinator) observeStarted(ctx context.Context, sagaType string) {
	if c.observer != nil {
		c.observer.RecordSagaStarted(ctx, sagaType)
	}
}

func (c *Coordinator) observeFinished(ctx context.Context, sagaType, outcome string) {
	if c.observer != nil {
		c.observer.RecordSagaFinished(ctx, sagaType, outcome)
	}
}

func (c *Coordinator) markProcessed(events []*eventsourcing.Event) {
	for _, event := range events {
		c.processed.Add(event.ID, struct{}{})
	}
}

func (c *Coordinator) definition(sagaType string) (*Definition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.defs[sagaType]
	return def, ok
}

func (c *Coordinator) track(inst *Instance) *execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt := &execution{inst: inst}
	c.active[inst.ID()] = rt
	return rt
}

func (c *Coordinator) lookup(sagaID string) *execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[sagaID]
}

func (c *Coordinator) retire(sagaID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, sagaID)
}

// Name implements runner.Service.
func (c *Coordinator) Name() string {
	return "saga-coordinator"
}

// Start resumes open sagas and launches the run loop.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.ResumeAll(ctx); err != nil {
		return fmt.Errorf("resuming sagas: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx)

	c.logger.InfoContext(ctx, "Saga coordinator started",
		slog.Duration("poll_interval", c.pollInterval),
		slog.Int("active", c.ActiveCount()),
	)
	return nil
}

// Stop halts the run loop. Open sagas stay in the store and resume on the
// next Start.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.logger.InfoContext(ctx, "Saga coordinator stopped")
	return nil
}

// run pulls committed events behind a checkpoint and sweeps deadlines.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.pullOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.ErrorContext(ctx, "Saga event pull failed", slog.String("error", err.Error()))
			}
			c.sweep(ctx)
		}
	}
}

// pullOnce drains committed events since the checkpoint through HandleEvent.
func (c *Coordinator) pullOnce(ctx context.Context) error {
	var position int64
	checkpoint, err := c.checkpoints.Load(ctx, checkpointName)
	switch {
	case err == nil:
		position = checkpoint.Position
	case errors.Is(err, store.ErrCheckpointNotFound):
	default:
		return fmt.Errorf("loading saga checkpoint: %w", err)
	}

	for {
		batch, err := c.store.ReadAllFrom(ctx, position, c.batchSize)
		if err != nil {
			return fmt.Errorf("reading events: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		var lastID string
		for _, event := range batch {
			if err := c.HandleEvent(ctx, event); err != nil {
				return err
			}
			position = event.GlobalSequence
			lastID = event.ID
		}

		if err := c.checkpoints.Save(ctx, &store.ProjectionCheckpoint{
			ProjectionName: checkpointName,
			Position:       position,
			LastEventID:    lastID,
			UpdatedAt:      eventsourcing.Now(),
		}); err != nil {
			return fmt.Errorf("saving saga checkpoint: %w", err)
		}
		if len(batch) < c.batchSize {
			return nil
		}
	}
}

// sweep expires overdue sagas and retries stalled compensations.
func (c *Coordinator) sweep(ctx context.Context) {
	now := eventsourcing.Now()
	for _, rt := range c.snapshot() {
		rt.mu.Lock()
		switch rt.inst.Status {
		case StatusStarted, StatusRunning:
			if rt.inst.Expired(now) {
				c.advance(ctx, rt)
			}
		case StatusCompensating:
			c.compensate(ctx, rt)
		}
		rt.mu.Unlock()
	}
}

func (c *Coordinator) snapshot() []*execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := make([]*execution, 0, len(c.active))
	for _, rt := range c.active {
		all = append(all, rt)
	}
	return all
}

func containsType(types []string, eventType string) bool {
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}

// firstMatch returns the first event type in events that appears in types.
func firstMatch(events []*eventsourcing.Event, types []string) string {
	for _, event := range events {
		if containsType(types, event.EventType) {
			return event.EventType
		}
	}
	return ""
}

var _ runner.Service = (*Coordinator)(nil)
