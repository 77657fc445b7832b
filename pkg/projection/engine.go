// Package projection feeds read models from the committed event sequence.
//
// The engine pulls events behind a per-projection checkpoint and applies
// each batch in one transaction together with the checkpoint advance, so a
// crash replays from the last committed batch instead of losing or doubling
// work. Projections are plain SQL appliers over the read model database;
// the built-in views cover products, the category tree, and orders.
package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
	"github.com/corefold/shopstream/pkg/runner"
	"github.com/corefold/shopstream/pkg/store"
)

// Projection is a read model fed from the global event sequence.
//
// Apply runs inside the engine's batch transaction; the checkpoint advance
// commits with it. Apply must be idempotent per event so a replayed batch
// converges on the same rows. Reset clears the projection's tables inside
// the given transaction; the engine deletes the checkpoint alongside.
type Projection interface {
	// Name identifies the projection; it keys the checkpoint and status rows.
	Name() string

	// Filter selects the events this projection consumes. Events outside
	// the filter still advance the checkpoint.
	Filter() eventsourcing.EventFilter

	// Apply folds one committed event into the read model.
	Apply(ctx context.Context, tx *sql.Tx, event *eventsourcing.Event) error

	// Reset clears the projection's tables for a rebuild.
	Reset(ctx context.Context, tx *sql.Tx) error
}

// EventSource is the slice of the event store the engine reads.
type EventSource interface {
	// ReadAllFrom reads committed events with global_sequence > fromSequence.
	ReadAllFrom(ctx context.Context, fromSequence int64, limit int) ([]*eventsourcing.Event, error)

	// HeadSequence returns the highest committed global sequence, 0 if empty.
	HeadSequence(ctx context.Context) (int64, error)
}

// Observer receives engine measurements: one call per batch, one lag
// reading per catch-up. observability.Metrics satisfies it.
type Observer interface {
	RecordProjectionBatch(ctx context.Context, projectionName string, duration time.Duration, eventCount int, err error)
	RecordProjectionLag(ctx context.Context, projectionName string, eventsBehind int64)
}

// registration is one projection's engine-side state. Its mutex serializes
// catch-up and reset for that projection; different projections progress
// independently.
type registration struct {
	mu         sync.Mutex
	projection Projection
	batchSize  int

	// failed marks a fatal condition; the projection is skipped until an
	// explicit Reset clears it.
	failed bool
	state  store.ProjectionStatus
	lag    int64
}

// Engine drives registered projections from the event store. It implements
// runner.Service; the run loop catches every projection up to the store head
// once per poll interval.
type Engine struct {
	source      EventSource
	db          *sql.DB
	checkpoints store.CheckpointStore
	status      store.ProjectionStatusStore
	logger      *slog.Logger
	observer    Observer

	pollInterval time.Duration
	batchSize    int

	mu          sync.Mutex
	projections []*registration

	cancel context.CancelFunc
	done   chan struct{}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithPollInterval sets how often the run loop catches projections up.
// Defaults to 1 second.
func WithPollInterval(interval time.Duration) EngineOption {
	return func(e *Engine) {
		e.pollInterval = interval
	}
}

// WithObserver sets the metrics observer. Without one the engine only logs.
func WithObserver(observer Observer) EngineOption {
	return func(e *Engine) {
		e.observer = observer
	}
}

// WithDefaultBatchSize sets the batch size for projections registered
// without their own. Defaults to 256.
func WithDefaultBatchSize(size int) EngineOption {
	return func(e *Engine) {
		if size > 0 {
			e.batchSize = size
		}
	}
}

// RegisterOption configures one projection registration.
type RegisterOption func(*registration)

// WithBatchSize bounds per-transaction work for this projection.
func WithBatchSize(size int) RegisterOption {
	return func(r *registration) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// NewEngine creates a projection engine. The checkpoint store must live in
// the same database as the read model tables so the checkpoint advance
// commits atomically with each applied batch.
func NewEngine(source EventSource, db *sql.DB, checkpoints store.CheckpointStore, status store.ProjectionStatusStore, opts ...EngineOption) *Engine {
	e := &Engine{
		source:       source,
		db:           db,
		checkpoints:  checkpoints,
		status:       status,
		logger:       slog.Default(),
		pollInterval: time.Second,
		batchSize:    256,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a projection. Registration order is catch-up order.
func (e *Engine) Register(p Projection, opts ...RegisterOption) error {
	if p.Name() == "" {
		return fmt.Errorf("projection has no name")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, reg := range e.projections {
		if reg.projection.Name() == p.Name() {
			return fmt.Errorf("projection %s already registered", p.Name())
		}
	}

	reg := &registration{
		projection: p,
		batchSize:  e.batchSize,
		state:      store.ProjectionStatusReady,
	}
	for _, opt := range opts {
		opt(reg)
	}
	e.projections = append(e.projections, reg)
	return nil
}

// CatchUp runs one full cycle: every registered projection is driven to the
// store head. Projections that error are skipped for the rest of the cycle;
// the first error is returned after every projection had its turn.
func (e *Engine) CatchUp(ctx context.Context) error {
	var firstErr error
	for _, reg := range e.snapshot() {
		if err := e.catchUpOne(ctx, reg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// catchUpOne drives one projection from its checkpoint to the store head,
// one transaction per batch.
func (e *Engine) catchUpOne(ctx context.Context, reg *registration) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.failed {
		return nil
	}
	name := reg.projection.Name()

	var position int64
	checkpoint, err := e.checkpoints.Load(ctx, name)
	switch {
	case err == nil:
		position = checkpoint.Position
	case errors.Is(err, store.ErrCheckpointNotFound):
	default:
		return fmt.Errorf("loading %s checkpoint: %w", name, err)
	}

	head, err := e.source.HeadSequence(ctx)
	if err != nil {
		return fmt.Errorf("reading store head: %w", err)
	}
	if position > head {
		err := eventsourcing.Fatal(fmt.Errorf(
			"projection %s checkpoint %d is ahead of store head %d", name, position, head))
		e.markFailed(ctx, reg, err)
		return err
	}

	filter := reg.projection.Filter()
	for {
		batch, err := e.source.ReadAllFrom(ctx, position, reg.batchSize)
		if err != nil {
			return fmt.Errorf("reading events for %s: %w", name, err)
		}
		if len(batch) == 0 {
			break
		}

		start := time.Now()
		err = e.applyBatch(ctx, reg, filter, batch)
		if e.observer != nil {
			e.observer.RecordProjectionBatch(ctx, name, time.Since(start), len(batch), err)
		}
		if err != nil {
			if eventsourcing.IsFatal(err) {
				e.markFailed(ctx, reg, err)
			}
			return err
		}
		position = batch[len(batch)-1].GlobalSequence
		if len(batch) < reg.batchSize {
			break
		}
	}

	lag := head - position
	if lag < 0 {
		lag = 0
	}
	if e.observer != nil {
		e.observer.RecordProjectionLag(ctx, name, lag)
	}
	e.markReady(ctx, reg, lag)
	return nil
}

// applyBatch applies one batch and advances the checkpoint in a single
// transaction. Events outside the filter advance the checkpoint without
// touching the read model.
func (e *Engine) applyBatch(ctx context.Context, reg *registration, filter eventsourcing.EventFilter, batch []*eventsourcing.Event) error {
	name := reg.projection.Name()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning %s batch: %w", name, err)
	}
	defer tx.Rollback()

	applied := 0
	for _, event := range batch {
		if !filter.Matches(event) {
			continue
		}
		if err := reg.projection.Apply(ctx, tx, event); err != nil {
			return fmt.Errorf("applying %s to %s: %w", event.EventType, name, err)
		}
		applied++
	}

	last := batch[len(batch)-1]
	err = e.checkpoints.SaveInTx(tx, &store.ProjectionCheckpoint{
		ProjectionName: name,
		Position:       last.GlobalSequence,
		LastEventID:    last.ID,
		UpdatedAt:      eventsourcing.Now(),
	})
	if err != nil {
		return fmt.Errorf("advancing %s checkpoint: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s batch: %w", name, err)
	}

	if applied > 0 {
		e.logger.DebugContext(ctx, "Projection batch applied",
			slog.String("projection", name),
			slog.Int("applied", applied),
			slog.Int64("position", last.GlobalSequence),
		)
	}
	return nil
}

// Reset truncates a projection's tables and deletes its checkpoint in one
// transaction. The next catch-up rebuilds the read model from history.
func (e *Engine) Reset(ctx context.Context, name string) error {
	reg := e.find(name)
	if reg == nil {
		return fmt.Errorf("unknown projection %s", name)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning %s reset: %w", name, err)
	}
	defer tx.Rollback()

	if err := reg.projection.Reset(ctx, tx); err != nil {
		return fmt.Errorf("resetting %s: %w", name, err)
	}
	if err := e.checkpoints.DeleteInTx(tx, name); err != nil {
		return fmt.Errorf("deleting %s checkpoint: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s reset: %w", name, err)
	}

	reg.failed = false
	reg.state = store.ProjectionStatusRebuilding
	reg.lag = 0
	e.writeStatus(ctx, name, store.ProjectionStatusRebuilding, "rebuilding from event history", 0)

	e.logger.InfoContext(ctx, "Projection reset",
		slog.String("projection", name),
	)
	return nil
}

// markReady records the projection as caught up. The status row is only
// written when the state or lag actually changed.
func (e *Engine) markReady(ctx context.Context, reg *registration, lag int64) {
	if reg.state == store.ProjectionStatusReady && reg.lag == lag {
		return
	}
	reg.state = store.ProjectionStatusReady
	reg.lag = lag
	e.writeStatus(ctx, reg.projection.Name(), store.ProjectionStatusReady, "", lag)
}

// markFailed records a fatal condition and takes the projection out of the
// cycle until it is reset.
func (e *Engine) markFailed(ctx context.Context, reg *registration, cause error) {
	reg.failed = true
	reg.state = store.ProjectionStatusFailed
	name := reg.projection.Name()
	e.writeStatus(ctx, name, store.ProjectionStatusFailed, cause.Error(), reg.lag)
	e.logger.ErrorContext(ctx, "Projection failed",
		slog.String("projection", name),
		slog.String("error", cause.Error()),
	)
}

func (e *Engine) writeStatus(ctx context.Context, name string, status store.ProjectionStatus, message string, lag int64) {
	err := e.status.Save(ctx, &store.ProjectionState{
		ProjectionName: name,
		Status:         status,
		Message:        message,
		Lag:            lag,
		UpdatedAt:      eventsourcing.Now(),
	})
	if err != nil {
		e.logger.WarnContext(ctx, "Saving projection status failed",
			slog.String("projection", name),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) find(name string) *registration {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, reg := range e.projections {
		if reg.projection.Name() == name {
			return reg
		}
	}
	return nil
}

func (e *Engine) snapshot() []*registration {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := make([]*registration, len(e.projections))
	copy(all, e.projections)
	return all
}

// Name implements runner.Service.
func (e *Engine) Name() string {
	return "projection-engine"
}

// Start catches every projection up once, then launches the run loop. The
// initial catch-up surfaces fatal state mismatches before the process starts
// serving queries.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.CatchUp(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(runCtx)

	e.mu.Lock()
	count := len(e.projections)
	e.mu.Unlock()
	e.logger.InfoContext(ctx, "Projection engine started",
		slog.Int("projections", count),
		slog.Duration("poll_interval", e.pollInterval),
	)
	return nil
}

// Stop halts the run loop. Checkpoints keep the position; the next Start
// resumes where this one left off.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.logger.InfoContext(ctx, "Projection engine stopped")
	return nil
}

// HealthCheck reports an error while any projection is in a failed state.
func (e *Engine) HealthCheck(ctx context.Context) error {
	var failed []string
	for _, reg := range e.snapshot() {
		reg.mu.Lock()
		if reg.failed {
			failed = append(failed, reg.projection.Name())
		}
		reg.mu.Unlock()
	}
	if len(failed) > 0 {
		return fmt.Errorf("projections failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.CatchUp(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.ErrorContext(ctx, "Projection catch-up failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

var _ runner.HealthChecker = (*Engine)(nil)
