package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corefold/shopstream/pkg/runner"
)

// EventArchiver is implemented by event stores that can move aged events
// into their archive table. Archived events stay readable; only their
// storage tier changes.
type EventArchiver interface {
	Archive(ctx context.Context, olderThanDays int) (int64, error)
}

// Archiver runs the archival pass on a schedule. It implements
// runner.Service so the platform can place it after the stores it drains.
type Archiver struct {
	store         EventArchiver
	olderThanDays int
	interval      time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	lastErr error

	cancel context.CancelFunc
	done   chan struct{}
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithArchiveInterval sets how often the pass runs. Defaults to 24 hours.
func WithArchiveInterval(interval time.Duration) ArchiverOption {
	return func(a *Archiver) {
		if interval > 0 {
			a.interval = interval
		}
	}
}

// WithArchiverLogger sets the logger. Defaults to slog.Default().
func WithArchiverLogger(logger *slog.Logger) ArchiverOption {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// NewArchiver creates an archiver moving events older than olderThanDays.
func NewArchiver(store EventArchiver, olderThanDays int, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		store:         store,
		olderThanDays: olderThanDays,
		interval:      24 * time.Hour,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements runner.Service.
func (a *Archiver) Name() string {
	return "event-archiver"
}

// Start runs one pass immediately, then repeats on the interval. The
// first pass failing does not block startup; archival is maintenance,
// not a serving dependency.
func (a *Archiver) Start(ctx context.Context) error {
	if a.olderThanDays <= 0 {
		return fmt.Errorf("archive horizon must be positive, got %d days", a.olderThanDays)
	}

	a.runOnce(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(runCtx)

	a.logger.InfoContext(ctx, "Event archiver started",
		slog.Int("older_than_days", a.olderThanDays),
		slog.Duration("interval", a.interval),
	)
	return nil
}

// Stop halts the schedule. A pass in flight finishes its current batch;
// batch transactions keep a partial pass safe to interrupt.
func (a *Archiver) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// HealthCheck reports the last pass's failure until a pass succeeds.
func (a *Archiver) HealthCheck(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastErr != nil {
		return fmt.Errorf("last archival pass failed: %w", a.lastErr)
	}
	return nil
}

func (a *Archiver) run(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *Archiver) runOnce(ctx context.Context) {
	moved, err := a.store.Archive(ctx, a.olderThanDays)

	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()

	if err != nil {
		a.logger.ErrorContext(ctx, "Archival pass failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if moved > 0 {
		a.logger.InfoContext(ctx, "Archival pass finished",
			slog.Int64("events_moved", moved),
		)
	}
}

var _ runner.HealthChecker = (*Archiver)(nil)
