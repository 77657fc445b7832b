// Package runner manages process lifecycle: services start in
// registration order and stop in reverse, so consumers shut down before
// the stores and buses they read.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Runner starts and stops a fixed set of services.
type Runner struct {
	services        []Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
	startupTimeout  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithShutdownTimeout bounds graceful shutdown as a whole.
// Default is 30 seconds.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.shutdownTimeout = timeout
	}
}

// WithStartupTimeout bounds each service start. Default is 1 minute.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.startupTimeout = timeout
	}
}

// New creates a Runner over the given services.
func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:        services,
		logger:          slog.Default(),
		shutdownTimeout: 30 * time.Second,
		startupTimeout:  1 * time.Minute,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts every service, blocks until the context is cancelled or an
// interrupt arrives, then stops the started services in reverse order.
// A failed start stops the services already running and returns.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := NotifyShutdown(ctx)
	defer stop()

	started, err := r.startAll(ctx)
	if err != nil {
		if stopErr := r.stopAll(started); stopErr != nil {
			r.logger.Error("Cleanup after failed start left errors",
				slog.String("error", stopErr.Error()),
			)
		}
		return err
	}

	<-ctx.Done()
	r.logger.Info("Shutting down",
		slog.Duration("timeout", r.shutdownTimeout),
	)
	return r.stopAll(started)
}

func (r *Runner) startAll(ctx context.Context) ([]Service, error) {
	r.logger.Info("Starting services", slog.Int("count", len(r.services)))

	var started []Service
	for _, service := range r.services {
		startCtx, cancel := context.WithTimeout(ctx, r.startupTimeout)
		err := service.Start(startCtx)
		cancel()

		if err != nil {
			r.logger.Error("Service failed to start",
				slog.String("service", service.Name()),
				slog.String("error", err.Error()),
			)
			return started, fmt.Errorf("starting %s: %w", service.Name(), err)
		}

		started = append(started, service)
		r.logger.Info("Service started", slog.String("service", service.Name()))
	}

	r.logger.Info("All services started")
	return started, nil
}

// stopAll stops services one at a time in reverse start order, all under
// the shared shutdown budget. A failing stop is recorded and the teardown
// continues, so one stuck service cannot strand the rest.
func (r *Runner) stopAll(started []Service) error {
	if len(started) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		service := started[i]
		if err := service.Stop(ctx); err != nil {
			r.logger.Error("Service failed to stop",
				slog.String("service", service.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("stopping %s: %w", service.Name(), err))
			continue
		}
		r.logger.Info("Service stopped", slog.String("service", service.Name()))
	}
	return errors.Join(errs...)
}

// HealthCheck asks every service that reports health, first failure wins.
func (r *Runner) HealthCheck(ctx context.Context) error {
	for _, service := range r.services {
		if hc, ok := service.(HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				return fmt.Errorf("service %s unhealthy: %w", service.Name(), err)
			}
		}
	}
	return nil
}
