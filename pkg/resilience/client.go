// Package resilience guards outbound calls with per-call timeouts, jittered
// exponential retries, and named circuit breakers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// Client wraps outbound calls with a timeout, bounded retries, and a circuit
// breaker per named endpoint. Command handlers use it for gateway calls;
// sagas use it for inter-aggregate command dispatch.
type Client struct {
	timeout  time.Duration
	retry    RetryConfig
	breakers *BreakerRegistry
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-attempt deadline. 0 disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetry sets the default retry schedule.
func WithRetry(cfg RetryConfig) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithLogger sets the logger for attempt and retry records.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a resilient client backed by the given breaker registry.
func NewClient(breakers *BreakerRegistry, opts ...ClientOption) *Client {
	c := &Client{
		timeout:  5 * time.Second,
		retry:    DefaultRetryConfig(),
		breakers: breakers,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breakers returns the underlying breaker registry.
func (c *Client) Breakers() *BreakerRegistry { return c.breakers }

type callParams struct {
	timeout   time.Duration
	retry     RetryConfig
	operation string
}

// CallOption overrides client defaults for one call site.
type CallOption func(*callParams)

// WithCallTimeout overrides the per-attempt deadline for this call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(p *callParams) {
		p.timeout = d
	}
}

// WithCallRetry overrides the retry schedule for this call.
func WithCallRetry(cfg RetryConfig) CallOption {
	return func(p *callParams) {
		p.retry = cfg
	}
}

// WithOperation labels the call in logs.
func WithOperation(name string) CallOption {
	return func(p *callParams) {
		p.operation = name
	}
}

// Call runs op against the named endpoint. Each attempt runs under the
// per-attempt deadline and passes through the endpoint's breaker. Transient
// failures are retried with jittered backoff; an open breaker fails fast.
// After exhaustion the last transient error is surfaced as ServiceUnavailable.
func (c *Client) Call(ctx context.Context, endpoint string, op Operation, opts ...CallOption) error {
	params := callParams{timeout: c.timeout, retry: c.retry, operation: endpoint}
	for _, opt := range opts {
		opt(&params)
	}

	breaker := c.breakers.Get(endpoint)

	cfg := params.retry
	cfg.RetryIf = func(err error) bool {
		// An open circuit will not recover within one backoff; fail fast.
		return eventsourcing.IsTransient(err) && !errors.Is(err, ErrCircuitOpen)
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.WarnContext(ctx, "retrying call",
			slog.String("endpoint", endpoint),
			slog.String("operation", params.operation),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
	}

	err := Retry(ctx, cfg, func(ctx context.Context) error {
		if err := breaker.Allow(); err != nil {
			return err
		}

		callCtx := ctx
		if params.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, params.timeout)
			defer cancel()
		}

		err := op(callCtx)
		breaker.Record(err)
		return err
	})
	if err == nil {
		return nil
	}
	if eventsourcing.IsTransient(err) {
		c.logger.ErrorContext(ctx, "call exhausted retries",
			slog.String("endpoint", endpoint),
			slog.String("operation", params.operation),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s: %w", eventsourcing.ErrServiceUnavailable, endpoint, err)
	}
	return err
}
