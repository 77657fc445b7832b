package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Operation is a unit of work guarded by retries and circuit breakers.
type Operation func(ctx context.Context) error

// RetryConfig controls the backoff schedule of Retry.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration

	// BackoffFactor multiplies the delay after every failed attempt.
	BackoffFactor float64

	// MaxDelay caps the backoff regardless of the factor.
	MaxDelay time.Duration

	// Jitter is the fraction of each delay that is randomized, 0..1.
	// A delay d becomes d*(1-Jitter) + rand(0, d*Jitter).
	Jitter float64

	// RetryIf decides whether an error is worth another attempt.
	// nil retries every error.
	RetryIf func(error) bool

	// OnRetry is called before each backoff sleep with the attempt that
	// failed, its error, and the chosen delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns three attempts with jittered exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      1 * time.Second,
		Jitter:        0.5,
	}
}

// Retry runs op until it succeeds, the error is not retryable, the attempts
// are exhausted, or ctx is done. Returns the last error.
func Retry(ctx context.Context, cfg RetryConfig, op Operation) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// delay computes the jittered backoff after the given attempt, 1-based.
func (cfg RetryConfig) delay(attempt int) time.Duration {
	d := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= cfg.BackoffFactor
	}
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		fixed := d * (1 - cfg.Jitter)
		d = fixed + rand.Float64()*(d-fixed)
	}
	return time.Duration(d)
}
