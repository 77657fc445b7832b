package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// BreakerState is one of the circuit breaker states.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned for calls rejected while a breaker is open.
// It counts as transient: the endpoint may recover after the cooldown.
var ErrCircuitOpen = eventsourcing.Transient(errors.New("circuit open"))

// CircuitOpenError reports which breaker rejected the call.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q open, retry after %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// BreakerConfig controls when a breaker trips and recovers.
type BreakerConfig struct {
	// Threshold opens the breaker after this many consecutive failures.
	Threshold int

	// FailureRate additionally opens the breaker when the failure fraction
	// within Window exceeds it. 0 disables rate tracking. The window needs
	// at least Threshold samples before the rate is considered.
	FailureRate float64

	// Window is the rolling window for the failure rate.
	Window time.Duration

	// Cooldown is how long an open breaker waits before allowing a probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig trips after five consecutive failures or a >50%
// failure rate over ten seconds, and probes after three seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:   5,
		FailureRate: 0.5,
		Window:      10 * time.Second,
		Cooldown:    3 * time.Second,
	}
}

// StateChangeHook observes breaker transitions. It is called with the
// breaker's lock held and must not call back into the breaker.
type StateChangeHook func(name string, from, to BreakerState)

// Breaker is a circuit breaker for one named endpoint.
//
// Only transient faults count as failures: a domain rejection means the
// endpoint answered and never trips the breaker.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	consecutive int
	outcomes    []outcome
	openedAt    time.Time
	probing     bool

	onStateChange StateChangeHook
}

type outcome struct {
	at      time.Time
	failure bool
}

// NewBreaker creates a closed breaker for the named endpoint.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg}
}

// Name returns the endpoint name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. Open breakers fail fast with a
// CircuitOpenError until the cooldown elapses, then admit a single probe.
// Every admitted call must be followed by a Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		remaining := b.cfg.Cooldown - eventsourcing.Now().Sub(b.openedAt)
		if remaining > 0 {
			return &CircuitOpenError{Name: b.name, RetryAfter: remaining}
		}
		b.transition(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return &CircuitOpenError{Name: b.name, RetryAfter: b.cfg.Cooldown}
		}
		b.probing = true
	}
	return nil
}

// Record feeds a call result back into the breaker.
func (b *Breaker) Record(err error) {
	now := eventsourcing.Now()
	failure := err != nil && eventsourcing.IsTransient(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		// A call that was in flight when the breaker opened; stale.
		return
	case StateHalfOpen:
		b.probing = false
		if failure {
			b.openedAt = now
			b.transition(StateOpen)
			return
		}
		b.consecutive = 0
		b.outcomes = nil
		b.transition(StateClosed)
		return
	}

	if failure {
		b.consecutive++
	} else {
		b.consecutive = 0
	}
	if b.cfg.Window > 0 {
		b.outcomes = append(b.outcomes, outcome{at: now, failure: failure})
		b.prune(now)
	}

	if b.shouldTrip() {
		b.openedAt = now
		b.transition(StateOpen)
	}
}

// Do guards op with the breaker: Allow, run, Record.
func (b *Breaker) Do(ctx context.Context, op Operation) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.Record(err)
	return err
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.outcomes) && !b.outcomes[i].at.After(cutoff) {
		i++
	}
	b.outcomes = b.outcomes[i:]
}

func (b *Breaker) shouldTrip() bool {
	if b.cfg.Threshold > 0 && b.consecutive >= b.cfg.Threshold {
		return true
	}
	if b.cfg.FailureRate > 0 && b.cfg.Window > 0 {
		floor := b.cfg.Threshold
		if floor < 1 {
			floor = 1
		}
		if len(b.outcomes) < floor {
			return false
		}
		failures := 0
		for _, o := range b.outcomes {
			if o.failure {
				failures++
			}
		}
		if float64(failures)/float64(len(b.outcomes)) > b.cfg.FailureRate {
			return true
		}
	}
	return false
}

// transition must be called with the lock held.
func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// BreakerRegistry hands out one breaker per endpoint name, creating them on
// first use with the per-name config or the registry default.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults BreakerConfig
	configs  map[string]BreakerConfig
	hook     StateChangeHook
}

// RegistryOption configures a BreakerRegistry.
type RegistryOption func(*BreakerRegistry)

// WithBreakerConfig overrides the config for one named breaker.
func WithBreakerConfig(name string, cfg BreakerConfig) RegistryOption {
	return func(r *BreakerRegistry) {
		r.configs[name] = cfg
	}
}

// WithStateChangeHook observes every breaker transition in the registry.
func WithStateChangeHook(hook StateChangeHook) RegistryOption {
	return func(r *BreakerRegistry) {
		r.hook = hook
	}
}

// NewBreakerRegistry creates a registry with the given default config.
func NewBreakerRegistry(defaults BreakerConfig, opts ...RegistryOption) *BreakerRegistry {
	r := &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		configs:  make(map[string]BreakerConfig),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for the named endpoint, creating it if needed.
func (r *BreakerRegistry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.defaults
	}
	b := NewBreaker(name, cfg)
	b.onStateChange = r.hook
	r.breakers[name] = b
	return b
}

// States reports the current state of every known breaker, for health checks.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	states := make(map[string]BreakerState, len(breakers))
	for _, b := range breakers {
		states[b.Name()] = b.State()
	}
	return states
}
