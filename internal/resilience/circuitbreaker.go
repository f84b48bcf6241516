// Package resilience protects the relay's language-model provider from being
// hammered while it is down.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open).
// [GuardProvider] wraps an [llm.Provider] so that, once the upstream has
// failed repeatedly, requests fail fast with [ErrCircuitOpen] instead of
// waiting for another timeout. The breaker never retries: one Complete call
// makes at most one upstream request.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log messages, e.g. "llm:groq".
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 1.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the upstream.
	// Default: every error except caller cancellation.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	isFailure    func(error) bool
	onChange     func(string, State, State)
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		isFailure:    cfg.IsFailure,
		onChange:     cfg.OnStateChange,
		now:          cfg.Now,
		state:        StateClosed,
	}
}

// countsAsFailure ignores cancellation by the caller; a client hanging up is
// not the upstream's fault.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	inHalfOpen := cb.state == StateHalfOpen
	if inHalfOpen {
		cb.halfOpenCalls++
	}
	mid := cb.state
	cb.mu.Unlock()
	cb.notify(from, mid)

	err := fn()

	cb.mu.Lock()
	before := cb.state
	if err != nil && cb.isFailure(err) {
		cb.recordFailure(inHalfOpen)
	} else {
		cb.recordSuccess(inHalfOpen)
	}
	after := cb.state
	cb.mu.Unlock()
	cb.notify(before, after)

	return err
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(inHalfOpen bool) {
	if inHalfOpen {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.consecutiveFail = cb.maxFailures
		return
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(inHalfOpen bool) {
	if inHalfOpen {
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.halfOpenMax && cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenOK = 0
		}
		return
	}
	cb.consecutiveFail = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to {
		return
	}
	slog.Info("circuit breaker state change", "name", cb.name, "from", from.String(), "to", to.String())
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}
