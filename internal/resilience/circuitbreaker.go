// Package resilience provides circuit breaker and provider failover primitives
// for the external services an evaluation depends on.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open) that stops an evaluation from waiting on a
// backend that keeps failing. [FallbackGroup] composes several instances of
// one provider kind with per-entry breakers; [LLMFallback],
// [TranscriberFallback] and [DiarizerFallback] specialise it for the three
// provider contracts.
//
// Retry and failover live here, outside the evaluation core: the pipeline
// itself never retries a stage.
//
// All types are safe for concurrent use.
package resilience

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state. All calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected immediately with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the reset timeout. A limited
	// number of calls are allowed through; if they succeed the breaker closes,
	// otherwise it re-opens.
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
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the maximum number of probe calls allowed in the half-open
	// state before the breaker decides whether to close or re-open. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend. Default:
	// every error except context cancellation and deadline expiry, which say
	// nothing about the backend's health.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker lock released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Default: [time.Now].
	Now func() time.Time
}

// CircuitBreaker guards one provider backend. Consecutive backend failures
// open it; after ResetTimeout it lets HalfOpenMax probes through and closes
// once all of them succeed. Any failed probe re-opens it.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // when the breaker last opened
	probes   int       // probes admitted in the current half-open window
	passed   int       // probes that succeeded in the current window
}

// IsBackendFailure is the default [CircuitBreakerConfig.IsFailure].
func IsBackendFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero config fields take
// the documented defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cmp.Or(max(cfg.MaxFailures, 0), 5),
		resetTimeout:  cmp.Or(max(cfg.ResetTimeout, 0), 30*time.Second),
		halfOpenMax:   cmp.Or(max(cfg.HalfOpenMax, 0), 3),
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
		state:         StateClosed,
	}
	if cb.isFailure == nil {
		cb.isFailure = IsBackendFailure
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	return cb
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker admits the call and returns fn's error
// unchanged. A rejected call returns [ErrCircuitOpen] without running fn.
// Errors rejected by IsFailure leave the breaker untouched.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes, cb.passed = 0, 0
		slog.Info("circuit breaker half-open, probing provider", "provider", cb.name)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.probes++
		probe = true
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
	return probe, nil
}

// settle records the verdict of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case err != nil && !cb.isFailure(err):
		if probe {
			// No verdict; the slot goes back to the next caller.
			cb.probes--
		}
	case err != nil && probe:
		cb.open()
		slog.Warn("circuit breaker re-opened, probe failed", "provider", cb.name, "err", err)
	case err != nil:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.open()
			slog.Warn("circuit breaker opened",
				"provider", cb.name,
				"consecutive_failures", cb.failures,
				"retry_after", cb.resetTimeout)
		}
	case probe:
		cb.passed++
		if cb.passed >= cb.halfOpenMax {
			cb.close()
			slog.Info("circuit breaker closed, provider recovered", "provider", cb.name)
		}
	default:
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

// open and close must be called with cb.mu held.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
}

func (cb *CircuitBreaker) close() {
	cb.state = StateClosed
	cb.failures, cb.probes, cb.passed = 0, 0, 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the breaker's state. An open breaker whose reset timeout has
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

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.close()
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
	slog.Info("circuit breaker manually reset", "provider", cb.name)
}
