// Package resilience keeps batch transcription going when a provider
// misbehaves.
//
// A [CircuitBreaker] stops sending units to a provider after repeated
// failures and lets a few probes through once a cool-down has passed. A
// [FallbackGroup] puts a breaker in front of each configured backend and
// fails over in order. [LLMFallback] and [STTFallback] expose those groups as
// ordinary providers, so the diarizer and the audio transcriber never see the
// difference.
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

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cool-down ends.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

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

// MarshalText renders the state by name in JSON health reports.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and health output.
	Name string

	// MaxFailures is the run of consecutive failures that opens the breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before an open breaker admits probes.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes admitted, and the number of
	// successes needed, to close again. Default 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the provider. The
	// default counts everything except context cancellation and deadline
	// errors.
	IsFailure func(error) bool

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.IsFailure == nil {
		c.IsFailure = providerFault
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// providerFault is the default failure classifier.
func providerFault(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// CircuitBreaker is a closed/open/half-open breaker for one provider.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive failures while closed
	total     int // failures since creation or Reset
	openedAt  time.Time
	lastErr   error
	probes    int
	probeWins int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker is open. An error from fn is returned
// unchanged. It only counts against the provider when IsFailure says so and
// ctx is still live, so a cancelled batch never trips the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	switch {
	case err == nil:
		cb.succeed(probe)
	case ctx.Err() == nil && cb.cfg.IsFailure(err):
		cb.fail(probe, err)
	default:
		cb.release(probe)
	}
	return err
}

// admit reserves a call slot. probe reports whether the call is a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes, cb.probeWins = 0, 0
		slog.Info("circuit breaker half-open", "provider", cb.cfg.Name)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) succeed(probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !probe {
		cb.failures = 0
		return
	}
	if cb.state != StateHalfOpen {
		return
	}
	cb.probeWins++
	if cb.probeWins >= cb.cfg.HalfOpenMax {
		cb.state = StateClosed
		cb.failures = 0
		slog.Info("circuit breaker closed", "provider", cb.cfg.Name)
	}
}

func (cb *CircuitBreaker) fail(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.total++
	cb.lastErr = err
	if probe {
		if cb.state == StateHalfOpen {
			cb.trip()
			slog.Warn("circuit breaker probe failed", "provider", cb.cfg.Name, "err", err)
		}
		return
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
		cb.trip()
		slog.Warn("circuit breaker opened", "provider", cb.cfg.Name, "consecutive_failures", cb.failures, "err", err)
	}
}

// release returns an unused probe slot after a call that did not count.
func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// trip opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.Now()
}

// State returns the current state. An open breaker whose cool-down has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Status snapshots the breaker for health output.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := BreakerStatus{
		Name:     cb.cfg.Name,
		State:    cb.stateLocked(),
		Failures: cb.total,
	}
	if cb.lastErr != nil {
		st.LastError = cb.lastErr.Error()
	}
	return st
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures, cb.total = 0, 0
	cb.probes, cb.probeWins = 0, 0
	cb.lastErr = nil
	slog.Info("circuit breaker reset", "provider", cb.cfg.Name)
}
