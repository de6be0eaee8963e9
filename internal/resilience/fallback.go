package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/scribe/internal/observe"
)

// ErrAllFailed is returned when every backend of a [FallbackGroup] failed or
// was skipped behind an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each backend's breaker. Its Name is
	// replaced by the backend name.
	CircuitBreaker CircuitBreakerConfig

	// Permanent marks errors caused by the input rather than the backend,
	// such as an empty audio unit. They are returned at once, without trying
	// the next backend and without counting against the breaker.
	Permanent func(error) bool
}

// BreakerStatus reports one backend of a group for health output.
type BreakerStatus struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	Failures  int    `json:"failures,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend and its ordered fallbacks, each
// behind its own [CircuitBreaker].
//
// Backends must be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
}

// NewFallbackGroup creates a group whose first backend is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend. Backends are tried in the order added.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	if perm := fg.cfg.Permanent; perm != nil {
		counts := bc.IsFailure
		if counts == nil {
			counts = providerFault
		}
		bc.IsFailure = func(err error) bool { return !perm(err) && counts(err) }
	}
	fg.backends = append(fg.backends, backend[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(bc),
	})
}

// Primary returns the first backend.
func (fg *FallbackGroup[T]) Primary() T { return fg.backends[0].value }

// Status reports every backend's breaker in failover order.
func (fg *FallbackGroup[T]) Status() []BreakerStatus {
	out := make([]BreakerStatus, len(fg.backends))
	for i := range fg.backends {
		out[i] = fg.backends[i].breaker.Status()
	}
	return out
}

// Execute runs fn against the first backend that succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult runs fn against each backend in turn until one succeeds.
// Backends behind an open breaker are skipped. A permanent error or a done
// ctx ends the attempt immediately. When every backend fails the error wraps
// [ErrAllFailed] and the last backend error.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	log := observe.Logger(ctx)
	for i := range fg.backends {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		b := &fg.backends[i]

		var out R
		err := b.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, b.value)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				log.Info("fallback provider answered", "provider", b.name, "attempt", i+1)
			}
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			log.Debug("provider skipped, circuit open", "provider", b.name)
		case fg.cfg.Permanent != nil && fg.cfg.Permanent(err):
			return zero, err
		default:
			log.Warn("provider failed, trying next", "provider", b.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
