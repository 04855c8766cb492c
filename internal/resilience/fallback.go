package resilience

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vocahire/vocahire/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup] and the circuit breaker created
// for each of its entries.
type FallbackConfig struct {
	// Kind names the provider contract ("llm", "stt", "diarization"). It is
	// attached to logs, span events and OnAttempt calls.
	Kind string

	CircuitBreaker CircuitBreakerConfig

	// OnAttempt, if set, is called after every call that reached a backend,
	// with the error it returned (nil on success). Open-circuit skips and
	// context errors are not reported.
	OnAttempt func(ctx context.Context, kind, provider string, err error)
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallback instances of one
// provider contract. Entries are tried in registration order; an entry whose
// breaker is open is skipped.
//
// A context error ends the walk immediately: a cancelled evaluation must not
// be replayed against the remaining providers.
//
// Fallbacks must be registered before the group is shared between
// goroutines; after that FallbackGroup is safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry with its own circuit breaker.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Primary returns the first entry's value.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Breaker returns the circuit breaker guarding the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker
		}
	}
	return nil
}

// OpenCircuits names the entries whose breaker is currently open.
func (fg *FallbackGroup[T]) OpenCircuits() []string {
	var open []string
	for i := range fg.entries {
		if fg.entries[i].breaker.State() == StateOpen {
			open = append(open, fg.entries[i].name)
		}
	}
	return open
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult calls fn on each entry in order until one succeeds and
// returns its result. Every switch to the next entry is recorded as a
// "provider.failover" event on the span in ctx. When all entries fail the
// error wraps [ErrAllFailed] and the last entry's error.
//
// It is a function rather than a method because methods cannot declare type
// parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	log := observe.Logger(ctx).With("kind", fg.cfg.Kind)
	span := trace.SpanFromContext(ctx)

	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(ctx, entry.value)
			return innerErr
		})
		if err == nil {
			fg.report(ctx, entry.name, nil)
			if i > 0 {
				log.Info("fallback provider succeeded", "provider", entry.name, "attempt", i+1)
			}
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			log.Debug("skipping provider, circuit open", "provider", entry.name)
		} else {
			log.Warn("provider failed", "provider", entry.name, "err", err)
			fg.report(ctx, entry.name, err)
		}
		if i+1 < len(fg.entries) {
			span.AddEvent("provider.failover", trace.WithAttributes(
				attribute.String("provider.kind", fg.cfg.Kind),
				attribute.String("provider.from", entry.name),
				attribute.String("provider.to", fg.entries[i+1].name),
			))
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) report(ctx context.Context, provider string, err error) {
	if fg.cfg.OnAttempt != nil {
		fg.cfg.OnAttempt(ctx, fg.cfg.Kind, provider, err)
	}
}
