package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aulavox/aulavox/pkg/types"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// had an open breaker. It wraps the last entry's error.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the circuit breaker template applied to each entry of a
// [FallbackGroup]. The entry name overrides the template's Name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup chains a primary and zero or more fallback backends of the
// same type. Entries are tried in registration order; each sits behind its
// own circuit breaker so a degraded primary is skipped without probing it on
// every call.
//
// Errors that indict the request rather than the backend — validation
// failures, cancellations — stop the chain immediately: a fallback would
// fail the same way.
//
// FallbackGroup is safe for concurrent use once assembled. AddFallback is
// not synchronized; finish assembly before sharing the group.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup starts a group with its primary entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends a backend tried after all earlier entries.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len reports the number of registered backends.
func (fg *FallbackGroup[T]) Len() int {
	return len(fg.entries)
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in order until one succeeds
// and returns its result. A package-level function because Go methods cannot
// introduce type parameters.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend, circuit open", "backend", entry.name)
		} else {
			slog.Warn("backend failed, trying next",
				"backend", entry.name,
				"error", err,
			)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// retryable reports whether the next entry in the chain could plausibly do
// better.
func retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, types.ErrCancelled) {
		return false
	}
	switch types.Classify(err) {
	case types.KindValidation, types.KindInvalidState, types.KindConfiguration:
		return false
	}
	return true
}
