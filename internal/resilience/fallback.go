package resilience

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nova-voice/callengine/pkg/callerr"
)

// ErrAllFailed is returned when every provider in a [FallbackChain] fails or
// sits behind an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// chainEntry pairs one provider with its dedicated breaker.
type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackChain composes a primary provider with ordered fallbacks of the
// same type, each guarded by its own [Breaker]. A terminal error (per
// [callerr.IsTerminal]) stops the chain immediately: an invalid credential
// on the primary is not fixed by retrying a fallback with the same one.
//
// FallbackChain is safe for concurrent use after construction; Add must not
// be called concurrently with Run.
type FallbackChain[T any] struct {
	entries []chainEntry[T]
	breaker BreakerConfig
}

// NewFallbackChain creates a chain with primary as the first entry.
func NewFallbackChain[T any](name string, primary T, breaker BreakerConfig) *FallbackChain[T] {
	cfg := breaker
	cfg.Name = name
	return &FallbackChain[T]{
		entries: []chainEntry[T]{{name: name, value: primary, breaker: NewBreaker(cfg)}},
		breaker: breaker,
	}
}

// Add appends a fallback provider. Fallbacks run in the order added.
func (c *FallbackChain[T]) Add(name string, fallback T) {
	cfg := c.breaker
	cfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{name: name, value: fallback, breaker: NewBreaker(cfg)})
}

// Run tries fn against each entry until one succeeds. Entries with open
// breakers are skipped. Returns [ErrAllFailed] wrapping the last error when
// nothing succeeds, or the terminal error itself when one occurs.
//
// Run is a package-level function because Go has no method-level type
// parameters.
func Run[T, R any](c *FallbackChain[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var inner error
			result, inner = fn(entry.value)
			return inner
		})
		if err == nil {
			return result, nil
		}
		if callerr.IsTerminal(err) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping provider, breaker open", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
