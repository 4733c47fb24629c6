package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or is
// skipped by an open circuit breaker.
var ErrAllFailed = errors.New("all entries failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker.
	CircuitBreaker CircuitBreakerConfig

	// Stateless disables circuit breakers. Every call walks the full list in
	// order, so the chosen entry depends only on the call's own outcome.
	Stateless bool

	// Logger receives debug records for failed and skipped entries. Nil
	// means slog.Default().
	Logger *slog.Logger
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable values. Operations are
// tried against the entries in registration order until one succeeds.
//
// Entries must be registered before the group is shared; running operations
// concurrently is safe.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg, log: cfg.Logger}
	if fg.log == nil {
		fg.log = slog.Default()
	}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry. Entries are tried in the order they are added.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	e := fallbackEntry[T]{name: name, value: fallback}
	if !fg.cfg.Stateless {
		cbCfg := fg.cfg.CircuitBreaker
		cbCfg.Name = name
		e.breaker = NewCircuitBreaker(cbCfg)
	}
	fg.entries = append(fg.entries, e)
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// ExecuteNamed tries fn against each entry in order until one succeeds and
// reports which entry served the call. It returns [ErrAllFailed] wrapping the
// last error if none does. It is a package-level function because methods
// cannot declare type parameters.
func ExecuteNamed[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]

		var result R
		call := func() error {
			var err error
			result, err = fn(entry.value)
			return err
		}

		var err error
		if entry.breaker != nil {
			err = entry.breaker.Execute(call)
		} else {
			err = call()
		}
		if err == nil {
			return result, entry.name, nil
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.log.Debug("fallback: skipping entry, circuit open", "entry", entry.name)
		} else if i < len(fg.entries)-1 {
			fg.log.Debug("fallback: entry failed, trying next", "entry", entry.name, "error", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
