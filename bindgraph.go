// Package bindgraph contains the runtime used by code generated by bindgraph.
package bindgraph

import (
	"fmt"
	"sync"
)

// Optional is a value that a component may or may not bind.
//
// Request an Optional[T] from a constructor or provider to depend on a type declared with //bind:optional.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns a present Optional.
func Some[T any](value T) Optional[T] { return Optional[T]{value: value, ok: true} }

// None returns an absent Optional.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.ok }

// Present returns true if the value is bound.
func (o Optional[T]) Present() bool { return o.ok }

// OrElse returns the value if present, or fallback.
func (o Optional[T]) OrElse(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

func (o Optional[T]) String() string {
	if !o.ok {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", o.value)
}

// Memoize returns a function that returns the first successful result of fn.
//
// Errors are not cached, so a failed construction is retried on the next call. The returned function is safe for
// concurrent use, and concurrent callers wait for a construction in progress.
//
// fn must not call the returned function, directly or through a deferred request (a func() T dependency), as
// that waits on itself. Deferred requests that lead back to the binding may only be called once construction
// has returned.
func Memoize[T any](fn func() (T, error)) func() (T, error) {
	var (
		mu    sync.Mutex
		done  bool
		value T
	)
	return func() (T, error) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return value, nil
		}
		v, err := fn()
		if err != nil {
			return v, err
		}
		value, done = v, true
		return value, nil
	}
}

// Scope holds the instances of the scoped bindings owned by a component instance.
type Scope struct {
	mu      sync.Mutex
	entries map[string]*scopeEntry
}

type scopeEntry struct {
	mu    sync.Mutex
	done  bool
	value any
}

// NewScope creates an empty Scope.
func NewScope() *Scope { return &Scope{entries: map[string]*scopeEntry{}} }

// Scoped returns the instance of key in scope, constructing it with fn on first use.
//
// As with [Memoize], errors are not cached. Instances of different keys are constructed independently, so a scoped
// binding may depend on another binding in the same scope. As with [Memoize], fn must not lead back to the
// same key before it returns.
func Scoped[T any](scope *Scope, key string, fn func() (T, error)) (T, error) {
	scope.mu.Lock()
	entry, ok := scope.entries[key]
	if !ok {
		entry = &scopeEntry{}
		scope.entries[key] = entry
	}
	scope.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.done {
		return entry.value.(T), nil //nolint:forcetypeassert
	}
	value, err := fn()
	if err != nil {
		return value, err
	}
	entry.value, entry.done = value, true
	return value, nil
}
