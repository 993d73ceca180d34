// Package memo provides a permanent per-key single-flight cache: the first
// request for a key starts exactly one computation and every later or
// concurrent request for that key observes its outcome, success or failure.
package memo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
)

// ErrPanicked is recorded as the outcome of a computation that panicked.
var ErrPanicked = errors.New("memo: computation panicked")

type entry[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Group memoizes computations by string key for its whole lifetime.
type Group[V any] struct {
	name string

	mu      sync.Mutex
	entries map[string]*entry[V]
}

// New creates an empty group. The name labels cache metrics.
func New[V any](name string) *Group[V] {
	return &Group[V]{
		name:    name,
		entries: make(map[string]*entry[V]),
	}
}

// Do returns the outcome for key, starting fn if no computation exists yet.
//
// The entry is registered before fn starts, so concurrent callers never start
// a second computation. fn runs on its own goroutine with a context detached
// from the caller's cancellation; a caller whose ctx ends stops waiting
// without affecting the computation or its memoized outcome.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	g.mu.Lock()
	e, ok := g.entries[key]
	if !ok {
		e = &entry[V]{done: make(chan struct{})}
		g.entries[key] = e
	}
	g.mu.Unlock()

	metrics.RecordCacheLookup(g.name, ok)
	if !ok {
		go e.run(context.WithoutCancel(ctx), fn)
	}

	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (e *entry[V]) run(ctx context.Context, fn func(ctx context.Context) (V, error)) {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			e.err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	e.val, e.err = fn(ctx)
}

// Len returns the number of keys ever requested.
func (g *Group[V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
