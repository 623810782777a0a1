// Package syncx holds the small concurrency primitives the pipeline shares
// between its acquisition and processing roles.
package syncx

import "sync"

// RWGuard is a value readable from any goroutine. T should be a value type;
// Get hands out copies.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Transition moves the value to next(current) when next accepts, atomically
// with respect to other writers. It returns the value it started from.
func (g *RWGuard[T]) Transition(next func(T) (T, bool)) (prev T, changed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev = g.value
	v, ok := next(prev)
	if ok {
		g.value = v
	}
	return prev, ok
}
