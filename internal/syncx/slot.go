package syncx

import "sync"

// Slot is a single-value handoff where a newer Put overwrites an unread value.
// Ready is signalled after every Put; a receiver that wakes on Ready must still
// check Take's ok result since the value may already have been taken.
type Slot[T any] struct {
	mu    sync.Mutex
	value T
	full  bool
	ready chan struct{}
}

// NewSlot creates an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ready: make(chan struct{}, 1)}
}

// Put stores v, returning the unread value it replaced, if any.
func (s *Slot[T]) Put(v T) (old T, replaced bool) {
	s.mu.Lock()
	old, replaced = s.value, s.full
	s.value, s.full = v, true
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return old, replaced
}

// Take empties the slot. ok is false when there was nothing unread.
func (s *Slot[T]) Take() (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	v, ok = s.value, s.full
	s.value, s.full = zero, false
	return v, ok
}

// pending reports whether an unread value is present.
func (s *Slot[T]) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full
}

// Ready is signalled when a value has been put.
func (s *Slot[T]) Ready() <-chan struct{} { return s.ready }
