// Package pipeline connects the sensing, control and display stages.
package pipeline

import "sync"

// Slot is a single-value overwrite queue: Put replaces any unread value and
// never blocks. Safe for concurrent use.
type Slot[T any] struct {
	mu     sync.Mutex
	value  T
	fresh  bool
	closed bool
	ready  chan struct{}

	overwritten uint64
}

// NewSlot creates an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{
		ready: make(chan struct{}, 1),
	}
}

// Put stores v, discarding any value not yet taken.
func (s *Slot[T]) Put(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.fresh {
		s.overwritten++
	}
	s.value = v
	s.fresh = true
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready signals when a value may be available. Use with Take in a select.
func (s *Slot[T]) Ready() <-chan struct{} {
	return s.ready
}

// Take returns the latest value if one arrived since the last Take.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		var zero T
		return zero, false
	}
	s.fresh = false
	return s.value, true
}

// Overwritten returns how many values were replaced before being taken.
func (s *Slot[T]) Overwritten() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overwritten
}

// Close stops further puts. A value already stored can still be taken.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
