// Package flight provides a keyed, memoizing cache whose initializers run at
// most once per key even under concurrent callers.
package flight

import (
	"context"
	"fmt"
	"sync"
)

// FailurePolicy decides what happens to a slot whose initializer failed.
type FailurePolicy int

const (
	// RetryFailures resets a failed slot so the next caller runs the
	// initializer again. Callers already waiting on the failed attempt all
	// receive its error.
	RetryFailures FailurePolicy = iota
	// CacheFailures keeps the first error for the lifetime of the cache.
	CacheFailures
)

func (p FailurePolicy) String() string {
	switch p {
	case RetryFailures:
		return "retry"
	case CacheFailures:
		return "cache"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// Cache maps keys to lazily populated slots. Slots are never evicted.
type Cache[K comparable, V any] struct {
	policy FailurePolicy

	mu    sync.Mutex
	slots map[K]*Slot[V]
}

// New creates an empty cache using the given failure policy.
func New[K comparable, V any](policy FailurePolicy) *Cache[K, V] {
	return &Cache[K, V]{
		policy: policy,
		slots:  make(map[K]*Slot[V]),
	}
}

// Get returns the slot for key, creating an empty one on first use.
func (c *Cache[K, V]) Get(key K) *Slot[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[key]
	if !ok {
		slot = &Slot[V]{policy: c.policy}
		c.slots[key] = slot
	}
	return slot
}

// Len returns the number of slots created so far.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// SlotState describes where a slot is in its lifecycle.
type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotInFlight
	SlotResolved
	SlotFailed
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotInFlight:
		return "in-flight"
	case SlotResolved:
		return "resolved"
	case SlotFailed:
		return "failed"
	default:
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
}

// Slot holds one lazily computed value.
type Slot[V any] struct {
	policy FailurePolicy

	mu   sync.Mutex
	call *call[V]
}

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// GetOrTryInit returns the slot's value, running init if no attempt is
// resolved or in flight. Concurrent callers share a single init run and all
// observe its value or its error.
//
// init runs detached from the caller's cancellation so one impatient caller
// cannot fail the attempt for everybody else. A caller whose ctx ends stops
// waiting and gets ctx.Err(); the attempt continues for the rest.
func (s *Slot[V]) GetOrTryInit(ctx context.Context, init func(ctx context.Context) (V, error)) (V, error) {
	s.mu.Lock()
	c := s.call
	if c == nil {
		c = &call[V]{done: make(chan struct{})}
		s.call = c
		go s.run(context.WithoutCancel(ctx), c, init)
	}
	s.mu.Unlock()

	select {
	case <-c.done:
		return c.val, c.err
	default:
	}
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Peek returns the resolved value without starting an initializer.
func (s *Slot[V]) Peek() (V, bool) {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	var zero V
	if c == nil {
		return zero, false
	}
	select {
	case <-c.done:
		if c.err != nil {
			return zero, false
		}
		return c.val, true
	default:
		return zero, false
	}
}

// State reports the slot's current lifecycle state.
func (s *Slot[V]) State() SlotState {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil {
		return SlotEmpty
	}
	select {
	case <-c.done:
		if c.err != nil {
			return SlotFailed
		}
		return SlotResolved
	default:
		return SlotInFlight
	}
}

func (s *Slot[V]) run(ctx context.Context, c *call[V], init func(ctx context.Context) (V, error)) {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			var zero V
			c.val = zero
			c.err = fmt.Errorf("flight: initializer panicked: %v", r)
		}
		if c.err != nil && s.policy == RetryFailures {
			s.mu.Lock()
			if s.call == c {
				s.call = nil
			}
			s.mu.Unlock()
		}
	}()
	c.val, c.err = init(ctx)
}
