package events

import (
	"sync"

	"github.com/google/uuid"
)

// Feed delivers values to registered subscribers in registration order.
// Emit is synchronous: it returns after every subscriber has run.
type Feed[T any] struct {
	mu   sync.RWMutex
	subs []subscription[T]
}

type subscription[T any] struct {
	id string
	fn func(T)
}

// NewFeed creates an empty feed.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{}
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (f *Feed[T]) Subscribe(fn func(T)) func() {
	id := uuid.NewString()

	f.mu.Lock()
	f.subs = append(f.subs, subscription[T]{id: id, fn: fn})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s.id == id {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every subscriber with v. Subscribers added while an Emit
// is in progress do not receive that value.
func (f *Feed[T]) Emit(v T) {
	f.mu.RLock()
	subs := make([]subscription[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// SubscriberCount returns the number of registered subscribers.
func (f *Feed[T]) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
