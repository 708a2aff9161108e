// Package events is a small typed publish/subscribe bus.
//
// Observers are notified synchronously, in subscription order, on the publisher's goroutine.
// An observer must not block; hand work off to a goroutine or a channel if needed.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Observer receives events of type E
type Observer[E any] interface {
	Notify(event E)
}

// ObserverFunc allows to use a plain function as Observer
type ObserverFunc[E any] func(event E)

func (f ObserverFunc[E]) Notify(event E) { f(event) }

type subscription[E any] struct {
	id       uuid.UUID
	observer Observer[E]
}

type Bus[E any] struct {
	mu   sync.RWMutex
	subs []subscription[E]
}

func NewBus[E any]() *Bus[E] {
	return &Bus[E]{}
}

// Subscribe registers observer and returns function to unsubscribe it.
// Calling unsubscribe more than once is a no-op
func (b *Bus[E]) Subscribe(o Observer[E]) (unsubscribe func()) {
	id := uuid.New()

	b.mu.Lock()
	b.subs = append(b.subs, subscription[E]{id: id, observer: o})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[E]) remove(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish notifies every observer subscribed at the moment of the call
func (b *Bus[E]) Publish(event E) {
	b.mu.RLock()
	subs := make([]subscription[E], len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.observer.Notify(event)
	}
}

// Len returns number of active subscriptions
func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
