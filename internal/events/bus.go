package events

import (
	"sync"
)

// Handler handles one event
type Handler func(Event)

// Publisher is what engine components emit through
type Publisher interface {
	Publish(Event)
}

// Bus handles event subscription and publishing. Handlers run synchronously
// on the publishing goroutine, in subscription order, so observers see
// events in the order the engine produced them.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Type][]subscription
	all      []subscription
}

type subscription struct {
	id      int
	handler Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]subscription),
	}
}

// Subscribe subscribes to an event type and returns an unsubscribe function
func (b *Bus) Subscribe(t Type, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[t] = remove(b.handlers[t], id)
	}
}

// SubscribeAll subscribes to every event
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// Publish publishes an event to all subscribers
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	typed := append([]subscription(nil), b.handlers[e.Type()]...)
	all := append([]subscription(nil), b.all...)
	b.mu.RUnlock()

	for _, s := range typed {
		s.handler(e)
	}
	for _, s := range all {
		s.handler(e)
	}
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Type][]subscription)
	b.all = nil
}

func remove(subs []subscription, id int) []subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Recorder collects published events. Tests use it as a Publisher.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records e
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of type t
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
