package transport

import (
	"sort"
	"sync"

	"github.com/meszmate/gossip/internal/xmpp/stanza"
)

// Result tells the registry whether later handlers should see a stanza
type Result int

const (
	// Continue lets the next handler inspect the stanza
	Continue Result = iota
	// Stop ends dispatch for the stanza
	Stop
)

// Priority orders handlers registered for the same stanza kind. Lower
// values run first.
type Priority int

const (
	PriorityFirst  Priority = 1
	PriorityNormal Priority = 2
	PriorityLast   Priority = 3
)

// A Handler inspects incoming stanzas
type Handler interface {
	HandleStanza(el *stanza.Element) Result
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions
// as stanza handlers.
type HandlerFunc func(el *stanza.Element) Result

// HandleStanza calls f(el).
func (f HandlerFunc) HandleStanza(el *stanza.Element) Result {
	return f(el)
}

type registration struct {
	seq      int
	priority Priority
	handler  Handler
}

// Registry dispatches stanzas to handlers keyed by stanza kind and priority.
// Handlers at the same priority run in registration order.
type Registry struct {
	mu       sync.RWMutex
	seq      int
	handlers map[stanza.Kind][]registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[stanza.Kind][]registration)}
}

// Register adds a handler and returns a function removing it
func (r *Registry) Register(kind stanza.Kind, priority Priority, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	seq := r.seq
	list := append(r.handlers[kind], registration{seq: seq, priority: priority, handler: h})
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority < list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	r.handlers[kind] = list

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.handlers[kind]
		for i, reg := range list {
			if reg.seq == seq {
				r.handlers[kind] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Dispatch runs handlers for the stanza's kind until one returns Stop
func (r *Registry) Dispatch(el *stanza.Element) Result {
	r.mu.RLock()
	list := append([]registration(nil), r.handlers[stanza.KindOf(el)]...)
	r.mu.RUnlock()

	for _, reg := range list {
		if reg.handler.HandleStanza(el) == Stop {
			return Stop
		}
	}
	return Continue
}

// Len returns the number of handlers for a kind
func (r *Registry) Len(kind stanza.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[kind])
}

// Reset drops every handler
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[stanza.Kind][]registration)
}
