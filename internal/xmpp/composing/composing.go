// Package composing tracks "is typing" notifications per contact and clears
// them after a timeout.
package composing

import (
	"sync"
	"time"

	"github.com/meszmate/gossip/internal/clock"
	"github.com/meszmate/gossip/internal/jid"
)

// DefaultTimeout is how long a composing notification stays valid without
// a refresh.
const DefaultTimeout = 45 * time.Second

type entry struct {
	timer clock.Timer
	gen   uint64
}

// Tracker holds one timer per contact. A repeated notification replaces the
// previous timer, so the most recent notification always wins.
type Tracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	timeout time.Duration
	onStop  func(contact jid.JID)
	gen     uint64
	timers  map[string]entry
	ids     map[string]jid.JID
}

// New creates a tracker. onStop runs when a timer expires, outside the
// tracker's lock.
func New(c clock.Clock, timeout time.Duration, onStop func(contact jid.JID)) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		clock:   c,
		timeout: timeout,
		onStop:  onStop,
		timers:  make(map[string]entry),
		ids:     make(map[string]jid.JID),
	}
}

// Start records a composing notification and reports whether the contact
// was not composing before.
func (t *Tracker) Start(contact jid.JID) bool {
	key := contact.BareString()

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, existed := t.timers[key]
	if existed {
		prev.timer.Stop()
	}

	t.gen++
	gen := t.gen
	timer := t.clock.AfterFunc(t.timeout, func() { t.expire(key, gen) })
	t.timers[key] = entry{timer: timer, gen: gen}
	t.ids[key] = contact.Bare()

	return !existed
}

// Stop clears the contact's timer and reports whether one was running.
func (t *Tracker) Stop(contact jid.JID) bool {
	key := contact.BareString()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.timers, key)
	delete(t.ids, key)
	return true
}

// IsComposing reports whether a timer is running for the contact
func (t *Tracker) IsComposing(contact jid.JID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[contact.BareString()]
	return ok
}

// Len returns the number of running timers
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Clear cancels every timer without notifying
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.timers {
		e.timer.Stop()
	}
	t.timers = make(map[string]entry)
	t.ids = make(map[string]jid.JID)
}

func (t *Tracker) expire(key string, gen uint64) {
	t.mu.Lock()
	e, ok := t.timers[key]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	contact := t.ids[key]
	delete(t.timers, key)
	delete(t.ids, key)
	t.mu.Unlock()

	if t.onStop != nil {
		t.onStop(contact)
	}
}
