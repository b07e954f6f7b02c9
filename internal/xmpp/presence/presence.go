package presence

import (
	"sort"
	"strconv"
)

// State is the availability of a single resource
type State int

const (
	Available State = iota
	Busy
	Away
	ExtendedAway
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Busy:
		return "busy"
	case Away:
		return "away"
	case ExtendedAway:
		return "xa"
	default:
		return "unknown"
	}
}

// Show returns the value of the <show/> element for the state. Available has
// no show element.
func (s State) Show() string {
	switch s {
	case Busy:
		return "dnd"
	case Away:
		return "away"
	case ExtendedAway:
		return "xa"
	default:
		return ""
	}
}

// StateFromShow converts a <show/> value to a State. Unknown values and
// "chat" count as available.
func StateFromShow(show string) State {
	switch show {
	case "dnd":
		return Busy
	case "away":
		return Away
	case "xa":
		return ExtendedAway
	default:
		return Available
	}
}

// ParseState parses a state name as used in configuration and commands
func ParseState(s string) (State, bool) {
	switch s {
	case "available", "online", "":
		return Available, true
	case "busy", "dnd":
		return Busy, true
	case "away":
		return Away, true
	case "xa", "extended-away":
		return ExtendedAway, true
	default:
		return Available, false
	}
}

// Presence is the availability of one resource
type Presence struct {
	State    State
	Status   string
	Resource string
	Priority int
}

// New returns an available presence for the given resource
func New(resource string) Presence {
	return Presence{State: Available, Resource: resource}
}

// ParsePriority parses the text of a <priority/> element. XMPP priorities
// range from -128 to 127; out of range or malformed values yield 0.
func ParsePriority(s string) int {
	p, err := strconv.Atoi(s)
	if err != nil || p < -128 || p > 127 {
		return 0
	}
	return p
}

// List holds at most one presence per resource, ordered by priority with the
// highest first. Equal priorities keep arrival order.
type List struct {
	items []Presence
}

// Set inserts p, replacing any presence with the same resource
func (l *List) Set(p Presence) {
	l.Remove(p.Resource)

	i := sort.Search(len(l.items), func(i int) bool {
		return l.items[i].Priority < p.Priority
	})
	l.items = append(l.items, Presence{})
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = p
}

// Remove drops the presence for resource and reports whether one existed
func (l *List) Remove(resource string) bool {
	for i, p := range l.items {
		if p.Resource == resource {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the presence for resource
func (l *List) Get(resource string) (Presence, bool) {
	for _, p := range l.items {
		if p.Resource == resource {
			return p, true
		}
	}
	return Presence{}, false
}

// Best returns the most relevant presence
func (l *List) Best() (Presence, bool) {
	if len(l.items) == 0 {
		return Presence{}, false
	}
	return l.items[0], true
}

// Len returns the number of resources
func (l *List) Len() int {
	return len(l.items)
}

// All returns a copy of the ordered presences
func (l *List) All() []Presence {
	out := make([]Presence, len(l.items))
	copy(out, l.items)
	return out
}

// Clear drops every presence
func (l *List) Clear() {
	l.items = nil
}

// Clone returns an independent copy
func (l *List) Clone() List {
	return List{items: l.All()}
}
