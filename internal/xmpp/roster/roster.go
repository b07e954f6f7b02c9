package roster

import (
	"sort"

	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/presence"
)

// Subscription represents the subscription state
type Subscription int

const (
	SubscriptionNone Subscription = iota
	SubscriptionTo
	SubscriptionFrom
	SubscriptionBoth
)

// SubscriptionRemove is the roster item value requesting eviction
const SubscriptionRemove = "remove"

// String returns the wire value
func (s Subscription) String() string {
	switch s {
	case SubscriptionTo:
		return "to"
	case SubscriptionFrom:
		return "from"
	case SubscriptionBoth:
		return "both"
	default:
		return "none"
	}
}

// ParseSubscription maps a roster item subscription attribute. Missing or
// unknown values count as none.
func ParseSubscription(s string) Subscription {
	switch s {
	case "to":
		return SubscriptionTo
	case "from":
		return SubscriptionFrom
	case "both":
		return SubscriptionBoth
	default:
		return SubscriptionNone
	}
}

// Kind classifies a contact
type Kind int

const (
	KindUser Kind = iota
	KindContactListEntry
	KindTemporary
	KindChatroom
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindContactListEntry:
		return "contact-list"
	case KindTemporary:
		return "temporary"
	case KindChatroom:
		return "chatroom"
	default:
		return "unknown"
	}
}

// Contact is a cached roster or ad-hoc contact, keyed by bare JID
type Contact struct {
	ID           jid.JID
	Name         string
	Kind         Kind
	Subscription Subscription
	Groups       []string
	Presences    presence.List
}

// DisplayName returns the name, falling back to the bare JID
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID.String()
}

// IsOnline reports whether any resource is available
func (c *Contact) IsOnline() bool {
	return c.Presences.Len() > 0
}

// SetGroups replaces the group set and reports whether it changed
func (c *Contact) SetGroups(groups []string) bool {
	next := normalizeGroups(groups)
	if equalStrings(c.Groups, next) {
		return false
	}
	c.Groups = next
	return true
}

// InGroup reports group membership
func (c *Contact) InGroup(group string) bool {
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy safe to hand to other goroutines
func (c *Contact) Snapshot() Contact {
	s := *c
	s.Groups = append([]string(nil), c.Groups...)
	s.Presences = c.Presences.Clone()
	return s
}

func normalizeGroups(groups []string) []string {
	seen := make(map[string]bool, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
