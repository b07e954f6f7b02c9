package roster

import (
	"sort"

	"github.com/meszmate/gossip/internal/jid"
)

// Item is one <item/> of a roster result or push
type Item struct {
	JID          jid.JID
	Name         string
	HasName      bool
	Subscription string
	Ask          string
	Groups       []string
}

// Change describes what applying a roster item did to the cache
type Change int

const (
	ChangeNone Change = iota
	// ChangeAdded means the contact was created or promoted into the list
	ChangeAdded
	// ChangeUpdated means fields changed without a kind transition
	ChangeUpdated
	// ChangeDemoted means the contact left the list but stays cached
	ChangeDemoted
	// ChangeRemoved means the contact was evicted from the cache
	ChangeRemoved
)

// Cache maps bare JIDs to contacts. It is owned by the session manager,
// which serializes access.
type Cache struct {
	contacts map[string]*Contact
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{contacts: make(map[string]*Contact)}
}

// Get returns the contact for any address of the entity
func (c *Cache) Get(j jid.JID) (*Contact, bool) {
	contact, ok := c.contacts[j.BareString()]
	return contact, ok
}

// Ensure returns the cached contact, creating it with the given kind if absent
func (c *Cache) Ensure(j jid.JID, kind Kind) (*Contact, bool) {
	bare := j.Bare()
	if contact, ok := c.contacts[bare.String()]; ok {
		return contact, false
	}
	contact := &Contact{ID: bare, Kind: kind}
	c.contacts[bare.String()] = contact
	return contact, true
}

// Remove evicts a contact
func (c *Cache) Remove(j jid.JID) (*Contact, bool) {
	key := j.BareString()
	contact, ok := c.contacts[key]
	if ok {
		delete(c.contacts, key)
	}
	return contact, ok
}

// Len returns the number of cached contacts
func (c *Cache) Len() int {
	return len(c.contacts)
}

// All returns contacts sorted by bare JID
func (c *Cache) All() []*Contact {
	out := make([]*Contact, 0, len(c.contacts))
	for _, contact := range c.contacts {
		out = append(out, contact)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Clear empties the cache and returns what it held, sorted by bare JID
func (c *Cache) Clear() []*Contact {
	all := c.All()
	c.contacts = make(map[string]*Contact)
	return all
}

// Groups returns all unique groups
func (c *Cache) Groups() []string {
	set := make(map[string]bool)
	for _, contact := range c.contacts {
		for _, g := range contact.Groups {
			set[g] = true
		}
	}
	groups := make([]string, 0, len(set))
	for g := range set {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// ByGroup returns contacts in a group
func (c *Cache) ByGroup(group string) []*Contact {
	var out []*Contact
	for _, contact := range c.All() {
		if contact.InGroup(group) {
			out = append(out, contact)
		}
	}
	return out
}

// Apply folds a roster item into the cache. A push is authoritative: groups
// are replaced, not merged. The returned contact is nil only when an item
// removed an address that was never cached.
func (c *Cache) Apply(item Item) (*Contact, Change) {
	if item.Subscription == SubscriptionRemove {
		contact, ok := c.Remove(item.JID)
		if !ok {
			return nil, ChangeNone
		}
		return contact, ChangeRemoved
	}

	contact, created := c.Ensure(item.JID, KindTemporary)
	changed := contact.SetGroups(item.Groups)

	sub := ParseSubscription(item.Subscription)
	if contact.Subscription != sub {
		contact.Subscription = sub
		changed = true
	}

	if item.HasName && contact.Name != item.Name {
		contact.Name = item.Name
		changed = true
	}

	prev := contact.Kind
	if prev == KindContactListEntry || prev == KindTemporary {
		if sub != SubscriptionNone {
			contact.Kind = KindContactListEntry
		} else {
			contact.Kind = KindTemporary
		}
	}

	switch {
	case created:
		return contact, ChangeAdded
	case prev == KindTemporary && contact.Kind == KindContactListEntry:
		return contact, ChangeAdded
	case prev == KindContactListEntry && contact.Kind == KindTemporary:
		return contact, ChangeDemoted
	case changed:
		return contact, ChangeUpdated
	default:
		return contact, ChangeNone
	}
}
