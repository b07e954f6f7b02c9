package session

import (
	"strconv"

	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/presence"
	"github.com/meszmate/gossip/internal/xmpp/roster"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
)

// whenConnected runs fn under the lock if the session is connected
func (m *Manager) whenConnected(fn func(b *batch) error) error {
	var b batch
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	err := fn(&b)
	m.mu.Unlock()

	m.flush(&b)
	return err
}

// SendMessage sends a chat message and asks the peer for composing events
func (m *Manager) SendMessage(to jid.JID, body string) error {
	return m.SendThreadMessage(to, body, "")
}

// SendThreadMessage sends a chat message within a conversation thread
func (m *Manager) SendThreadMessage(to jid.JID, body, thread string) error {
	return m.whenConnected(func(b *batch) error {
		msg := stanza.NewMessage(stanza.MessageChat, to.String(), body)
		if thread != "" {
			msg.AddTextChild("thread", thread)
		}
		msg.AddChild(stanza.NSEvent, "x").AddChild("", "composing")
		b.send(msg)
		return nil
	})
}

// SendComposing tells a contact whether we are typing. Nothing is sent
// unless the contact asked for composing events on its last message.
func (m *Manager) SendComposing(to jid.JID, typing bool) error {
	return m.whenConnected(func(b *batch) error {
		id, ok := m.eventIDs[to.BareString()]
		if !ok {
			return nil
		}
		msg := stanza.NewMessage("", to.String(), "")
		x := msg.AddChild(stanza.NSEvent, "x")
		if typing {
			x.AddChild("", "composing")
		}
		x.AddTextChild("id", id)
		b.send(msg)
		return nil
	})
}

// Presence returns our own presence
func (m *Manager) Presence() presence.Presence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ownPres
}

// SetPresence changes our availability. Offline it only takes effect at the
// next login.
func (m *Manager) SetPresence(state presence.State, status string) error {
	var b batch
	m.mu.Lock()
	m.ownPres.State = state
	m.ownPres.Status = status
	if m.state == StateConnected {
		b.send(m.presenceStanza())
	}
	m.mu.Unlock()

	m.flush(&b)
	return nil
}

// presenceStanza renders our presence broadcast. Callers hold m.mu.
func (m *Manager) presenceStanza() *stanza.Element {
	p := stanza.NewPresence(stanza.PresenceAvailable, "")
	if show := m.ownPres.State.Show(); show != "" {
		p.AddTextChild("show", show)
	}
	if m.ownPres.Status != "" {
		p.AddTextChild("status", m.ownPres.Status)
	}
	if m.ownPres.Priority != 0 {
		p.AddTextChild("priority", strconv.Itoa(m.ownPres.Priority))
	}
	return p
}

// SetSubscription answers a subscription request. Approving a contact we
// are not subscribed to also asks for its presence.
func (m *Manager) SetSubscription(contact jid.JID, subscribed bool) error {
	return m.whenConnected(func(b *batch) error {
		to := contact.BareString()
		if !subscribed {
			b.send(stanza.NewPresence(stanza.PresenceUnsubscribed, to))
			return nil
		}

		b.send(stanza.NewPresence(stanza.PresenceSubscribed, to))
		c, ok := m.cache.Get(contact)
		if !ok || c.Subscription == roster.SubscriptionNone || c.Subscription == roster.SubscriptionFrom {
			b.send(stanza.NewPresence(stanza.PresenceSubscribe, to))
		}
		return nil
	})
}

func rosterSet(contact jid.JID, name string, groups []string) *stanza.Element {
	iq := stanza.NewIQ(stanza.IQSet, "", "")
	item := iq.AddChild(stanza.NSRoster, "query").AddChild("", "item")
	item.SetAttr("jid", contact.BareString())
	item.SetAttr("name", name)
	for _, g := range groups {
		if g != "" {
			item.AddTextChild("group", g)
		}
	}
	return iq
}

// AddContact puts a contact on the roster and requests its presence
func (m *Manager) AddContact(contact jid.JID, name, group, message string) error {
	return m.whenConnected(func(b *batch) error {
		b.send(rosterSet(contact, name, []string{group}))

		sub := stanza.NewPresence(stanza.PresenceSubscribe, contact.BareString())
		if message != "" {
			sub.AddTextChild("status", message)
		}
		b.send(sub)
		return nil
	})
}

// RenameContact changes the roster name, keeping the groups
func (m *Manager) RenameContact(contact jid.JID, name string) error {
	return m.whenConnected(func(b *batch) error {
		var groups []string
		if c, ok := m.cache.Get(contact); ok {
			groups = c.Groups
		}
		b.send(rosterSet(contact, name, groups))
		return nil
	})
}

// UpdateGroups replaces the contact's roster groups
func (m *Manager) UpdateGroups(contact jid.JID, groups []string) error {
	return m.whenConnected(func(b *batch) error {
		var name string
		if c, ok := m.cache.Get(contact); ok {
			name = c.Name
		}
		b.send(rosterSet(contact, name, groups))
		return nil
	})
}

// RemoveContact cancels the subscription and removes the roster item. The
// cache changes when the server's push arrives.
func (m *Manager) RemoveContact(contact jid.JID) error {
	return m.whenConnected(func(b *batch) error {
		b.send(stanza.NewPresence(stanza.PresenceUnsubscribe, contact.BareString()))

		iq := stanza.NewIQ(stanza.IQSet, "", "")
		item := iq.AddChild(stanza.NSRoster, "query").AddChild("", "item")
		item.SetAttr("jid", contact.BareString())
		item.SetAttr("subscription", roster.SubscriptionRemove)
		b.send(iq)
		return nil
	})
}

// Contacts returns snapshots of every cached contact
func (m *Manager) Contacts() []roster.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.cache.All()
	out := make([]roster.Contact, 0, len(all))
	for _, c := range all {
		out = append(out, c.Snapshot())
	}
	return out
}

// Contact returns a snapshot of the contact for any address of the entity
func (m *Manager) Contact(j jid.JID) (roster.Contact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cache.Get(j)
	if !ok {
		return roster.Contact{}, false
	}
	return c.Snapshot(), true
}

// Resolve returns the contact for j, caching a temporary one if unseen
func (m *Manager) Resolve(j jid.JID) roster.Contact {
	var b batch
	m.mu.Lock()
	c := m.resolve(j, &b)
	snap := c.Snapshot()
	m.mu.Unlock()

	m.flush(&b)
	return snap
}

// IsComposing reports whether the contact is typing
func (m *Manager) IsComposing(j jid.JID) bool {
	return m.composing.IsComposing(j)
}
