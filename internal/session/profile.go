package session

import (
	"strings"

	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/roster"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
)

// Profile is the subset of the vCard the client shows and edits
type Profile struct {
	FullName string
	Nickname string
}

func (p *Profile) displayName() string {
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.FullName
}

func (p *Profile) vcardSet() *stanza.Element {
	iq := stanza.NewIQ(stanza.IQSet, "", "")
	v := iq.AddChild(stanza.NSVCard, "vCard")
	if p.FullName != "" {
		v.AddTextChild("FN", p.FullName)
	}
	if p.Nickname != "" {
		v.AddTextChild("NICKNAME", p.Nickname)
	}
	return iq
}

// vcardRequest builds a vCard get for owner and remembers its id.
// Callers hold m.mu.
func (m *Manager) vcardRequest(owner jid.JID) *stanza.Element {
	to := owner.String()
	if m.isSelf(owner) {
		to = ""
	}
	iq := stanza.NewIQ(stanza.IQGet, to, "")
	iq.AddChild(stanza.NSVCard, "vCard")
	m.vcardReqs[iq.Attr("id")] = owner.Bare()
	return iq
}

// applyVCard learns a display name from a vCard result. Roster names win
// over vCard names for everybody but ourselves.
func (m *Manager) applyVCard(owner jid.JID, vcard *stanza.Element, b *batch) {
	if vcard == nil {
		return
	}
	name := strings.TrimSpace(vcard.ChildText("NICKNAME"))
	if name == "" {
		name = strings.TrimSpace(vcard.ChildText("FN"))
	}
	if name == "" {
		return
	}

	if owner.BareEqual(m.own.ID) {
		if m.own.Name != name {
			m.own.Name = name
			b.emit(events.ContactUpdated{Contact: m.own.Snapshot()})
		}
		return
	}

	contact, ok := m.cache.Get(owner)
	if !ok || contact.Kind != roster.KindTemporary || contact.Name == name {
		return
	}
	contact.Name = name
	b.emit(events.ContactUpdated{Contact: contact.Snapshot()})
}

// SetProfile publishes the profile, or keeps it until the next login when
// offline.
func (m *Manager) SetProfile(p Profile) error {
	var b batch
	m.mu.Lock()
	if m.state != StateConnected {
		m.profile = &p
		m.own.Name = p.displayName()
		m.mu.Unlock()
		return nil
	}
	b.send(p.vcardSet())
	m.own.Name = p.displayName()
	b.emit(events.ContactUpdated{Contact: m.own.Snapshot()})
	m.mu.Unlock()

	m.flush(&b)
	return nil
}

// Own returns a snapshot of the account's own contact
func (m *Manager) Own() roster.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.own.Snapshot()
}
