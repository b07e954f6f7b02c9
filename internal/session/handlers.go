package session

import (
	"runtime"
	"strings"
	"time"

	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/presence"
	"github.com/meszmate/gossip/internal/xmpp/roster"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
	"github.com/meszmate/gossip/internal/xmpp/transport"
)

// Client identity answered to jabber:iq:version requests. Version is set at
// build time with -ldflags "-X".
var (
	ClientName = "Gossip"
	Version    = "dev"
)

// resolve returns the cached contact for j, creating a temporary one and
// asking for its profile when it was never seen. Callers hold m.mu.
func (m *Manager) resolve(j jid.JID, b *batch) *roster.Contact {
	contact, created := m.cache.Ensure(j, roster.KindTemporary)
	if created && b != nil && m.conn != nil {
		b.send(m.vcardRequest(contact.ID))
	}
	return contact
}

func (m *Manager) isSelf(j jid.JID) bool {
	return !m.self.IsZero() && j.BareEqual(m.self)
}

func (m *Manager) handleMessage(el *stanza.Element) transport.Result {
	from, err := jid.Parse(el.Attr("from"))
	if err != nil {
		return transport.Continue
	}

	switch stanza.MessageTypeOf(el) {
	case stanza.MessageNormal, stanza.MessageChat, stanza.MessageHeadline:
	case stanza.MessageError:
		se, _ := stanza.ParseError(el)
		log().WithField("from", from.String()).WithField("code", se.Code).Debug("message error dropped")
		return transport.Stop
	default:
		return transport.Continue
	}

	return m.locked(func(b *batch) transport.Result {
		body := el.ChildText("body")
		x := el.ChildNS(stanza.NSEvent, "x")

		if x != nil && body == "" {
			m.onComposing(from, x.Child("composing") != nil, b)
			return transport.Stop
		}

		var invite *events.Invite
		if conf := el.ChildNS(stanza.NSConference, "x"); conf != nil {
			if room, err := jid.Parse(conf.Attr("jid")); err == nil {
				invite = &events.Invite{
					Room:     room,
					From:     from,
					Reason:   conf.Attr("reason"),
					Password: conf.Attr("password"),
				}
			}
		}

		if body == "" && invite == nil {
			return transport.Stop
		}

		if x != nil && x.Child("composing") != nil && el.Attr("id") != "" {
			m.eventIDs[from.BareString()] = el.Attr("id")
		}
		if m.composing.Stop(from) {
			b.emit(events.Composing{Contact: from.Bare(), Composing: false})
		}

		contact := m.resolve(from, b)
		b.emit(events.NewMessage{Message: events.Message{
			ID:        el.Attr("id"),
			From:      from,
			Sender:    contact.Snapshot(),
			Type:      string(stanza.MessageTypeOf(el)),
			Body:      body,
			Subject:   el.ChildText("subject"),
			Thread:    el.ChildText("thread"),
			Invite:    invite,
			Timestamp: m.timestamp(el),
		}})
		return transport.Stop
	})
}

func (m *Manager) onComposing(from jid.JID, active bool, b *batch) {
	if active {
		if m.composing.Start(from) {
			b.emit(events.Composing{Contact: from.Bare(), Composing: true})
		}
		return
	}
	if m.composing.Stop(from) {
		b.emit(events.Composing{Contact: from.Bare(), Composing: false})
	}
}

// timestamp reads delayed delivery information, falling back to now
func (m *Manager) timestamp(el *stanza.Element) time.Time {
	if d := el.ChildNS(stanza.NSDelay, "delay"); d != nil {
		if t, err := time.Parse(time.RFC3339, d.Attr("stamp")); err == nil {
			return t
		}
	}
	if d := el.ChildNS(stanza.NSLegacyDelay, "x"); d != nil {
		if t, err := time.Parse("20060102T15:04:05", d.Attr("stamp")); err == nil {
			return t
		}
	}
	return m.clock.Now()
}

func (m *Manager) handlePresence(el *stanza.Element) transport.Result {
	from, err := jid.Parse(el.Attr("from"))
	if err != nil {
		return transport.Continue
	}
	// chatroom occupants
	if el.ChildNS(stanza.NSMUCUser, "x") != nil {
		return transport.Continue
	}

	typ := stanza.PresenceTypeOf(el)
	switch typ {
	case stanza.PresenceError:
		se, _ := stanza.ParseError(el)
		log().WithField("from", from.String()).WithField("code", se.Code).Debug("presence error")
		return transport.Stop
	case stanza.PresenceSubscribed, stanza.PresenceUnsubscribed, stanza.PresenceUnsubscribe, stanza.PresenceProbe:
		return transport.Stop
	}

	return m.locked(func(b *batch) transport.Result {
		if m.isSelf(from) {
			m.applyPresence(&m.own, from, el, b)
			return transport.Stop
		}

		if typ == stanza.PresenceSubscribe {
			contact := m.resolve(from, b)
			b.emit(events.SubscriptionRequest{Contact: contact.Snapshot()})
			return transport.Stop
		}

		if typ == stanza.PresenceUnavailable {
			contact, ok := m.cache.Get(from)
			if !ok {
				return transport.Stop
			}
			m.applyPresence(contact, from, el, b)
			return transport.Stop
		}

		m.applyPresence(m.resolve(from, b), from, el, b)
		return transport.Stop
	})
}

// applyPresence folds one presence stanza into a contact's resource list
func (m *Manager) applyPresence(contact *roster.Contact, from jid.JID, el *stanza.Element, b *batch) {
	resource := from.Resource()

	if stanza.PresenceTypeOf(el) == stanza.PresenceUnavailable {
		p, ok := contact.Presences.Get(resource)
		if !ok {
			return
		}
		contact.Presences.Remove(resource)
		if contact.Presences.Len() == 0 && m.composing.Stop(contact.ID) {
			b.emit(events.Composing{Contact: contact.ID, Composing: false})
		}
		b.emit(events.PresenceChanged{Contact: contact.Snapshot(), Presence: p, Offline: true})
		return
	}

	p := presence.Presence{
		State:    presence.StateFromShow(strings.TrimSpace(el.ChildText("show"))),
		Status:   el.ChildText("status"),
		Resource: resource,
		Priority: presence.ParsePriority(strings.TrimSpace(el.ChildText("priority"))),
	}
	contact.Presences.Set(p)
	b.emit(events.PresenceChanged{Contact: contact.Snapshot(), Presence: p})
}

func (m *Manager) handleIQ(el *stanza.Element) transport.Result {
	return m.locked(func(b *batch) transport.Result {
		typ := stanza.IQTypeOf(el)
		ns := stanza.QueryNS(el)

		switch typ {
		case stanza.IQResult, stanza.IQError:
			return m.onIQResponse(el, b)
		case stanza.IQGet, stanza.IQSet:
		default:
			return transport.Continue
		}

		switch {
		case ns == stanza.NSRoster && typ == stanza.IQSet:
			if !m.trustedPush(el) {
				log().WithField("from", el.Attr("from")).Warn("ignoring roster push from foreign address")
				return transport.Stop
			}
			m.syncRoster(stanza.Payload(el), b)
			b.send(stanza.Result(el))
		case ns == stanza.NSVersion && typ == stanza.IQGet:
			b.send(m.versionReply(el))
		default:
			b.send(stanza.ErrorReply(el, stanza.ErrServiceUnavailable))
		}
		return transport.Stop
	})
}

// trustedPush reports whether a roster push came from our own account
func (m *Manager) trustedPush(el *stanza.Element) bool {
	from := el.Attr("from")
	if from == "" {
		return true
	}
	j, err := jid.Parse(from)
	if err != nil {
		return false
	}
	return m.isSelf(j) || (j.Node() == "" && j.Domain() == m.account.JID.Domain())
}

func (m *Manager) onIQResponse(el *stanza.Element, b *batch) transport.Result {
	id := el.Attr("id")

	if m.conn != nil && id != "" && id == m.conn.rosterID {
		m.conn.rosterID = ""
		if stanza.IQTypeOf(el) == stanza.IQResult {
			m.syncRoster(stanza.Payload(el), b)
		} else {
			log().Warn("roster request failed")
		}
		return transport.Stop
	}

	if owner, ok := m.vcardReqs[id]; ok {
		delete(m.vcardReqs, id)
		if stanza.IQTypeOf(el) == stanza.IQResult {
			m.applyVCard(owner, el.ChildNS(stanza.NSVCard, "vCard"), b)
		}
		return transport.Stop
	}

	return transport.Continue
}

// syncRoster applies every <item/> of a roster result or push
func (m *Manager) syncRoster(query *stanza.Element, b *batch) {
	if query == nil {
		return
	}
	for _, el := range query.ChildrenNamed("item") {
		j, err := jid.Parse(el.Attr("jid"))
		if err != nil {
			log().WithField("jid", el.Attr("jid")).Debug("skipping roster item")
			continue
		}

		name, hasName := el.AttrOK("name")
		item := roster.Item{
			JID:          j.Bare(),
			Name:         name,
			HasName:      hasName,
			Subscription: el.Attr("subscription"),
			Ask:          el.Attr("ask"),
		}
		for _, g := range el.ChildrenNamed("group") {
			item.Groups = append(item.Groups, strings.TrimSpace(g.Text))
		}

		contact, change := m.cache.Apply(item)
		switch change {
		case roster.ChangeAdded:
			b.emit(events.ContactAdded{Contact: contact.Snapshot()})
		case roster.ChangeUpdated:
			b.emit(events.ContactUpdated{Contact: contact.Snapshot()})
		case roster.ChangeDemoted:
			b.emit(events.ContactRemoved{Contact: contact.Snapshot()})
		case roster.ChangeRemoved:
			if m.composing.Stop(contact.ID) {
				b.emit(events.Composing{Contact: contact.ID, Composing: false})
			}
			b.emit(events.ContactRemoved{Contact: contact.Snapshot(), Evicted: true})
		}
	}
}

func (m *Manager) versionReply(req *stanza.Element) *stanza.Element {
	res := stanza.Result(req)
	q := res.AddChild(stanza.NSVersion, "query")
	q.AddTextChild("name", ClientName)
	q.AddTextChild("version", Version)
	q.AddTextChild("os", runtime.GOOS)
	return res
}
