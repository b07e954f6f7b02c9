package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/composing"
	"github.com/meszmate/gossip/internal/xmpp/presence"
	"github.com/meszmate/gossip/internal/xmpp/roster"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
	"github.com/meszmate/gossip/internal/xmpp/transport/transporttest"
)

func TestChatMessage(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<message from="alice@example.com/phone" type="chat" id="m1">` +
		`<body>hello</body><thread>t1</thread></message>`)

	msgs := h.rec.OfType(events.TypeNewMessage)
	require.Len(t, msgs, 1)
	msg := msgs[0].(events.NewMessage).Message
	assert.Equal(t, "alice@example.com", msg.Sender.ID.String())
	assert.Equal(t, "alice@example.com/phone", msg.From.String())
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, "t1", msg.Thread)
	assert.Equal(t, string(stanza.MessageChat), msg.Type)
	assert.Equal(t, h.clock.Now(), msg.Timestamp)
	assert.Equal(t, roster.KindTemporary, msg.Sender.Kind)

	// an unseen sender gets its profile requested
	vcards := h.fake.SentMatching(transporttest.IQType(stanza.IQGet, stanza.NSVCard))
	require.Len(t, vcards, 1)
	assert.Equal(t, "alice@example.com", vcards[0].Attr("to"))
}

func TestMessageFiltering(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<message from="alice@example.com/phone" type="chat"/>`)
	h.fake.DeliverXML(`<message from="alice@example.com/phone" type="error"><body>x</body></message>`)
	h.fake.DeliverXML(`<message from="room@conf.example.com/bob" type="groupchat"><body>x</body></message>`)
	h.fake.DeliverXML(`<message from="" type="chat"><body>x</body></message>`)

	assert.Empty(t, h.rec.Events())
}

func TestInviteWithoutBody(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<message from="bob@example.com/pc">` +
		`<x xmlns="jabber:x:conference" jid="room@conf.example.com" reason="talk"/></message>`)

	msgs := h.rec.OfType(events.TypeNewMessage)
	require.Len(t, msgs, 1)
	inv := msgs[0].(events.NewMessage).Message.Invite
	require.NotNil(t, inv)
	assert.Equal(t, "room@conf.example.com", inv.Room.String())
	assert.Equal(t, "talk", inv.Reason)
	assert.Equal(t, string(stanza.MessageNormal), msgs[0].(events.NewMessage).Message.Type)
}

func TestDelayedMessage(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<message from="alice@example.com/phone" type="chat"><body>old</body>` +
		`<delay xmlns="urn:xmpp:delay" stamp="2025-12-24T18:30:00Z"/></message>`)
	h.fake.DeliverXML(`<message from="alice@example.com/phone" type="chat"><body>older</body>` +
		`<x xmlns="jabber:x:delay" stamp="20021224T18:30:00"/></message>`)

	msgs := h.rec.OfType(events.TypeNewMessage)
	require.Len(t, msgs, 2)
	assert.Equal(t, time.Date(2025, 12, 24, 18, 30, 0, 0, time.UTC), msgs[0].(events.NewMessage).Message.Timestamp)
	assert.Equal(t, time.Date(2002, 12, 24, 18, 30, 0, 0, time.UTC), msgs[1].(events.NewMessage).Message.Timestamp)
}

func TestComposingTimeout(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<message from="alice@example.com/phone">` +
		`<x xmlns="jabber:x:event"><composing/><id>m1</id></x></message>`)

	evs := h.rec.OfType(events.TypeComposing)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].(events.Composing).Composing)
	assert.True(t, h.m.IsComposing(jid.MustParse("alice@example.com")))
	assert.Empty(t, h.rec.OfType(events.TypeNewMessage))

	h.clock.Advance(composing.DefaultTimeout)

	evs = h.rec.OfType(events.TypeComposing)
	require.Len(t, evs, 2)
	stop := evs[1].(events.Composing)
	assert.False(t, stop.Composing)
	assert.Equal(t, "alice@example.com", stop.Contact.String())
	assert.False(t, h.m.IsComposing(jid.MustParse("alice@example.com")))

	h.clock.Advance(time.Hour)
	assert.Len(t, h.rec.OfType(events.TypeComposing), 2)
}

func TestComposingTimeoutWaitsForDispatch(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.fake.DeliverXML(`<message from="alice@example.com/phone"><x xmlns="jabber:x:event"><composing/></x></message>`)
	require.Len(t, h.rec.OfType(events.TypeComposing), 1)

	h.m.dispatch.Lock()
	fired := make(chan struct{})
	go func() {
		h.clock.Advance(composing.DefaultTimeout)
		close(fired)
	}()

	assert.Never(t, func() bool {
		return len(h.rec.OfType(events.TypeComposing)) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	h.m.dispatch.Unlock()
	<-fired
	evs := h.rec.OfType(events.TypeComposing)
	require.Len(t, evs, 2)
	assert.False(t, evs[1].(events.Composing).Composing)
}

func TestComposingTimeoutAfterDisconnect(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.fake.DeliverXML(`<message from="alice@example.com/phone"><x xmlns="jabber:x:event"><composing/></x></message>`)

	h.m.dispatch.Lock()
	fired := make(chan struct{})
	go func() {
		h.clock.Advance(composing.DefaultTimeout)
		close(fired)
	}()
	require.Eventually(t, func() bool {
		return !h.m.IsComposing(jid.MustParse("alice@example.com"))
	}, time.Second, time.Millisecond)

	h.fake.Drop(nil)
	h.m.dispatch.Unlock()
	<-fired

	assert.Len(t, h.rec.OfType(events.TypeComposing), 1)
}

func TestComposingStoppedExplicitly(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<message from="alice@example.com/phone"><x xmlns="jabber:x:event"><composing/></x></message>`)
	h.fake.DeliverXML(`<message from="alice@example.com/phone"><x xmlns="jabber:x:event"><id>m1</id></x></message>`)

	evs := h.rec.OfType(events.TypeComposing)
	require.Len(t, evs, 2)
	assert.False(t, evs[1].(events.Composing).Composing)

	h.clock.Advance(time.Minute)
	assert.Len(t, h.rec.OfType(events.TypeComposing), 2)
}

func TestMessageEndsComposing(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<message from="alice@example.com/phone"><x xmlns="jabber:x:event"><composing/></x></message>`)
	h.fake.DeliverXML(`<message from="alice@example.com/phone" type="chat"><body>done</body></message>`)

	assert.Equal(t, []events.Type{
		events.TypeComposing,
		events.TypeComposing,
		events.TypeNewMessage,
	}, eventTypes(h.rec.Events()))
}

func TestPresenceOrdering(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<presence from="alice@example.com/a"><priority>5</priority></presence>`)
	h.fake.DeliverXML(`<presence from="alice@example.com/b"><priority>30</priority><show>dnd</show><status>busy</status></presence>`)
	h.fake.DeliverXML(`<presence from="alice@example.com/c"><priority>-1</priority></presence>`)

	contact, ok := h.m.Contact(jid.MustParse("alice@example.com"))
	require.True(t, ok)
	require.Equal(t, 3, contact.Presences.Len())

	best, _ := contact.Presences.Best()
	assert.Equal(t, 30, best.Priority)
	assert.Equal(t, "b", best.Resource)
	assert.Equal(t, presence.Busy, best.State)
	assert.Equal(t, "busy", best.Status)
	assert.Len(t, h.rec.OfType(events.TypePresenceChanged), 3)
}

func TestPresenceReplacedPerResource(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<presence from="alice@example.com/a"><show>away</show></presence>`)
	h.fake.DeliverXML(`<presence from="alice@example.com/a"><show>xa</show></presence>`)

	contact, _ := h.m.Contact(jid.MustParse("alice@example.com"))
	require.Equal(t, 1, contact.Presences.Len())
	best, _ := contact.Presences.Best()
	assert.Equal(t, presence.ExtendedAway, best.State)
}

func TestUnavailable(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<presence from="alice@example.com/a"/>`)
	h.fake.DeliverXML(`<presence from="alice@example.com/b"/>`)
	h.rec.Reset()

	h.fake.DeliverXML(`<presence from="alice@example.com/a" type="unavailable"/>`)
	h.fake.DeliverXML(`<presence from="alice@example.com/zzz" type="unavailable"/>`)
	h.fake.DeliverXML(`<presence from="nobody@example.com/x" type="unavailable"/>`)

	changes := h.rec.OfType(events.TypePresenceChanged)
	require.Len(t, changes, 1)
	pc := changes[0].(events.PresenceChanged)
	assert.True(t, pc.Offline)
	assert.Equal(t, "a", pc.Presence.Resource)

	contact, _ := h.m.Contact(jid.MustParse("alice@example.com"))
	assert.Equal(t, 1, contact.Presences.Len())
	_, ok := h.m.Contact(jid.MustParse("nobody@example.com"))
	assert.False(t, ok)
}

func TestOfflineEndsComposing(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<presence from="alice@example.com/a"/>`)
	h.fake.DeliverXML(`<message from="alice@example.com/a"><x xmlns="jabber:x:event"><composing/></x></message>`)
	h.rec.Reset()

	h.fake.DeliverXML(`<presence from="alice@example.com/a" type="unavailable"/>`)

	assert.Equal(t, []events.Type{events.TypeComposing, events.TypePresenceChanged}, eventTypes(h.rec.Events()))
	assert.Equal(t, 0, h.clock.Pending())
}

func TestSubscriptionPresences(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<presence from="dave@example.com" type="subscribe"/>`)
	h.fake.DeliverXML(`<presence from="dave@example.com" type="subscribed"/>`)
	h.fake.DeliverXML(`<presence from="dave@example.com" type="unsubscribed"/>`)

	reqs := h.rec.OfType(events.TypeSubscriptionRequest)
	require.Len(t, reqs, 1)
	assert.Equal(t, "dave@example.com", reqs[0].(events.SubscriptionRequest).Contact.ID.String())
	assert.Empty(t, h.rec.OfType(events.TypePresenceChanged))
}

func TestChatroomPresenceIgnored(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<presence from="room@conf.example.com/bob">` +
		`<x xmlns="http://jabber.org/protocol/muc#user"/></presence>`)

	assert.Empty(t, h.rec.Events())
	assert.Empty(t, h.m.Contacts())
}

func TestOwnPresence(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<presence from="me@example.com/laptop"><show>away</show></presence>`)

	assert.Empty(t, h.m.Contacts())
	own := h.m.Own()
	assert.Equal(t, 1, own.Presences.Len())
}

func rosterResult(h *harness, id, items string) {
	h.fake.DeliverXML(`<iq type="result" id="` + id + `"><query xmlns="jabber:iq:roster">` + items + `</query></iq>`)
}

func rosterPush(h *harness, items string) {
	h.fake.DeliverXML(`<iq type="set" id="push" from="me@example.com"><query xmlns="jabber:iq:roster">` + items + `</query></iq>`)
}

func TestRosterResult(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Login(t.Context()))
	rosterID := h.fake.Sent()[0].Attr("id")
	h.rec.Reset()

	rosterResult(h, rosterID,
		`<item jid="bob@example.com" name="Bob" subscription="both"><group>Friends</group><group>Work</group></item>`+
			`<item jid="carol@example.com" subscription="none" ask="subscribe"/>`+
			`<item jid="not a jid@"/>`)

	added := h.rec.OfType(events.TypeContactAdded)
	require.Len(t, added, 2)

	bob, ok := h.m.Contact(jid.MustParse("bob@example.com"))
	require.True(t, ok)
	assert.Equal(t, "Bob", bob.Name)
	assert.Equal(t, roster.SubscriptionBoth, bob.Subscription)
	assert.Equal(t, roster.KindContactListEntry, bob.Kind)
	assert.Equal(t, []string{"Friends", "Work"}, bob.Groups)

	carol, _ := h.m.Contact(jid.MustParse("carol@example.com"))
	assert.Equal(t, roster.KindTemporary, carol.Kind)

	// only the first result for the request id is a roster
	h.rec.Reset()
	rosterResult(h, rosterID, `<item jid="eve@example.com" subscription="both"/>`)
	assert.Empty(t, h.rec.Events())
}

func TestRosterPushIdempotent(t *testing.T) {
	h := newHarness(t)
	h.login()

	item := `<item jid="bob@example.com" name="Bob" subscription="to"><group>Friends</group></item>`
	rosterPush(h, item)
	rosterPush(h, item)

	assert.Equal(t, []events.Type{events.TypeContactAdded}, eventTypes(h.rec.Events()))

	results := h.fake.SentMatching(func(el *stanza.Element) bool {
		return stanza.IQTypeOf(el) == stanza.IQResult && el.Attr("id") == "push"
	})
	assert.Len(t, results, 2)
}

func TestRosterPushUpdatesAndPromotes(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<message from="bob@example.com/pc" type="chat"><body>hi</body></message>`)
	h.rec.Reset()

	rosterPush(h, `<item jid="bob@example.com" subscription="both"/>`)
	require.Len(t, h.rec.OfType(events.TypeContactAdded), 1)

	rosterPush(h, `<item jid="bob@example.com" name="Robert" subscription="both"/>`)
	updated := h.rec.OfType(events.TypeContactUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, "Robert", updated[0].(events.ContactUpdated).Contact.Name)

	rosterPush(h, `<item jid="bob@example.com" name="Robert" subscription="none"/>`)
	removed := h.rec.OfType(events.TypeContactRemoved)
	require.Len(t, removed, 1)
	assert.False(t, removed[0].(events.ContactRemoved).Evicted)

	_, ok := h.m.Contact(jid.MustParse("bob@example.com"))
	assert.True(t, ok)
}

func TestRosterRemoval(t *testing.T) {
	h := newHarness(t)
	h.login()

	rosterPush(h, `<item jid="bob@example.com" subscription="both"/>`)
	h.rec.Reset()

	rosterPush(h, `<item jid="bob@example.com" subscription="remove"/>`)

	removed := h.rec.OfType(events.TypeContactRemoved)
	require.Len(t, removed, 1)
	assert.True(t, removed[0].(events.ContactRemoved).Evicted)
	assert.Len(t, h.rec.Events(), 1)

	_, ok := h.m.Contact(jid.MustParse("bob@example.com"))
	assert.False(t, ok)
}

func TestRosterPushFromForeignAddress(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<iq type="set" id="evil" from="mallory@evil.example/x"><query xmlns="jabber:iq:roster">` +
		`<item jid="bob@example.com" subscription="both"/></query></iq>`)

	assert.Empty(t, h.rec.Events())
	assert.Empty(t, h.fake.Sent())
}

func TestUnknownRequestGetsServiceUnavailable(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<iq type="get" id="q1" from="peer@example.com/x"><query xmlns="urn:example:unknown"/></iq>`)

	reply := h.fake.Last()
	require.NotNil(t, reply)
	assert.Equal(t, stanza.IQError, stanza.IQTypeOf(reply))
	assert.Equal(t, "q1", reply.Attr("id"))
	assert.Equal(t, "peer@example.com/x", reply.Attr("to"))

	se, ok := stanza.ParseError(reply)
	require.True(t, ok)
	assert.Equal(t, 503, se.Code)
	assert.Equal(t, stanza.ErrServiceUnavailable.Type, se.Type)
	assert.Equal(t, stanza.ErrServiceUnavailable.Condition, se.Condition)

	// unsolicited results are not answered
	h.fake.Reset()
	h.fake.DeliverXML(`<iq type="result" id="zz" from="peer@example.com/x"/>`)
	assert.Empty(t, h.fake.Sent())
}

func TestVersionReply(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<iq type="get" id="v1" from="peer@example.com/x"><query xmlns="jabber:iq:version"/></iq>`)

	reply := h.fake.Last()
	require.NotNil(t, reply)
	assert.Equal(t, stanza.IQResult, stanza.IQTypeOf(reply))
	q := reply.ChildNS(stanza.NSVersion, "query")
	require.NotNil(t, q)
	assert.Equal(t, "Gossip", q.ChildText("name"))
	assert.Equal(t, Version, q.ChildText("version"))
	assert.NotEmpty(t, q.ChildText("os"))
}

func TestOwnProfile(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Login(t.Context()))
	req := h.fake.SentMatching(transporttest.IQType(stanza.IQGet, stanza.NSVCard))
	require.Len(t, req, 1)
	assert.Empty(t, req[0].Attr("to"))
	h.rec.Reset()

	h.fake.DeliverXML(`<iq type="result" id="` + req[0].Attr("id") + `">` +
		`<vCard xmlns="vcard-temp"><FN>Me Myself</FN></vCard></iq>`)

	assert.Equal(t, "Me Myself", h.m.Own().Name)
	assert.Len(t, h.rec.OfType(events.TypeContactUpdated), 1)
}

func TestTemporaryContactLearnsName(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.fake.DeliverXML(`<message from="alice@example.com/phone" type="chat"><body>hi</body></message>`)
	req := h.fake.SentMatching(transporttest.IQType(stanza.IQGet, stanza.NSVCard))
	require.Len(t, req, 1)

	h.fake.DeliverXML(`<iq type="result" id="` + req[0].Attr("id") + `" from="alice@example.com">` +
		`<vCard xmlns="vcard-temp"><FN>Alice A</FN><NICKNAME>ali</NICKNAME></vCard></iq>`)

	contact, _ := h.m.Contact(jid.MustParse("alice@example.com"))
	assert.Equal(t, "ali", contact.Name)
}
