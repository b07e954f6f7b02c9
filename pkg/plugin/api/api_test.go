package api

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/presence"
	"github.com/meszmate/gossip/internal/xmpp/roster"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEncodeMessage(t *testing.T) {
	ev, ok := Encode(events.NewMessage{Message: events.Message{
		ID:        "m1",
		From:      jid.MustParse("alice@example.com/phone"),
		Sender:    roster.Contact{ID: jid.MustParse("alice@example.com"), Name: "Alice"},
		Type:      "chat",
		Body:      "hello",
		Timestamp: now,
	}}, now)
	require.True(t, ok)

	assert.Equal(t, "new-message", ev.Type)
	assert.Equal(t, now, ev.Time)
	assert.Equal(t, "alice@example.com/phone", ev.String("from"))
	assert.Equal(t, "Alice", ev.String("sender"))
	assert.Equal(t, "hello", ev.String("body"))
	assert.Equal(t, "2026-03-01T12:00:00Z", ev.String("timestamp"))
	assert.NotContains(t, ev.Fields, "invite_room")
}

func TestEncodePresence(t *testing.T) {
	contact := roster.Contact{
		ID:           jid.MustParse("bob@example.com"),
		Kind:         roster.KindContactListEntry,
		Subscription: roster.SubscriptionBoth,
		Groups:       []string{"Work"},
	}
	ev, ok := Encode(events.PresenceChanged{
		Contact:  contact,
		Presence: presence.Presence{State: presence.Away, Resource: "desk", Status: "lunch", Priority: 5},
	}, now)
	require.True(t, ok)

	assert.Equal(t, "presence-changed", ev.Type)
	assert.Equal(t, "bob@example.com", ev.String("jid"))
	assert.Equal(t, "bob@example.com", ev.String("name"))
	assert.Equal(t, "both", ev.String("subscription"))
	assert.Equal(t, []interface{}{"Work"}, ev.Fields["groups"])
	assert.Equal(t, "desk", ev.String("resource"))
	assert.Equal(t, "lunch", ev.String("status"))
	assert.Equal(t, float64(5), ev.Number("priority"))
	assert.Equal(t, false, ev.Fields["offline"])
}

func TestEncodeTransferEvents(t *testing.T) {
	tr := events.Transfer{
		ID:        3,
		Peer:      jid.MustParse("alice@example.com/phone"),
		Direction: events.Receiving,
		FileName:  "a.jpg",
		FileSize:  2048,
		StreamID:  "sid",
	}

	ev, ok := Encode(events.FileTransferComplete{Transfer: tr, Path: "/tmp/a.jpg"}, now)
	require.True(t, ok)
	assert.Equal(t, "file-transfer-complete", ev.Type)
	assert.Equal(t, float64(3), ev.Number("transfer_id"))
	assert.Equal(t, "receiving", ev.String("direction"))
	assert.Equal(t, "/tmp/a.jpg", ev.String("path"))

	ev, ok = Encode(events.FileTransferError{ID: 3, Kind: events.TransferDeclined, Reason: "Declined"}, now)
	require.True(t, ok)
	assert.Equal(t, "declined", ev.String("kind"))
}

func TestEncodeError(t *testing.T) {
	ev, ok := Encode(events.Error{Code: events.ErrAuthFailed, Err: errors.New("not-authorized")}, now)
	require.True(t, ok)
	assert.Equal(t, "auth-failed", ev.String("code"))
	assert.Equal(t, "not-authorized", ev.String("error"))
}

func TestPasswordPromptIsNotForwarded(t *testing.T) {
	_, ok := Encode(events.PasswordRequested{Account: jid.MustParse("me@example.com")}, now)
	assert.False(t, ok)
}
