// Package api translates engine events into the plugin event format.
package api

import (
	"time"

	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/xmpp/presence"
	"github.com/meszmate/gossip/internal/xmpp/roster"
	"github.com/meszmate/gossip/pkg/plugin"
)

// Encode converts e. Password prompts are never forwarded, so ok is false
// for them.
func Encode(e events.Event, now time.Time) (plugin.Event, bool) {
	fields := map[string]interface{}{}

	switch ev := e.(type) {
	case events.Connecting:
		fields["account"] = ev.Account.String()
	case events.Connected:
		fields["jid"] = ev.JID.String()
	case events.Disconnected:
		fields["reason"] = ev.Reason.String()
	case events.Error:
		fields["code"] = ev.Code.String()
		if ev.Err != nil {
			fields["error"] = ev.Err.Error()
		}
	case events.PasswordRequested:
		return plugin.Event{}, false
	case events.NewMessage:
		m := ev.Message
		fields["id"] = m.ID
		fields["from"] = m.From.String()
		fields["sender"] = m.Sender.DisplayName()
		fields["type"] = m.Type
		fields["body"] = m.Body
		fields["subject"] = m.Subject
		fields["thread"] = m.Thread
		fields["timestamp"] = m.Timestamp.UTC().Format(time.RFC3339)
		if m.Invite != nil {
			fields["invite_room"] = m.Invite.Room.String()
			fields["invite_reason"] = m.Invite.Reason
		}
	case events.Composing:
		fields["contact"] = ev.Contact.String()
		fields["composing"] = ev.Composing
	case events.ContactAdded:
		contactFields(fields, ev.Contact)
	case events.ContactUpdated:
		contactFields(fields, ev.Contact)
	case events.ContactRemoved:
		contactFields(fields, ev.Contact)
		fields["evicted"] = ev.Evicted
	case events.PresenceChanged:
		contactFields(fields, ev.Contact)
		presenceFields(fields, ev.Presence)
		fields["offline"] = ev.Offline
	case events.SubscriptionRequest:
		contactFields(fields, ev.Contact)
	case events.FileTransferRequest:
		transferFields(fields, ev.Transfer)
		fields["sender"] = ev.Sender.DisplayName()
	case events.FileTransferAccepted:
		transferFields(fields, ev.Transfer)
	case events.FileTransferProgress:
		fields["transfer_id"] = ev.ID
		fields["transferred"] = ev.Transferred
		fields["total"] = ev.Total
	case events.FileTransferComplete:
		transferFields(fields, ev.Transfer)
		fields["path"] = ev.Path
	case events.FileTransferError:
		fields["transfer_id"] = ev.ID
		fields["kind"] = ev.Kind.String()
		fields["reason"] = ev.Reason
	}

	return plugin.Event{Type: e.Type().String(), Time: now, Fields: fields}, true
}

func contactFields(fields map[string]interface{}, c roster.Contact) {
	fields["jid"] = c.ID.String()
	fields["name"] = c.DisplayName()
	fields["kind"] = c.Kind.String()
	fields["subscription"] = c.Subscription.String()

	groups := make([]interface{}, 0, len(c.Groups))
	for _, g := range c.Groups {
		groups = append(groups, g)
	}
	fields["groups"] = groups
}

func presenceFields(fields map[string]interface{}, p presence.Presence) {
	fields["resource"] = p.Resource
	fields["state"] = p.State.String()
	fields["status"] = p.Status
	fields["priority"] = p.Priority
}

func transferFields(fields map[string]interface{}, t events.Transfer) {
	fields["transfer_id"] = t.ID
	fields["peer"] = t.Peer.String()
	fields["direction"] = t.Direction.String()
	fields["file_name"] = t.FileName
	fields["file_size"] = t.FileSize
	fields["mime_type"] = t.MimeType
	fields["stream_id"] = t.StreamID
}
