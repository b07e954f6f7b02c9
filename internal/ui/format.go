package ui

import (
	"fmt"

	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/xmpp/roster"
)

// lineKind selects the style of an event pane line
type lineKind int

const (
	lineSystem lineKind = iota
	lineError
	lineIncoming
	lineOutgoing
	lineTransfer
)

// describe renders an engine event as one event pane line. Events that only
// update the status bar return an empty string.
func describe(e events.Event) (string, lineKind) {
	switch ev := e.(type) {
	case events.Connecting:
		return "Connecting as " + ev.Account.String(), lineSystem
	case events.Connected:
		return "Connected as " + ev.JID.String(), lineSystem
	case events.Disconnected:
		return "Disconnected (" + ev.Reason.String() + ")", lineSystem
	case events.Error:
		if ev.Err != nil {
			return fmt.Sprintf("Connection failed: %s (%v)", ev.Code, ev.Err), lineError
		}
		return "Connection failed: " + ev.Code.String(), lineError
	case events.PasswordRequested:
		return "Password required for " + ev.Account.String(), lineSystem

	case events.NewMessage:
		m := ev.Message
		name := m.Sender.DisplayName()
		if m.Invite != nil {
			line := fmt.Sprintf("%s invites you to %s", name, m.Invite.Room)
			if m.Invite.Reason != "" {
				line += ": " + m.Invite.Reason
			}
			return line, lineIncoming
		}
		if m.Subject != "" {
			return fmt.Sprintf("[%s] %s: (%s) %s", m.Timestamp.Format("15:04"), name, m.Subject, m.Body), lineIncoming
		}
		return fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("15:04"), name, m.Body), lineIncoming

	case events.ContactAdded:
		if ev.Contact.Kind != roster.KindContactListEntry {
			return "", lineSystem
		}
		return fmt.Sprintf("Contact %s (%s) [%s]", ev.Contact.DisplayName(), ev.Contact.ID, ev.Contact.Subscription), lineSystem
	case events.ContactRemoved:
		if !ev.Evicted {
			return "", lineSystem
		}
		return "Contact " + ev.Contact.ID.String() + " removed", lineSystem
	case events.PresenceChanged:
		if ev.Offline {
			return fmt.Sprintf("%s/%s went offline", ev.Contact.DisplayName(), ev.Presence.Resource), lineSystem
		}
		line := fmt.Sprintf("%s/%s is %s", ev.Contact.DisplayName(), ev.Presence.Resource, ev.Presence.State)
		if ev.Presence.Status != "" {
			line += ": " + ev.Presence.Status
		}
		return line, lineSystem
	case events.SubscriptionRequest:
		id := ev.Contact.ID.String()
		return fmt.Sprintf("%s wants to see your presence: approve %s or deny %s", id, id, id), lineSystem

	case events.FileTransferRequest:
		t := ev.Transfer
		return fmt.Sprintf("#%d %s offers %s (%s): accept %d or decline %d",
			t.ID, ev.Sender.DisplayName(), t.FileName, formatSize(t.FileSize), t.ID, t.ID), lineTransfer
	case events.FileTransferAccepted:
		return fmt.Sprintf("#%d %s accepted %s", ev.Transfer.ID, ev.Transfer.Peer, ev.Transfer.FileName), lineTransfer
	case events.FileTransferComplete:
		if ev.Transfer.Direction == events.Receiving {
			return fmt.Sprintf("#%d saved %s", ev.Transfer.ID, ev.Path), lineTransfer
		}
		return fmt.Sprintf("#%d sent %s", ev.Transfer.ID, ev.Transfer.FileName), lineTransfer
	case events.FileTransferError:
		line := fmt.Sprintf("#%d failed (%s)", ev.ID, ev.Kind)
		if ev.Reason != "" {
			line += ": " + ev.Reason
		}
		return line, lineError
	}
	return "", lineSystem
}

func formatSize(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
