package app

import (
	"time"

	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/logging"
	"github.com/meszmate/gossip/internal/session"
	"github.com/meszmate/gossip/internal/storage/sqlite"
	"github.com/meszmate/gossip/internal/xmpp/roster"
	"github.com/meszmate/gossip/pkg/plugin/api"
)

// EventMsg carries an engine event to the interface
type EventMsg struct {
	Event events.Event
}

// onEvent fans an engine event out to storage, plugins and the interface.
// It runs on the publishing goroutine.
func (a *App) onEvent(e events.Event) {
	a.persist(e)

	if a.plugins != nil {
		if ev, ok := api.Encode(e, time.Now()); ok {
			a.plugins.Publish(ev)
		}
	}

	select {
	case a.ui <- e:
	default:
		// Channel full, drop event
		logging.Warn("Interface queue full, dropping %s event", e.Type())
	}
}

func (a *App) persist(e events.Event) {
	if a.storage == nil {
		return
	}
	account := a.CurrentAccount()
	var err error

	switch ev := e.(type) {
	case events.NewMessage:
		if !a.cfg.Storage.SaveMessages {
			return
		}
		m := ev.Message
		err = a.storage.SaveMessage(account, sqlite.Message{
			JID:       m.From.BareString(),
			StanzaID:  m.ID,
			Resource:  m.From.Resource(),
			Body:      m.Body,
			Subject:   m.Subject,
			Thread:    m.Thread,
			Type:      m.Type,
			Timestamp: m.Timestamp,
		})

	case events.ContactAdded, events.ContactUpdated, events.ContactRemoved:
		err = a.saveRoster(account)

	case events.FileTransferRequest:
		if !a.cfg.Storage.SaveTransfers {
			return
		}
		err = a.storage.SaveTransfer(account, transferRecord(ev.Transfer, sqlite.TransferPending))

	case events.FileTransferAccepted:
		if !a.cfg.Storage.SaveTransfers {
			return
		}
		err = a.storage.UpdateTransfer(account, ev.Transfer.ID, sqlite.TransferActive, "", "")

	case events.FileTransferComplete:
		if !a.cfg.Storage.SaveTransfers {
			return
		}
		err = a.storage.UpdateTransfer(account, ev.Transfer.ID, sqlite.TransferCompleted, ev.Path, "")

	case events.FileTransferError:
		if !a.cfg.Storage.SaveTransfers {
			return
		}
		err = a.storage.UpdateTransfer(account, ev.ID, sqlite.TransferFailed, "", ev.Reason)
	}

	if err != nil {
		logging.WithFields(logging.Fields{"component": "app", "event": e.Type().String()}).
			WithError(err).Warn("failed to persist event")
	}
}

// saveRoster stores the contact list entries. Contacts evicted by a
// disconnect are not removals, so nothing is written while offline.
func (a *App) saveRoster(account string) error {
	if !a.cfg.Storage.SaveRoster {
		return nil
	}
	m := a.Session()
	if m == nil || m.State() != session.StateConnected {
		return nil
	}

	var entries []sqlite.RosterEntry
	for _, c := range m.Contacts() {
		if c.Kind != roster.KindContactListEntry {
			continue
		}
		entries = append(entries, sqlite.RosterEntry{
			JID:          c.ID.String(),
			Name:         c.Name,
			Groups:       c.Groups,
			Subscription: c.Subscription.String(),
		})
	}
	return a.storage.SaveRoster(account, entries)
}

func transferRecord(t events.Transfer, status string) sqlite.Transfer {
	return sqlite.Transfer{
		ID:        t.ID,
		Peer:      t.Peer.String(),
		Direction: t.Direction.String(),
		FileName:  t.FileName,
		FileSize:  t.FileSize,
		MimeType:  t.MimeType,
		StreamID:  t.StreamID,
		Status:    status,
		Started:   time.Now(),
	}
}
