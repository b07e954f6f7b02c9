package app

import (
	"path/filepath"
	"time"

	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/ft"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/logging"
	"github.com/meszmate/gossip/internal/session"
	"github.com/meszmate/gossip/internal/storage/sqlite"
	"github.com/meszmate/gossip/internal/xmpp/presence"
)

func (a *App) live() (*session.Manager, error) {
	m := a.Session()
	if m == nil {
		return nil, session.ErrNotConnected
	}
	return m, nil
}

func (a *App) negotiator() (*ft.Negotiator, error) {
	n := a.Transfers()
	if n == nil {
		return nil, session.ErrNotConnected
	}
	return n, nil
}

// SendMessage sends a chat message and stores it in the history
func (a *App) SendMessage(to, body string) error {
	m, err := a.live()
	if err != nil {
		return err
	}
	addr, err := jid.Parse(to)
	if err != nil {
		return err
	}
	if err := m.SendMessage(addr, body); err != nil {
		return err
	}

	if a.storage != nil && a.cfg.Storage.SaveMessages {
		err := a.storage.SaveMessage(a.CurrentAccount(), sqlite.Message{
			JID:       addr.BareString(),
			Resource:  addr.Resource(),
			Body:      body,
			Type:      "chat",
			Timestamp: time.Now(),
			Outgoing:  true,
		})
		if err != nil {
			logging.Warn("Failed to save message: %v", err)
		}
	}
	return nil
}

// SendComposing tells a contact whether we are typing
func (a *App) SendComposing(to string, typing bool) error {
	m, err := a.live()
	if err != nil {
		return err
	}
	addr, err := jid.Parse(to)
	if err != nil {
		return err
	}
	return m.SendComposing(addr, typing)
}

// SetStatus changes our presence. The state name is one of available,
// busy, away or xa.
func (a *App) SetStatus(state, status string) error {
	m, err := a.live()
	if err != nil {
		return err
	}
	s, ok := presence.ParseState(state)
	if !ok {
		return errorf("unknown presence state %q", state)
	}
	return m.SetPresence(s, status)
}

// AddContact adds a contact and asks for their presence
func (a *App) AddContact(contact, name, group, message string) error {
	return a.withContact(contact, func(m *session.Manager, addr jid.JID) error {
		return m.AddContact(addr, name, group, message)
	})
}

// RemoveContact removes a contact from the contact list
func (a *App) RemoveContact(contact string) error {
	return a.withContact(contact, func(m *session.Manager, addr jid.JID) error {
		return m.RemoveContact(addr)
	})
}

// RenameContact changes a contact's name
func (a *App) RenameContact(contact, name string) error {
	return a.withContact(contact, func(m *session.Manager, addr jid.JID) error {
		return m.RenameContact(addr, name)
	})
}

// SetGroups replaces a contact's groups
func (a *App) SetGroups(contact string, groups []string) error {
	return a.withContact(contact, func(m *session.Manager, addr jid.JID) error {
		return m.UpdateGroups(addr, groups)
	})
}

// ApproveSubscription lets a contact see our presence
func (a *App) ApproveSubscription(contact string) error {
	return a.withContact(contact, func(m *session.Manager, addr jid.JID) error {
		return m.SetSubscription(addr, true)
	})
}

// DenySubscription refuses or revokes a contact's subscription
func (a *App) DenySubscription(contact string) error {
	return a.withContact(contact, func(m *session.Manager, addr jid.JID) error {
		return m.SetSubscription(addr, false)
	})
}

func (a *App) withContact(contact string, fn func(*session.Manager, jid.JID) error) error {
	m, err := a.live()
	if err != nil {
		return err
	}
	addr, err := jid.Parse(contact)
	if err != nil {
		return err
	}
	return fn(m, addr)
}

// SetProfile publishes our vCard
func (a *App) SetProfile(fullName, nickname string) error {
	m, err := a.live()
	if err != nil {
		return err
	}
	return m.SetProfile(session.Profile{FullName: fullName, Nickname: nickname})
}

// SendFile offers a file to a contact and returns the transfer id
func (a *App) SendFile(to, path string) (uint32, error) {
	n, err := a.negotiator()
	if err != nil {
		return 0, err
	}
	addr, err := jid.Parse(to)
	if err != nil {
		return 0, err
	}
	path, err = filepath.Abs(expandHome(path))
	if err != nil {
		return 0, err
	}

	id, err := n.Send(addr, path)
	if err != nil {
		return 0, err
	}

	if a.storage != nil && a.cfg.Storage.SaveTransfers {
		if t, ok := n.Transfer(id); ok {
			rec := transferRecord(t, sqlite.TransferPending)
			rec.Path = path
			if err := a.storage.SaveTransfer(a.CurrentAccount(), rec); err != nil {
				logging.Warn("Failed to record transfer: %v", err)
			}
		}
	}
	return id, nil
}

// AcceptFile takes an offered file. An empty path saves it in the download
// directory.
func (a *App) AcceptFile(id uint32, path string) error {
	n, err := a.negotiator()
	if err != nil {
		return err
	}
	if path == "" {
		return n.Accept(id)
	}
	return n.AcceptTo(id, expandHome(path))
}

// DeclineFile refuses an offered file
func (a *App) DeclineFile(id uint32) error {
	n, err := a.negotiator()
	if err != nil {
		return err
	}
	return n.Decline(id)
}

// CancelFile abandons a transfer
func (a *App) CancelFile(id uint32) error {
	n, err := a.negotiator()
	if err != nil {
		return err
	}
	return n.Cancel(id)
}

// ActiveTransfers lists the transfers of the current session
func (a *App) ActiveTransfers() []events.Transfer {
	n := a.Transfers()
	if n == nil {
		return nil
	}
	return n.Transfers()
}
