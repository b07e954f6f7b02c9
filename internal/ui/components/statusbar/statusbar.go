package statusbar

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/meszmate/gossip/internal/session"
	"github.com/meszmate/gossip/internal/ui/theme"
	"github.com/meszmate/gossip/internal/xmpp/presence"
)

// Model represents the status bar component
type Model struct {
	width     int
	account   string
	state     session.State
	presence  presence.State
	status    string
	transfers int
	composing string
	prompt    string
	styles    *theme.Styles
}

// New creates a new status bar model
func New(styles *theme.Styles) Model {
	return Model{styles: styles}
}

// SetWidth sets the status bar width
func (m Model) SetWidth(width int) Model {
	m.width = width
	return m
}

// SetAccount sets the current account
func (m Model) SetAccount(account string) Model {
	m.account = account
	return m
}

// SetState sets the connection state
func (m Model) SetState(state session.State) Model {
	m.state = state
	return m
}

// SetPresence sets our own presence
func (m Model) SetPresence(state presence.State, status string) Model {
	m.presence = state
	m.status = status
	return m
}

// SetTransfers sets the number of live file transfers
func (m Model) SetTransfers(n int) Model {
	m.transfers = n
	return m
}

// SetComposing names a contact currently typing, or clears it
func (m Model) SetComposing(contact string) Model {
	m.composing = contact
	return m
}

// SetPrompt shows a highlighted prompt such as a password request
func (m Model) SetPrompt(prompt string) Model {
	m.prompt = prompt
	return m
}

// View renders the status bar
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	var left string
	if m.prompt != "" {
		left = m.styles.StatusPrompt.Render(m.prompt)
	}

	if m.account != "" {
		var indicator, text string
		switch m.state {
		case session.StateConnected:
			indicator = m.styles.Presence(m.presence).Render("●")
			text = " [" + m.presence.String()
			if m.status != "" {
				text += ": " + m.status
			}
			text += "]"
		case session.StateDisconnected:
			indicator = m.styles.PresenceOffline.Render("○")
		default:
			indicator = m.styles.PresenceAway.Render("◐")
			text = m.styles.PresenceAway.Render(" [connecting...]")
		}
		left += fmt.Sprintf(" %s %s%s", indicator, m.styles.StatusAccount.Render(m.account), text)
	}

	var right []string
	if m.composing != "" {
		right = append(right, m.composing+" is typing")
	}
	if m.transfers > 0 {
		right = append(right, fmt.Sprintf("%d transfer(s)", m.transfers))
	}
	rightText := strings.Join(right, " | ") + " "

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(rightText)
	if padding < 0 {
		padding = 0
	}

	return m.styles.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", padding) + rightText)
}
