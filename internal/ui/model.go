package ui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meszmate/gossip/internal/app"
	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/session"
	"github.com/meszmate/gossip/internal/ui/components/commandline"
	"github.com/meszmate/gossip/internal/ui/components/statusbar"
	"github.com/meszmate/gossip/internal/ui/theme"
	"github.com/meszmate/gossip/internal/xmpp/presence"
)

// maxLines bounds the event pane scrollback
const maxLines = 2000

// Model is the root Bubble Tea model
type Model struct {
	app    *app.App
	styles *theme.Styles
	width  int
	height int
	lines  []string
	scroll int

	statusbar   statusbar.Model
	commandline commandline.Model
}

// NewModel creates the console for an application
func NewModel(a *app.App, styles *theme.Styles) Model {
	names := make([]string, 0, len(app.Commands)+1)
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	names = append(names, "quit")

	m := Model{
		app:         a,
		styles:      styles,
		statusbar:   statusbar.New(styles),
		commandline: commandline.New(styles, names),
	}
	m.addLine("Type help for a list of commands", lineSystem)
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return m.app.Init()
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusbar = m.statusbar.SetWidth(msg.Width)
		m.commandline = m.commandline.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyPgUp:
			m.scroll += m.paneHeight() / 2
			if top := len(m.lines) - m.paneHeight(); m.scroll > top {
				m.scroll = top
			}
			if m.scroll < 0 {
				m.scroll = 0
			}
			return m, nil
		case tea.KeyPgDown:
			m.scroll -= m.paneHeight() / 2
			if m.scroll < 0 {
				m.scroll = 0
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.commandline, cmd = m.commandline.Update(msg)
		return m, cmd

	case commandline.CommandMsg:
		if msg.Command == "quit" || msg.Command == "q" {
			return m, tea.Quit
		}
		m.addLine("> "+strings.TrimSpace(msg.Command+" "+strings.Join(msg.Args, " ")), lineOutgoing)
		return m, m.app.Execute(msg.Command, msg.Args)

	case commandline.SecretMsg:
		m.endPrompt()
		m.app.ProvidePassword(msg.Value)
		return m, nil

	case commandline.CancelMsg:
		m.endPrompt()
		m.app.CancelPassword()
		return m, nil

	case app.EventMsg:
		m.handleEvent(msg.Event)
		return m, m.app.Listen()

	case app.ConnectResultMsg:
		if msg.Err != nil {
			m.addLine("Connecting "+msg.JID+" failed: "+msg.Err.Error(), lineError)
		}
		return m, nil

	case app.CommandResultMsg:
		for _, line := range msg.Output {
			m.addLine(line, lineSystem)
		}
		if msg.Err != nil {
			m.addLine(msg.Err.Error(), lineError)
		}
		m.refreshStatus()
		return m, nil
	}

	return m, nil
}

func (m *Model) handleEvent(e events.Event) {
	switch ev := e.(type) {
	case events.Connecting:
		m.statusbar = m.statusbar.SetAccount(ev.Account.BareString()).SetState(session.StateOpening)
	case events.PasswordRequested:
		m.commandline = m.commandline.SetMasked(true).SetPrefix("password: ")
		m.statusbar = m.statusbar.SetPrompt("Password for " + ev.Account.BareString())
	case events.Composing:
		if ev.Composing {
			m.statusbar = m.statusbar.SetComposing(ev.Contact.BareString())
		} else {
			m.statusbar = m.statusbar.SetComposing("")
		}
	case events.Disconnected:
		if m.commandline.Masked() {
			m.endPrompt()
		}
	}

	if text, kind := describe(e); text != "" {
		m.addLine(text, kind)
	}
	m.refreshStatus()
}

func (m *Model) endPrompt() {
	m.commandline = m.commandline.SetMasked(false).SetPrefix("> ")
	m.statusbar = m.statusbar.SetPrompt("")
}

func (m *Model) refreshStatus() {
	s := m.app.Session()
	if s == nil {
		return
	}
	state := s.State()
	m.statusbar = m.statusbar.SetState(state).SetTransfers(len(m.app.ActiveTransfers()))
	if state == session.StateConnected {
		own := s.Presence()
		m.statusbar = m.statusbar.SetPresence(own.State, own.Status)
	} else {
		m.statusbar = m.statusbar.SetPresence(presence.Available, "")
	}
}

func (m *Model) addLine(text string, kind lineKind) {
	stamp := m.styles.Timestamp.Render(time.Now().Format("15:04:05"))
	for _, l := range strings.Split(text, "\n") {
		m.lines = append(m.lines, stamp+" "+m.style(kind).Render(l))
	}
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

func (m Model) style(kind lineKind) lipgloss.Style {
	switch kind {
	case lineError:
		return m.styles.Error
	case lineIncoming:
		return m.styles.Incoming
	case lineOutgoing:
		return m.styles.Outgoing
	case lineTransfer:
		return m.styles.Transfer
	default:
		return m.styles.System
	}
}

func (m Model) paneHeight() int {
	h := m.height - 2
	if h < 1 {
		h = 1
	}
	return h
}

// View renders the console
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	height := m.paneHeight()
	end := len(m.lines) - m.scroll
	start := end - height
	if start < 0 {
		start = 0
	}
	visible := m.lines[start:end]

	pane := make([]string, 0, height)
	for i := len(visible); i < height; i++ {
		pane = append(pane, "")
	}
	for _, l := range visible {
		pane = append(pane, lipgloss.NewStyle().MaxWidth(m.width).Render(l))
	}

	return strings.Join(pane, "\n") + "\n" + m.statusbar.View() + "\n" + m.commandline.View()
}
