package commandline

import (
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meszmate/gossip/internal/ui/theme"
)

// CommandMsg is sent when a command is entered
type CommandMsg struct {
	Command string
	Args    []string
}

// SecretMsg is sent when a masked input is submitted
type SecretMsg struct {
	Value string
}

// CancelMsg is sent when a masked input is abandoned
type CancelMsg struct{}

// Model represents the command line component
type Model struct {
	input       []rune
	cursorPos   int
	prefix      string
	width       int
	masked      bool
	styles      *theme.Styles
	commands    []string
	completions []string
	compIndex   int
	history     []string
	historyPos  int
}

// New creates a new command line model completing the given command names
func New(styles *theme.Styles, commands []string) Model {
	names := append([]string(nil), commands...)
	sort.Strings(names)
	return Model{
		styles:     styles,
		prefix:     "> ",
		commands:   names,
		historyPos: -1,
	}
}

// SetWidth sets the command line width
func (m Model) SetWidth(width int) Model {
	m.width = width
	return m
}

// SetPrefix sets the command line prefix
func (m Model) SetPrefix(prefix string) Model {
	m.prefix = prefix
	return m
}

// SetMasked switches to hidden input, used for passwords. Masked input is
// not kept in the history.
func (m Model) SetMasked(masked bool) Model {
	m.masked = masked
	return m.Clear()
}

// Masked reports whether input is hidden
func (m Model) Masked() bool {
	return m.masked
}

// Value returns the current input
func (m Model) Value() string {
	return string(m.input)
}

// Clear clears the input
func (m Model) Clear() Model {
	m.input = nil
	m.cursorPos = 0
	m.completions = nil
	m.compIndex = 0
	return m
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.Type {
	case tea.KeyRunes:
		m = m.insert(key.Runes...)

	case tea.KeySpace:
		m = m.insert(' ')

	case tea.KeyBackspace:
		if m.cursorPos > 0 {
			m.input = append(m.input[:m.cursorPos-1], m.input[m.cursorPos:]...)
			m.cursorPos--
			m.completions = nil
		}

	case tea.KeyDelete:
		if m.cursorPos < len(m.input) {
			m.input = append(m.input[:m.cursorPos], m.input[m.cursorPos+1:]...)
			m.completions = nil
		}

	case tea.KeyLeft:
		if m.cursorPos > 0 {
			m.cursorPos--
		}

	case tea.KeyRight:
		if m.cursorPos < len(m.input) {
			m.cursorPos++
		}

	case tea.KeyHome, tea.KeyCtrlA:
		m.cursorPos = 0

	case tea.KeyEnd, tea.KeyCtrlE:
		m.cursorPos = len(m.input)

	case tea.KeyUp:
		if !m.masked && m.historyPos < len(m.history)-1 {
			m.historyPos++
			m = m.setInput(m.history[len(m.history)-1-m.historyPos])
		}

	case tea.KeyDown:
		if m.masked {
			break
		}
		if m.historyPos > 0 {
			m.historyPos--
			m = m.setInput(m.history[len(m.history)-1-m.historyPos])
		} else if m.historyPos == 0 {
			m.historyPos = -1
			m = m.Clear()
		}

	case tea.KeyTab:
		if !m.masked {
			m = m.complete()
		}

	case tea.KeyEsc:
		if m.masked {
			m = m.Clear()
			return m, func() tea.Msg { return CancelMsg{} }
		}
		m = m.Clear()

	case tea.KeyEnter:
		return m.submit()

	case tea.KeyCtrlU:
		// Delete to beginning
		m.input = append([]rune(nil), m.input[m.cursorPos:]...)
		m.cursorPos = 0
		m.completions = nil

	case tea.KeyCtrlW:
		m = m.deleteWord()
	}

	return m, nil
}

func (m Model) insert(r ...rune) Model {
	input := make([]rune, 0, len(m.input)+len(r))
	input = append(input, m.input[:m.cursorPos]...)
	input = append(input, r...)
	input = append(input, m.input[m.cursorPos:]...)
	m.input = input
	m.cursorPos += len(r)
	m.completions = nil
	return m
}

func (m Model) setInput(s string) Model {
	m.input = []rune(s)
	m.cursorPos = len(m.input)
	m.completions = nil
	return m
}

func (m Model) deleteWord() Model {
	if m.cursorPos == 0 {
		return m
	}
	pos := m.cursorPos - 1
	for pos > 0 && m.input[pos] == ' ' {
		pos--
	}
	for pos > 0 && m.input[pos] != ' ' {
		pos--
	}
	if m.input[pos] == ' ' {
		pos++
	}
	m.input = append(m.input[:pos], m.input[m.cursorPos:]...)
	m.cursorPos = pos
	m.completions = nil
	return m
}

func (m Model) submit() (Model, tea.Cmd) {
	value := string(m.input)
	if m.masked {
		m = m.Clear()
		return m, func() tea.Msg { return SecretMsg{Value: value} }
	}

	cmd, args := parseCommand(value)
	if cmd == "" {
		return m, nil
	}
	m.history = append(m.history, value)
	m.historyPos = -1
	m = m.Clear()
	return m, func() tea.Msg { return CommandMsg{Command: cmd, Args: args} }
}

// complete performs tab completion of the command name
func (m Model) complete() Model {
	if m.completions == nil {
		m.completions = m.getCompletions()
		m.compIndex = 0
	} else {
		// Cycle through completions
		m.compIndex++
		if m.compIndex >= len(m.completions) {
			m.compIndex = 0
		}
	}

	if len(m.completions) > 0 {
		completions := m.completions
		m = m.setInput(completions[m.compIndex] + " ")
		m.completions = completions
	}
	return m
}

// getCompletions returns command names matching the current input
func (m Model) getCompletions() []string {
	value := string(m.input)
	if strings.Contains(value, " ") {
		return nil
	}
	prefix := strings.TrimPrefix(value, "/")

	var completions []string
	for _, name := range m.commands {
		if strings.HasPrefix(name, prefix) {
			completions = append(completions, name)
		}
	}
	return completions
}

// parseCommand parses the input into command and arguments
func parseCommand(input string) (string, []string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return "", nil
	}
	return strings.TrimPrefix(parts[0], "/"), parts[1:]
}

// View renders the command line
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	prompt := m.styles.CommandPrompt.Render(m.prefix)

	shown := m.input
	if m.masked {
		shown = []rune(strings.Repeat("*", len(m.input)))
	}

	beforeCursor := string(shown[:m.cursorPos])
	afterCursor := ""
	cursorChar := " "
	if m.cursorPos < len(shown) {
		cursorChar = string(shown[m.cursorPos])
		afterCursor = string(shown[m.cursorPos+1:])
	}

	cursor := lipgloss.NewStyle().Reverse(true).Render(cursorChar)
	input := beforeCursor + cursor + afterCursor

	var hint string
	if len(m.completions) > 1 {
		hint = m.styles.CommandCompletion.Render(" (" + strings.Join(m.completions, " | ") + ")")
	}

	return prompt + input + hint
}
