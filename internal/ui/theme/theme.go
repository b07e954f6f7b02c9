package theme

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"

	"github.com/meszmate/gossip/internal/xmpp/presence"
)

// Theme represents a console color theme
type Theme struct {
	Name   string       `toml:"name"`
	Colors ColorsConfig `toml:"colors"`
}

// ColorsConfig contains the color palette
type ColorsConfig struct {
	Primary    string `toml:"primary"`
	Background string `toml:"background"`
	Foreground string `toml:"foreground"`
	Muted      string `toml:"muted"`
	Border     string `toml:"border"`
	Error      string `toml:"error"`
	Success    string `toml:"success"`
	Incoming   string `toml:"incoming"`
	Outgoing   string `toml:"outgoing"`
	Transfer   string `toml:"transfer"`
	Online     string `toml:"online"`
	Away       string `toml:"away"`
	DND        string `toml:"dnd"`
	XA         string `toml:"xa"`
	Offline    string `toml:"offline"`
}

// Styles contains the compiled lipgloss styles for a theme
type Styles struct {
	Border lipgloss.Style

	// Status bar
	StatusBar     lipgloss.Style
	StatusAccount lipgloss.Style
	StatusPrompt  lipgloss.Style

	// Presence
	PresenceOnline  lipgloss.Style
	PresenceAway    lipgloss.Style
	PresenceDND     lipgloss.Style
	PresenceXA      lipgloss.Style
	PresenceOffline lipgloss.Style

	// Event pane
	Timestamp lipgloss.Style
	System    lipgloss.Style
	Error     lipgloss.Style
	Incoming  lipgloss.Style
	Outgoing  lipgloss.Style
	Transfer  lipgloss.Style

	// Command line
	CommandPrompt     lipgloss.Style
	CommandCompletion lipgloss.Style
}

// Default returns the built-in theme
func Default() *Theme {
	return &Theme{
		Name: "nord",
		Colors: ColorsConfig{
			Primary:    "#88C0D0",
			Background: "#2E3440",
			Foreground: "#D8DEE9",
			Muted:      "#4C566A",
			Border:     "#434C5E",
			Error:      "#BF616A",
			Success:    "#A3BE8C",
			Incoming:   "#8FBCBB",
			Outgoing:   "#81A1C1",
			Transfer:   "#B48EAD",
			Online:     "#A3BE8C",
			Away:       "#EBCB8B",
			DND:        "#BF616A",
			XA:         "#D08770",
			Offline:    "#4C566A",
		},
	}
}

// Load reads a theme from a TOML file. Colors missing from the file keep
// the built-in values.
func Load(path string) (*Theme, error) {
	t := Default()
	if _, err := toml.DecodeFile(path, t); err != nil {
		return nil, fmt.Errorf("failed to parse theme file %s: %w", path, err)
	}
	return t, nil
}

// Compile compiles a theme into lipgloss styles
func Compile(t *Theme) *Styles {
	c := t.Colors
	s := &Styles{}

	s.Border = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(c.Border))

	s.StatusBar = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Foreground)).
		Background(lipgloss.Color(c.Border))

	s.StatusAccount = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Primary)).
		Background(lipgloss.Color(c.Border)).
		Bold(true)

	s.StatusPrompt = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Background)).
		Background(lipgloss.Color(c.Away)).
		Bold(true).
		Padding(0, 1)

	s.PresenceOnline = lipgloss.NewStyle().Foreground(lipgloss.Color(c.Online))
	s.PresenceAway = lipgloss.NewStyle().Foreground(lipgloss.Color(c.Away))
	s.PresenceDND = lipgloss.NewStyle().Foreground(lipgloss.Color(c.DND))
	s.PresenceXA = lipgloss.NewStyle().Foreground(lipgloss.Color(c.XA))
	s.PresenceOffline = lipgloss.NewStyle().Foreground(lipgloss.Color(c.Offline))

	s.Timestamp = lipgloss.NewStyle().Foreground(lipgloss.Color(c.Muted))
	s.System = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Muted)).
		Italic(true)
	s.Error = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Error)).
		Bold(true)
	s.Incoming = lipgloss.NewStyle().Foreground(lipgloss.Color(c.Incoming))
	s.Outgoing = lipgloss.NewStyle().Foreground(lipgloss.Color(c.Outgoing))
	s.Transfer = lipgloss.NewStyle().Foreground(lipgloss.Color(c.Transfer))

	s.CommandPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color(c.Primary))
	s.CommandCompletion = lipgloss.NewStyle().Foreground(lipgloss.Color(c.Muted))

	return s
}

// Presence returns the style for a presence state
func (s *Styles) Presence(state presence.State) lipgloss.Style {
	switch state {
	case presence.Available:
		return s.PresenceOnline
	case presence.Away:
		return s.PresenceAway
	case presence.Busy:
		return s.PresenceDND
	case presence.ExtendedAway:
		return s.PresenceXA
	default:
		return s.PresenceOffline
	}
}
