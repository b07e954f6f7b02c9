package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/meszmate/gossip/internal/xmpp/roster"
)

// ErrUsage is returned when a command gets the wrong arguments
var ErrUsage = errors.New("usage")

// Command is a console command
type Command struct {
	Name        string
	Description string
	Args        []string
	// Run executes the command and returns lines to show
	Run func(a *App, args []string) ([]string, error)
}

// Usage returns the argument summary of the command
func (c Command) Usage() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// CommandResultMsg is sent when a command finished
type CommandResultMsg struct {
	Command string
	Output  []string
	Err     error
}

// Commands lists the console commands
var Commands []Command

func init() {
	Commands = []Command{
		{Name: "help", Description: "Show help for all commands or a specific command", Args: []string{"[command]"}, Run: cmdHelp},
		{Name: "connect", Description: "Connect to an account (prompts for password if needed)", Args: []string{"[jid]"}, Run: cmdConnect},
		{Name: "disconnect", Description: "Disconnect from current account", Run: cmdDisconnect},
		{Name: "msg", Description: "Send a message to a JID", Args: []string{"jid", "message"}, Run: cmdMsg},
		{Name: "status", Description: "Set your status (available, away, dnd, xa)", Args: []string{"state", "[message]"}, Run: cmdStatus},
		{Name: "contacts", Description: "List contacts", Run: cmdContacts},
		{Name: "add", Description: "Add a contact and ask for their presence", Args: []string{"jid", "[name]", "[group]"}, Run: cmdAdd},
		{Name: "remove", Description: "Remove a contact", Args: []string{"jid"}, Run: cmdRemove},
		{Name: "rename", Description: "Rename a contact", Args: []string{"jid", "name"}, Run: cmdRename},
		{Name: "groups", Description: "Set the groups of a contact", Args: []string{"jid", "[group...]"}, Run: cmdGroups},
		{Name: "approve", Description: "Let a contact see your presence", Args: []string{"jid"}, Run: cmdApprove},
		{Name: "deny", Description: "Refuse or revoke a presence subscription", Args: []string{"jid"}, Run: cmdDeny},
		{Name: "profile", Description: "Publish your full name and nickname", Args: []string{"fullname", "[nickname]"}, Run: cmdProfile},
		{Name: "send", Description: "Offer a file to a contact", Args: []string{"jid", "path"}, Run: cmdSend},
		{Name: "accept", Description: "Accept an offered file", Args: []string{"id", "[path]"}, Run: cmdAccept},
		{Name: "decline", Description: "Decline an offered file", Args: []string{"id"}, Run: cmdDecline},
		{Name: "cancel", Description: "Cancel a file transfer", Args: []string{"id"}, Run: cmdCancel},
		{Name: "transfers", Description: "List current and recorded file transfers", Run: cmdTransfers},
		{Name: "history", Description: "Show stored messages with a contact", Args: []string{"jid", "[count]"}, Run: cmdHistory},
		{Name: "plugins", Description: "List loaded plugins", Run: cmdPlugins},
	}
}

// FindCommand looks up a command by name
func FindCommand(name string) (Command, bool) {
	name = strings.TrimPrefix(name, "/")
	for _, c := range Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// Execute runs a command in the background
func (a *App) Execute(name string, args []string) tea.Cmd {
	return func() tea.Msg {
		out, err := a.Run(name, args)
		return CommandResultMsg{Command: name, Output: out, Err: err}
	}
}

// Run executes a command synchronously
func (a *App) Run(name string, args []string) ([]string, error) {
	c, ok := FindCommand(name)
	if !ok {
		return nil, fmt.Errorf("unknown command %q, try help", name)
	}
	out, err := c.Run(a, args)
	if errors.Is(err, ErrUsage) {
		return nil, fmt.Errorf("%w: %s", ErrUsage, c.Usage())
	}
	return out, err
}

func errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func parseID(s string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid transfer id %q", s)
	}
	return uint32(id), nil
}

func cmdHelp(a *App, args []string) ([]string, error) {
	if len(args) > 0 {
		c, ok := FindCommand(args[0])
		if !ok {
			return nil, fmt.Errorf("unknown command %q", args[0])
		}
		return []string{c.Usage() + "  " + c.Description}, nil
	}
	lines := make([]string, 0, len(Commands))
	for _, c := range Commands {
		lines = append(lines, fmt.Sprintf("%-28s %s", c.Usage(), c.Description))
	}
	return lines, nil
}

func cmdConnect(a *App, args []string) ([]string, error) {
	account := ""
	if len(args) > 0 {
		account = args[0]
	}
	if err := a.Connect(a.ctx, account); err != nil {
		return nil, err
	}
	return []string{"Connected as " + a.Session().LocalJID().String()}, nil
}

func cmdDisconnect(a *App, args []string) ([]string, error) {
	a.Disconnect()
	return nil, nil
}

func cmdMsg(a *App, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, ErrUsage
	}
	return nil, a.SendMessage(args[0], strings.Join(args[1:], " "))
}

func cmdStatus(a *App, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, ErrUsage
	}
	return nil, a.SetStatus(args[0], strings.Join(args[1:], " "))
}

func cmdContacts(a *App, args []string) ([]string, error) {
	contacts := a.Contacts()
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].ID.String() < contacts[j].ID.String()
	})

	var lines []string
	for i := range contacts {
		c := &contacts[i]
		if c.Kind != roster.KindContactListEntry {
			continue
		}
		state := "offline"
		if p, ok := c.Presences.Best(); ok {
			state = p.State.String()
		}
		line := fmt.Sprintf("%s (%s) [%s] %s", c.DisplayName(), c.ID, c.Subscription, state)
		if len(c.Groups) > 0 {
			line += " {" + strings.Join(c.Groups, ", ") + "}"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, "No contacts")
	}
	return lines, nil
}

func cmdAdd(a *App, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, ErrUsage
	}
	var name, group string
	if len(args) > 1 {
		name = args[1]
	}
	if len(args) > 2 {
		group = args[2]
	}
	return nil, a.AddContact(args[0], name, group, "")
}

func cmdRemove(a *App, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, ErrUsage
	}
	return nil, a.RemoveContact(args[0])
}

func cmdRename(a *App, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, ErrUsage
	}
	return nil, a.RenameContact(args[0], strings.Join(args[1:], " "))
}

func cmdGroups(a *App, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, ErrUsage
	}
	return nil, a.SetGroups(args[0], args[1:])
}

func cmdApprove(a *App, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, ErrUsage
	}
	return nil, a.ApproveSubscription(args[0])
}

func cmdDeny(a *App, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, ErrUsage
	}
	return nil, a.DenySubscription(args[0])
}

func cmdProfile(a *App, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, ErrUsage
	}
	nickname := ""
	if len(args) > 1 {
		nickname = args[1]
	}
	return nil, a.SetProfile(args[0], nickname)
}

func cmdSend(a *App, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, ErrUsage
	}
	id, err := a.SendFile(args[0], strings.Join(args[1:], " "))
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("Offered file #%d to %s", id, args[0])}, nil
}

func cmdAccept(a *App, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, ErrUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return nil, err
	}
	return nil, a.AcceptFile(id, strings.Join(args[1:], " "))
}

func cmdDecline(a *App, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, ErrUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return nil, err
	}
	return nil, a.DeclineFile(id)
}

func cmdCancel(a *App, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, ErrUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return nil, err
	}
	return nil, a.CancelFile(id)
}

func cmdTransfers(a *App, args []string) ([]string, error) {
	var lines []string
	for _, t := range a.ActiveTransfers() {
		lines = append(lines, fmt.Sprintf("#%d %s %s (%d bytes) %s", t.ID, t.Direction, t.FileName, t.FileSize, t.Peer))
	}

	recorded, err := a.TransferHistory(20)
	if err != nil {
		return lines, err
	}
	for _, t := range recorded {
		line := fmt.Sprintf("%s #%d %s %s %s %s", t.Started.Format("2006-01-02 15:04"), t.ID, t.Direction, t.FileName, t.Peer, t.Status)
		if t.Reason != "" {
			line += ": " + t.Reason
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, "No transfers")
	}
	return lines, nil
}

func cmdHistory(a *App, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, ErrUsage
	}
	limit := 20
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return nil, ErrUsage
		}
		limit = n
	}

	msgs, err := a.History(args[0], limit)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		who := m.JID
		if m.Outgoing {
			who = "me"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("2006-01-02 15:04"), who, m.Body))
	}
	return lines, nil
}

func cmdPlugins(a *App, args []string) ([]string, error) {
	var lines []string
	for _, p := range a.Plugins() {
		lines = append(lines, fmt.Sprintf("%s %s  %s", p.Name, p.Version, p.Description))
	}
	if len(lines) == 0 {
		lines = append(lines, "No plugins loaded")
	}
	return lines, nil
}
