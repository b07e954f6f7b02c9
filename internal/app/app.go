package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/net/proxy"

	"github.com/meszmate/gossip/internal/clock"
	"github.com/meszmate/gossip/internal/config"
	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/ft"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/logging"
	"github.com/meszmate/gossip/internal/session"
	"github.com/meszmate/gossip/internal/storage/sqlite"
	"github.com/meszmate/gossip/internal/xmpp/roster"
	"github.com/meszmate/gossip/internal/xmpp/transport"
	"github.com/meszmate/gossip/pkg/plugin"
)

// ErrNoAccount is returned when no account is configured or selected
var ErrNoAccount = errors.New("no account")

// uiQueueSize is the number of engine events buffered for the interface
const uiQueueSize = 256

// ConnectResultMsg is sent when a connection attempt completes
type ConnectResultMsg struct {
	JID string
	Err error
}

// Option customizes an App
type Option func(*App)

// WithTransport replaces the network transport
func WithTransport(f transport.Factory) Option {
	return func(a *App) { a.transport = f }
}

// WithClock replaces the clock used for login and composing timeouts
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithoutPlugins skips loading plugin executables
func WithoutPlugins() Option {
	return func(a *App) { a.plugins = nil }
}

// App represents the main application
type App struct {
	cfg       *config.Config
	accounts  *config.AccountsConfig
	bus       *events.Bus
	storage   *sqlite.DB
	plugins   *plugin.Host
	transport transport.Factory
	clock     clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	ui     chan events.Event

	passwords chan passwordReply

	mu        sync.RWMutex
	account   string
	session   *session.Manager
	transfers *ft.Negotiator
}

type passwordReply struct {
	password string
	ok       bool
}

// New creates a new App instance
func New(cfg *config.Config, accounts *config.AccountsConfig, opts ...Option) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		cfg:       cfg,
		accounts:  accounts,
		bus:       events.NewBus(),
		plugins:   plugin.NewHost(cfg.Plugins.PluginDir, cfg.Plugins.Enabled),
		clock:     clock.Real{},
		ctx:       ctx,
		cancel:    cancel,
		ui:        make(chan events.Event, uiQueueSize),
		passwords: make(chan passwordReply, 1),
	}
	for _, opt := range opts {
		opt(app)
	}

	if cfg.General.DataDir != "" {
		if err := os.MkdirAll(cfg.General.DataDir, 0700); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		storage, err := sqlite.New(cfg.General.DataDir)
		if err != nil {
			// History is optional, the engine works without it
			logging.Warn("Failed to initialize storage: %v", err)
		} else {
			app.storage = storage
		}
	}

	if app.plugins != nil {
		if err := app.plugins.LoadAll(); err != nil {
			logging.Warn("Failed to load plugins: %v", err)
		}
		go app.plugins.Run(ctx)
	}

	app.bus.SubscribeAll(app.onEvent)
	return app, nil
}

// Config returns the configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Accounts returns the configured accounts
func (a *App) Accounts() []config.Account {
	return a.accounts.Accounts
}

// Events returns the engine event bus
func (a *App) Events() *events.Bus {
	return a.bus
}

// Init returns an initialization command
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.Listen(),
		a.autoConnect(),
	)
}

// Listen waits for the next engine event and hands it to the interface
func (a *App) Listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-a.ui:
			return EventMsg{Event: ev}
		case <-a.ctx.Done():
			return nil
		}
	}
}

// autoConnect connects the first account marked for it
func (a *App) autoConnect() tea.Cmd {
	for _, acc := range a.accounts.Accounts {
		if acc.AutoConnect || (a.cfg.General.AutoConnect && len(a.accounts.Accounts) == 1) {
			return a.ConnectCmd(acc.JID)
		}
	}
	return nil
}

// ConnectCmd logs in to an account in the background
func (a *App) ConnectCmd(accountJID string) tea.Cmd {
	return func() tea.Msg {
		err := a.Connect(a.ctx, accountJID)
		return ConnectResultMsg{JID: accountJID, Err: err}
	}
}

// Connect logs in to the configured account. An empty JID picks the last
// used account, or the first one. Another connected account is logged out
// first.
func (a *App) Connect(ctx context.Context, accountJID string) error {
	acc, err := a.pickAccount(accountJID)
	if err != nil {
		return err
	}

	a.drainPassword()

	a.mu.Lock()
	m := a.session
	if m != nil && a.account == acc.JID {
		a.mu.Unlock()
		return m.Login(ctx)
	}
	a.mu.Unlock()
	if m != nil {
		m.Logout()
	}

	m, n, err := a.newSession(acc)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.account = acc.JID
	a.session = m
	a.transfers = n
	a.mu.Unlock()

	if a.storage != nil {
		if err := a.storage.SetAppState("last_account", acc.JID); err != nil {
			logging.Debug("Failed to remember account: %v", err)
		}
	}
	return m.Login(ctx)
}

// drainPassword discards an answer nobody asked for
func (a *App) drainPassword() {
	select {
	case <-a.passwords:
	default:
	}
}

func (a *App) pickAccount(accountJID string) (*config.Account, error) {
	if accountJID == "" && a.storage != nil {
		accountJID, _ = a.storage.GetAppState("last_account")
	}
	if accountJID != "" {
		if acc, ok := a.accounts.Find(accountJID); ok {
			return acc, nil
		}
	}
	if accountJID == "" && len(a.accounts.Accounts) > 0 {
		return &a.accounts.Accounts[0], nil
	}
	if accountJID == "" {
		return nil, ErrNoAccount
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAccount, accountJID)
}

// newSession builds the engine for one account: the session manager with
// the file transfer negotiator attached
func (a *App) newSession(acc *config.Account) (*session.Manager, *ft.Negotiator, error) {
	addr, err := jid.Parse(acc.JID)
	if err != nil {
		return nil, nil, fmt.Errorf("account %q: %w", acc.JID, err)
	}

	var tp *transport.ProxyConfig
	var dialer proxy.Dialer
	if acc.Proxy != nil && acc.Proxy.Enabled {
		tp = &transport.ProxyConfig{
			Host:     acc.Proxy.Host,
			Port:     acc.Proxy.Port,
			Username: acc.Proxy.Username,
			Password: acc.Proxy.Password,
		}
		if dialer, err = tp.Dialer(); err != nil {
			return nil, nil, fmt.Errorf("account %q proxy: %w", acc.JID, err)
		}
	}

	m, err := session.New(session.Options{
		Account: session.Account{
			JID:             addr,
			Password:        acc.Password,
			Server:          acc.Server,
			Port:            acc.Port,
			UseSSL:          acc.UseSSL,
			IgnoreSSLErrors: acc.IgnoreSSLErrors,
			Resource:        acc.Resource,
			Priority:        acc.Priority,
			Proxy:           tp,
		},
		Transport:        a.transport,
		Events:           a.bus,
		Clock:            a.clock,
		Password:         a.promptPassword,
		ConnectTimeout:   a.cfg.Connection.ConnectTimeout.Duration,
		ComposingTimeout: a.cfg.Connection.ComposingTimeout.Duration,
		RandomResource:   a.cfg.Connection.RandomResource,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(a.cfg.Transfer.DownloadDir, 0700); err != nil {
		logging.Warn("Failed to create download directory: %v", err)
	}
	n := ft.New(m, ft.Options{
		Events:      a.bus,
		DownloadDir: a.cfg.Transfer.DownloadDir,
		ListenHost:  a.cfg.Transfer.ListenHost,
		OfferIBB:    a.cfg.Transfer.OfferIBB,
		BlockSize:   a.cfg.Transfer.IBBBlockSize,
		Dialer:      dialer,
	})
	m.Use(n)
	return m, n, nil
}

// promptPassword waits for the interface to answer a PasswordRequested
// event
func (a *App) promptPassword(ctx context.Context, account jid.JID) (string, bool) {
	select {
	case reply := <-a.passwords:
		return reply.password, reply.ok
	case <-ctx.Done():
		return "", false
	case <-a.ctx.Done():
		return "", false
	}
}

// ProvidePassword answers a pending password prompt
func (a *App) ProvidePassword(password string) {
	a.replyPassword(passwordReply{password: password, ok: true})
}

// CancelPassword refuses a pending password prompt, abandoning the login
func (a *App) CancelPassword() {
	a.replyPassword(passwordReply{})
}

func (a *App) replyPassword(r passwordReply) {
	select {
	case a.passwords <- r:
	default:
	}
}

// Disconnect logs out of the current account
func (a *App) Disconnect() {
	if m := a.Session(); m != nil {
		m.Logout()
	}
}

// Session returns the current session manager, or nil before the first
// login
func (a *App) Session() *session.Manager {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

// Transfers returns the current file transfer negotiator
func (a *App) Transfers() *ft.Negotiator {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.transfers
}

// CurrentAccount returns the current account JID
func (a *App) CurrentAccount() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.account
}

// Connected returns whether we're connected
func (a *App) Connected() bool {
	m := a.Session()
	return m != nil && m.State() == session.StateConnected
}

// Contacts returns the live contact list, or the stored one while offline
func (a *App) Contacts() []roster.Contact {
	if m := a.Session(); m != nil && m.State() == session.StateConnected {
		return m.Contacts()
	}
	account := a.CurrentAccount()
	if account == "" {
		if acc, err := a.pickAccount(""); err == nil {
			account = acc.JID
		}
	}
	return a.CachedContacts(account)
}

// CachedContacts returns the contact list stored for an account
func (a *App) CachedContacts(account string) []roster.Contact {
	if a.storage == nil || account == "" {
		return nil
	}

	entries, err := a.storage.GetRoster(account)
	if err != nil {
		logging.Warn("Failed to load roster for %s: %v", account, err)
		return nil
	}

	contacts := make([]roster.Contact, 0, len(entries))
	for _, e := range entries {
		addr, err := jid.Parse(e.JID)
		if err != nil {
			continue
		}
		contacts = append(contacts, roster.Contact{
			ID:           addr,
			Name:         e.Name,
			Kind:         roster.KindContactListEntry,
			Subscription: roster.ParseSubscription(e.Subscription),
			Groups:       e.Groups,
		})
	}
	return contacts
}

// History returns the stored conversation with a contact
func (a *App) History(contact string, limit int) ([]sqlite.Message, error) {
	if a.storage == nil {
		return nil, nil
	}
	addr, err := jid.Parse(contact)
	if err != nil {
		return nil, err
	}
	return a.storage.GetMessages(a.CurrentAccount(), addr.BareString(), limit, 0)
}

// TransferHistory returns recorded file transfers, newest first
func (a *App) TransferHistory(limit int) ([]sqlite.Transfer, error) {
	if a.storage == nil {
		return nil, nil
	}
	return a.storage.GetTransfers(a.CurrentAccount(), limit)
}

// Plugins lists the loaded plugins
func (a *App) Plugins() []*plugin.LoadedPlugin {
	if a.plugins == nil {
		return nil
	}
	return a.plugins.List()
}

// Close closes the app
func (a *App) Close() {
	a.Disconnect()
	a.cancel()
	if a.plugins != nil {
		a.plugins.UnloadAll()
	}
	if a.storage != nil {
		a.storage.Close()
	}
}
