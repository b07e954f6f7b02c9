// Package session owns the single server connection of an account: the
// login state machine, stanza dispatch to the roster, presence and message
// handlers, and the operations the user interface drives.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meszmate/gossip/internal/clock"
	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/logging"
	"github.com/meszmate/gossip/internal/xmpp/composing"
	"github.com/meszmate/gossip/internal/xmpp/presence"
	"github.com/meszmate/gossip/internal/xmpp/roster"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
	"github.com/meszmate/gossip/internal/xmpp/transport"
)

// DefaultConnectTimeout bounds the time from Login until the stream is open.
// Some failures hang silently instead of returning a socket error.
const DefaultConnectTimeout = 210 * time.Second

// DefaultResource is used when the account has none configured
const DefaultResource = "gossip"

var (
	// ErrNotConnected is returned by operations that need a live session
	ErrNotConnected = errors.New("session: not connected")
	// ErrLoginInProgress is returned by Login while a connection exists
	ErrLoginInProgress = errors.New("session: already connecting or connected")
	// ErrLoginCancelled is returned when no password was supplied
	ErrLoginCancelled = errors.New("session: login cancelled")
	// ErrLoginAborted is returned when Logout or a timeout ended the attempt
	ErrLoginAborted = errors.New("session: login aborted")
	// ErrTimedOut is the error carried by the connect timeout event
	ErrTimedOut = errors.New("session: connection timed out")
)

// State of the connection
type State int

const (
	StateDisconnected State = iota
	StateOpening
	StateAuthenticating
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Account holds what is needed to reach and authenticate against a server
type Account struct {
	JID             jid.JID
	Password        string
	Server          string
	Port            int
	UseSSL          bool
	IgnoreSSLErrors bool
	Resource        string
	Priority        int
	Proxy           *transport.ProxyConfig
}

// PasswordFunc is asked for a password when the account has none stored.
// Returning false cancels the login.
type PasswordFunc func(ctx context.Context, account jid.JID) (string, bool)

// Extension is a protocol component sharing the connection, such as the file
// transfer negotiator. Handlers are registered on every login, before the
// session's own handlers, and Reset runs on every disconnect.
type Extension interface {
	RegisterHandlers(r *transport.Registry)
	Reset()
}

// Options configures a Manager
type Options struct {
	Account   Account
	Transport transport.Factory
	Events    events.Publisher
	Clock     clock.Clock
	Password  PasswordFunc

	ConnectTimeout   time.Duration
	ComposingTimeout time.Duration
	// RandomResource appends a random suffix to the resource so several
	// devices using the same configuration do not kick each other off.
	RandomResource bool
}

// connection is the state of one login attempt
type connection struct {
	attempt   uint64
	tr        transport.Transport
	ctx       context.Context
	cancel    context.CancelFunc
	timeout   clock.Timer
	requested bool
	rosterID  string
}

// Manager drives one account's connection. All stanza handling is
// serialized; events are published outside the state lock.
type Manager struct {
	account   Account
	newConn   transport.Factory
	publisher events.Publisher
	clock     clock.Clock
	password  PasswordFunc
	timeout   time.Duration
	randomRes bool

	registry  *transport.Registry
	composing *composing.Tracker
	dispatch  sync.Mutex

	mu         sync.Mutex
	state      State
	attempt    uint64
	conn       *connection
	self       jid.JID
	own        roster.Contact
	ownPres    presence.Presence
	cache      *roster.Cache
	extensions []Extension
	profile    *Profile
	vcardReqs  map[string]jid.JID
	eventIDs   map[string]string
}

// New creates a manager for the account
func New(opts Options) (*Manager, error) {
	if opts.Account.JID.IsZero() {
		return nil, fmt.Errorf("session: account has no address")
	}
	if opts.Transport == nil {
		opts.Transport = transport.NewConn
	}
	if opts.Events == nil {
		opts.Events = events.NewBus()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Account.Resource == "" {
		opts.Account.Resource = DefaultResource
	}

	m := &Manager{
		account:   opts.Account,
		newConn:   opts.Transport,
		publisher: opts.Events,
		clock:     opts.Clock,
		password:  opts.Password,
		timeout:   opts.ConnectTimeout,
		randomRes: opts.RandomResource,
		registry:  transport.NewRegistry(),
		cache:     roster.NewCache(),
		vcardReqs: make(map[string]jid.JID),
		eventIDs:  make(map[string]string),
	}
	m.own = roster.Contact{ID: opts.Account.JID.Bare(), Kind: roster.KindUser}
	m.ownPres = presence.Presence{
		State:    presence.Available,
		Resource: opts.Account.Resource,
		Priority: opts.Account.Priority,
	}
	m.composing = composing.New(opts.Clock, opts.ComposingTimeout, m.composingExpired)
	return m, nil
}

// composingExpired runs on the timer goroutine. It is serialized with
// stanza dispatch and skipped when the contact started typing again or the
// connection went away while it waited.
func (m *Manager) composingExpired(contact jid.JID) {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	if m.State() != StateConnected || m.composing.IsComposing(contact) {
		return
	}
	m.publish(events.Composing{Contact: contact, Composing: false})
}

func log() *logrus.Entry {
	return logging.WithFields(logging.Fields{"component": "session"})
}

// Use attaches an extension. It takes effect at the next login.
func (m *Manager) Use(ext Extension) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extensions = append(m.extensions, ext)
}

// Account returns the configured account
func (m *Manager) Account() Account {
	return m.account
}

// State returns the connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LocalJID returns the full address bound by the server, or the zero JID
// while not connected.
func (m *Manager) LocalJID() jid.JID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

func (m *Manager) publish(e events.Event) {
	m.publisher.Publish(e)
}

// current returns the live connection if it belongs to attempt.
// Callers hold m.mu.
func (m *Manager) current(attempt uint64) *connection {
	if m.conn == nil || m.conn.attempt != attempt {
		return nil
	}
	return m.conn
}

// Login opens the connection and authenticates. It blocks until the session
// is connected or the attempt failed. Failures are also published as an
// Error event after the connection was torn down.
func (m *Manager) Login(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return ErrLoginInProgress
	}

	m.attempt++
	attempt := m.attempt
	ctx, cancel := context.WithCancel(ctx)
	c := &connection{
		attempt: attempt,
		tr:      m.newConn(),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.timeout = m.clock.AfterFunc(m.timeout, func() {
		m.abort(attempt, events.ErrTimedOut, ErrTimedOut)
	})
	m.conn = c
	m.state = StateOpening
	m.ownPres.Resource = m.account.Resource
	m.mu.Unlock()

	log().WithField("jid", m.account.JID.String()).Info("connecting")
	m.publish(events.Connecting{Account: m.account.JID})

	if err := c.tr.Open(ctx, m.openConfig(), &receiver{m: m, attempt: attempt}); err != nil {
		return m.abort(attempt, transport.Classify(err), err)
	}

	m.mu.Lock()
	if m.current(attempt) == nil {
		m.mu.Unlock()
		return ErrLoginAborted
	}
	c.timeout.Stop()
	c.timeout = nil
	m.state = StateAuthenticating
	m.registerHandlers()
	m.mu.Unlock()

	password := m.account.Password
	if password == "" {
		m.publish(events.PasswordRequested{Account: m.account.JID})
		var ok bool
		if m.password != nil {
			password, ok = m.password(ctx, m.account.JID)
		}
		if !ok || password == "" {
			m.teardown(attempt, events.DisconnectRequested)
			return ErrLoginCancelled
		}
	}

	bound, err := c.tr.Authenticate(ctx, transport.Credentials{
		JID:      m.account.JID,
		Password: password,
		Resource: m.resource(),
	})
	if err != nil {
		return m.abort(attempt, events.ErrAuthFailed, err)
	}

	return m.connected(attempt, bound)
}

func (m *Manager) openConfig() transport.OpenConfig {
	return transport.OpenConfig{
		Domain:          m.account.JID.Domain(),
		Host:            m.account.Server,
		Port:            m.account.Port,
		UseSSL:          m.account.UseSSL,
		IgnoreSSLErrors: m.account.IgnoreSSLErrors,
		Proxy:           m.account.Proxy,
	}
}

func (m *Manager) resource() string {
	if !m.randomRes {
		return m.account.Resource
	}
	return m.account.Resource + "-" + stanza.NewID()[:8]
}

func (m *Manager) connected(attempt uint64, bound jid.JID) error {
	var b batch

	m.mu.Lock()
	c := m.current(attempt)
	if c == nil {
		m.mu.Unlock()
		return ErrLoginAborted
	}
	m.state = StateConnected
	m.self = bound
	m.ownPres.Resource = bound.Resource()
	m.own.ID = bound.Bare()

	c.rosterID = stanza.NewID()
	iq := stanza.NewIQ(stanza.IQGet, "", c.rosterID)
	iq.AddChild(stanza.NSRoster, "query")
	b.send(iq)
	b.send(m.presenceStanza())
	b.emit(events.Connected{JID: bound})

	if m.profile != nil {
		b.send(m.profile.vcardSet())
		m.own.Name = m.profile.displayName()
		m.profile = nil
	} else {
		b.send(m.vcardRequest(bound.Bare()))
	}
	m.mu.Unlock()

	log().WithField("jid", bound.String()).Info("connected")
	m.flush(&b)
	return nil
}

// abort unwinds a failed attempt and reports the failure
func (m *Manager) abort(attempt uint64, code events.ErrorCode, err error) error {
	if !m.teardown(attempt, events.DisconnectError) {
		return fmt.Errorf("%w: %v", ErrLoginAborted, err)
	}
	log().WithError(err).WithField("code", code.String()).Warn("login failed")
	m.publish(events.Error{Code: code, Err: err})
	return fmt.Errorf("%s: %w", code, err)
}

// Logout closes the connection. It is safe in any state.
func (m *Manager) Logout() {
	m.mu.Lock()
	c := m.conn
	if c == nil {
		m.mu.Unlock()
		return
	}
	c.requested = true
	attempt := c.attempt
	m.mu.Unlock()

	m.teardown(attempt, events.DisconnectRequested)
}

// teardown ends attempt and reports whether it was still live. Handlers are
// dropped before the transport is closed, so nothing from the old stream
// reaches the manager afterwards.
func (m *Manager) teardown(attempt uint64, reason events.DisconnectReason) bool {
	m.mu.Lock()
	c := m.current(attempt)
	if c == nil {
		m.mu.Unlock()
		return false
	}
	if c.requested {
		reason = events.DisconnectRequested
	}

	m.conn = nil
	m.state = StateDisconnected
	c.cancel()
	if c.timeout != nil {
		c.timeout.Stop()
	}
	m.registry.Reset()
	m.composing.Clear()
	m.vcardReqs = make(map[string]jid.JID)
	m.eventIDs = make(map[string]string)
	m.self = jid.JID{}
	m.own.Presences.Clear()

	swept := m.cache.Clear()
	removed := make([]events.Event, 0, len(swept))
	for _, contact := range swept {
		contact.Presences.Clear()
		removed = append(removed, events.ContactRemoved{Contact: contact.Snapshot(), Evicted: true})
	}
	exts := append([]Extension(nil), m.extensions...)
	m.mu.Unlock()

	for _, ext := range exts {
		ext.Reset()
	}
	if err := c.tr.Close(); err != nil {
		log().WithError(err).Debug("closing transport")
	}

	for _, e := range removed {
		m.publish(e)
	}
	log().WithField("reason", reason.String()).Info("disconnected")
	m.publish(events.Disconnected{Reason: reason})
	return true
}

// Send writes a stanza on the live connection
func (m *Manager) Send(ctx context.Context, el *stanza.Element) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.tr.Send(ctx, el)
}

// Registry exposes the stanza handler registry
func (m *Manager) Registry() *transport.Registry {
	return m.registry
}

// registerHandlers installs extension handlers followed by the session's
// own. The IQ handler answers unknown requests, so it must come last.
// Callers hold m.mu.
func (m *Manager) registerHandlers() {
	for _, ext := range m.extensions {
		ext.RegisterHandlers(m.registry)
	}
	m.registry.Register(stanza.KindMessage, transport.PriorityNormal, transport.HandlerFunc(m.handleMessage))
	m.registry.Register(stanza.KindPresence, transport.PriorityNormal, transport.HandlerFunc(m.handlePresence))
	m.registry.Register(stanza.KindIQ, transport.PriorityNormal, transport.HandlerFunc(m.handleIQ))
}

// receiver binds transport callbacks to one attempt
type receiver struct {
	m       *Manager
	attempt uint64
}

func (r *receiver) HandleStanza(el *stanza.Element) {
	r.m.dispatch.Lock()
	defer r.m.dispatch.Unlock()

	r.m.mu.Lock()
	live := r.m.current(r.attempt) != nil
	r.m.mu.Unlock()
	if !live {
		return
	}
	r.m.registry.Dispatch(el)
}

func (r *receiver) HandleDisconnect(err error) {
	if err != nil {
		log().WithError(err).Warn("stream closed")
	}
	r.m.teardown(r.attempt, events.DisconnectError)
}

// batch collects stanzas and events produced under the state lock, in order
type batch struct {
	actions []action
}

type action struct {
	el *stanza.Element
	ev events.Event
}

func (b *batch) send(el *stanza.Element) {
	b.actions = append(b.actions, action{el: el})
}

func (b *batch) emit(e events.Event) {
	b.actions = append(b.actions, action{ev: e})
}

func (m *Manager) flush(b *batch) {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()

	for _, a := range b.actions {
		if a.el != nil {
			if c == nil {
				continue
			}
			if err := c.tr.Send(c.ctx, a.el); err != nil {
				log().WithError(err).Warn("send failed")
			}
		}
		if a.ev != nil {
			m.publish(a.ev)
		}
	}
}

// locked runs fn under the state lock and flushes what it produced
func (m *Manager) locked(fn func(b *batch) transport.Result) transport.Result {
	var b batch
	m.mu.Lock()
	res := fn(&b)
	m.mu.Unlock()
	m.flush(&b)
	return res
}
