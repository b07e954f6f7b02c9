package transport

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/proxy"
	"mellium.im/sasl"
	"mellium.im/xmpp"

	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/logging"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
)

// DialTimeout bounds the TCP dial. The session manager runs its own, longer
// connect timeout around the whole login.
const DialTimeout = 30 * time.Second

// Conn is a Transport backed by a mellium XMPP session
type Conn struct {
	mu       sync.Mutex
	cfg      OpenConfig
	netConn  net.Conn
	session  *xmpp.Session
	receiver Receiver
	secure   bool
	closed   bool
	reading  bool
	once     sync.Once
}

// NewConn returns an unopened connection. It satisfies Factory.
func NewConn() Transport {
	return &Conn{}
}

// Open dials the server, through a SOCKS5 proxy and with direct TLS when
// configured.
func (c *Conn) Open(ctx context.Context, cfg OpenConfig, r Receiver) error {
	c.mu.Lock()
	c.cfg = cfg
	c.receiver = r
	c.mu.Unlock()

	addr := cfg.Address()
	logging.WithFields(logging.Fields{
		"component": "transport",
		"addr":      addr,
		"ssl":       cfg.UseSSL,
		"proxy":     cfg.Proxy != nil,
	}).Info("Opening connection")

	conn, err := dial(ctx, cfg, addr)
	if err != nil {
		return &OpenError{Code: Classify(err), Err: err}
	}

	if cfg.UseSSL {
		tlsConn := tls.Client(conn, c.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return &OpenError{Code: Classify(err), Err: fmt.Errorf("tls handshake: %w", err)}
		}
		conn = tlsConn
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return ErrClosed
	}
	c.netConn = conn
	c.secure = cfg.UseSSL
	return nil
}

func dial(ctx context.Context, cfg OpenConfig, addr string) (net.Conn, error) {
	d, err := cfg.Proxy.Dialer()
	if err != nil {
		return nil, err
	}
	return DialContext(ctx, d, addr)
}

// Dialer returns a dialer going through the proxy, or a direct dialer when
// p is nil.
func (p *ProxyConfig) Dialer() (proxy.Dialer, error) {
	direct := &net.Dialer{Timeout: DialTimeout}
	if p == nil {
		return direct, nil
	}

	var auth *proxy.Auth
	if p.Username != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}
	d, err := proxy.SOCKS5("tcp", net.JoinHostPort(p.Host, strconv.Itoa(p.Port)), auth, direct)
	if err != nil {
		return nil, fmt.Errorf("proxy setup: %w", err)
	}
	return d, nil
}

// DialContext dials addr over TCP, honoring ctx when the dialer supports it
func DialContext(ctx context.Context, d proxy.Dialer, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return d.Dial("tcp", addr)
}

func (c *Conn) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.cfg.Domain,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.cfg.IgnoreSSLErrors,
	}
}

// Authenticate negotiates StartTLS (unless already secure), SASL and
// resource binding, then starts reading stanzas.
func (c *Conn) Authenticate(ctx context.Context, creds Credentials) (jid.JID, error) {
	c.mu.Lock()
	conn := c.netConn
	secure := c.secure
	c.mu.Unlock()
	if conn == nil {
		return jid.JID{}, ErrClosed
	}

	origin, err := creds.JID.Bare().WithResource(creds.Resource)
	if err != nil {
		return jid.JID{}, &AuthError{Err: err}
	}

	features := []xmpp.StreamFeature{}
	if !secure {
		features = append(features, xmpp.StartTLS(c.tlsConfig()))
	}
	features = append(features,
		xmpp.SASL("", creds.Password, sasl.ScramSha256Plus, sasl.ScramSha256, sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
		xmpp.BindResource(),
	)
	negotiator := xmpp.NewNegotiator(func(_ *xmpp.Session, _ *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{Features: features}
	})

	var state xmpp.SessionState
	if secure {
		state = xmpp.Secure
	}

	session, err := xmpp.NewSession(ctx, origin.XMPP().Domain(), origin.XMPP(), conn, state, negotiator)
	if err != nil {
		return jid.JID{}, &AuthError{Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		session.Close()
		return jid.JID{}, ErrClosed
	}
	c.session = session
	c.reading = true
	c.mu.Unlock()

	go c.readLoop(session)

	return jid.FromXMPP(session.LocalAddr()), nil
}

func (c *Conn) readLoop(session *xmpp.Session) {
	r := session.TokenReader()
	defer r.Close()

	d := xml.NewTokenDecoder(r)
	for {
		tok, err := d.Token()
		if err != nil {
			c.finish(err)
			return
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var el stanza.Element
		if err := d.DecodeElement(&el, &start); err != nil {
			c.finish(err)
			return
		}

		c.mu.Lock()
		receiver := c.receiver
		closed := c.closed
		c.mu.Unlock()
		if closed {
			c.finish(nil)
			return
		}
		receiver.HandleStanza(&el)
	}
}

func (c *Conn) finish(err error) {
	c.mu.Lock()
	if c.closed || errors.Is(err, io.EOF) {
		err = nil
	}
	receiver := c.receiver
	c.mu.Unlock()

	c.once.Do(func() {
		if receiver != nil {
			receiver.HandleDisconnect(err)
		}
	})
}

// Send encodes a stanza onto the stream
func (c *Conn) Send(ctx context.Context, el *stanza.Element) error {
	c.mu.Lock()
	session := c.session
	closed := c.closed
	c.mu.Unlock()

	if closed || session == nil {
		return ErrClosed
	}
	return session.Encode(ctx, el)
}

// Close ends the stream. The receiver's HandleDisconnect fires exactly once,
// from the read loop when it is running, otherwise from here.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	session := c.session
	conn := c.netConn
	reading := c.reading
	c.mu.Unlock()

	var firstErr error
	if session != nil {
		if err := session.Close(); err != nil {
			firstErr = err
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil && firstErr == nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}
	if !reading {
		c.finish(nil)
	}
	return firstErr
}
