// Package transport is the boundary between the engine and the XML stream.
// The Transport interface is what the session manager drives; Conn is the
// implementation on top of mellium.im/xmpp.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
)

// ProxyConfig describes a SOCKS5 proxy for the account connection
type ProxyConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// OpenConfig describes how to reach the server
type OpenConfig struct {
	Domain          string
	Host            string
	Port            int
	UseSSL          bool
	IgnoreSSLErrors bool
	Proxy           *ProxyConfig
}

// Address returns host:port, defaulting to the domain and the standard ports
func (c OpenConfig) Address() string {
	host := c.Host
	if host == "" {
		host = c.Domain
	}
	port := c.Port
	if port == 0 {
		port = 5222
		if c.UseSSL {
			port = 5223
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}

// Credentials authenticate the stream
type Credentials struct {
	JID      jid.JID
	Password string
	Resource string
}

// Receiver gets everything the transport reads
type Receiver interface {
	HandleStanza(el *stanza.Element)
	// HandleDisconnect is called once when the stream ends. err is nil when
	// Close was called locally.
	HandleDisconnect(err error)
}

// Transport carries stanzas for one connection attempt
type Transport interface {
	Open(ctx context.Context, cfg OpenConfig, r Receiver) error
	Authenticate(ctx context.Context, creds Credentials) (jid.JID, error)
	Send(ctx context.Context, el *stanza.Element) error
	Close() error
}

// Factory creates a fresh transport for every login
type Factory func() Transport

// ErrClosed is returned when sending on a closed transport
var ErrClosed = errors.New("transport: closed")

// OpenError is a failure to reach the server
type OpenError struct {
	Code events.ErrorCode
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open failed (%s): %v", e.Code, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// AuthError is a failure to authenticate or bind
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Classify maps a dial error to a connection error code
func Classify(err error) events.ErrorCode {
	var dnsErr *net.DNSError
	var netErr net.Error
	var openErr *OpenError
	var authErr *AuthError

	switch {
	case errors.As(err, &openErr):
		return openErr.Code
	case errors.As(err, &authErr):
		return events.ErrAuthFailed
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return events.ErrTimedOut
		}
		return events.ErrNoSuchHost
	case errors.Is(err, context.DeadlineExceeded):
		return events.ErrTimedOut
	case errors.As(err, &netErr) && netErr.Timeout():
		return events.ErrTimedOut
	default:
		return events.ErrNoConnection
	}
}
