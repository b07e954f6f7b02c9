package bytestream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/meszmate/gossip/internal/logging"
	"github.com/meszmate/gossip/internal/xmpp/transport"
)

// HandshakeTimeout bounds the SOCKS5 negotiation on a fresh connection
const HandshakeTimeout = 10 * time.Second

const (
	socksVersion   = 5
	methodNoAuth   = 0
	cmdConnect     = 1
	atypIPv4       = 1
	atypDomain     = 3
	atypIPv6       = 4
	replySucceeded = 0
	replyRefused   = 5
)

var (
	errBadHandshake = errors.New("bytestream: malformed socks5 handshake")
	errRefused      = errors.New("bytestream: destination refused")
)

// Listener is a local streamhost the transfer target connects to
type Listener struct {
	ln   net.Listener
	once sync.Once
}

// Listen opens a streamhost on host with an ephemeral port
func Listen(host string) (*Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("streamhost listen: %w", err)
	}
	return &Listener{ln: ln}, nil
}

// Port returns the listening port
func (l *Listener) Port() int {
	if addr, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Accept waits for a connection requesting dst and closes the listener
// when it returns. Every connection is negotiated on its own goroutine so
// a stalled client cannot hold up the target. Only the first connection
// asking for dst is answered with success; the rest are refused.
func (l *Listener) Accept(ctx context.Context, dst string) (net.Conn, error) {
	defer l.Close()

	var (
		mu      sync.Mutex
		claimed bool
		done    bool
	)
	claim := func(got string) bool {
		mu.Lock()
		defer mu.Unlock()
		if got != dst || claimed || done {
			return false
		}
		claimed = true
		return true
	}

	won := make(chan net.Conn, 1)
	failed := make(chan error, 1)
	go func() {
		for {
			conn, err := l.ln.Accept()
			if err != nil {
				failed <- err
				return
			}
			go func() {
				if err := serverHandshake(conn, claim); err != nil {
					logging.WithFields(logging.Fields{"component": "socks5", "remote": conn.RemoteAddr().String()}).
						WithError(err).Debug("rejected streamhost connection")
					conn.Close()
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if done {
					conn.Close()
					return
				}
				won <- conn
			}()
		}
	}()

	var err error
	select {
	case conn := <-won:
		return conn, nil
	case err = <-failed:
	case <-ctx.Done():
		err = ctx.Err()
	}

	mu.Lock()
	done = true
	select {
	case conn := <-won:
		conn.Close()
	default:
	}
	mu.Unlock()
	return nil, err
}

// Close stops listening
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() { err = l.ln.Close() })
	return err
}

// serverHandshake runs the streamhost side of the negotiation. The
// requested destination is answered with success only when claim accepts
// it.
func serverHandshake(conn net.Conn, claim func(dst string) bool) error {
	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil {
		return err
	}
	if head[0] != socksVersion || head[1] == 0 {
		return errBadHandshake
	}
	methods := make([]byte, head[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return err
	}
	if _, err := conn.Write([]byte{socksVersion, methodNoAuth}); err != nil {
		return err
	}

	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil {
		return err
	}
	if req[0] != socksVersion || req[1] != cmdConnect || req[3] != atypDomain {
		return errBadHandshake
	}
	size := make([]byte, 1)
	if _, err := io.ReadFull(conn, size); err != nil {
		return err
	}
	name := make([]byte, int(size[0])+2)
	if _, err := io.ReadFull(conn, name); err != nil {
		return err
	}
	got := string(name[:size[0]])

	if !claim(got) {
		conn.Write(connectReply(replyRefused, got))
		return errRefused
	}
	_, err := conn.Write(connectReply(replySucceeded, got))
	return err
}

func connectReply(code byte, dst string) []byte {
	out := []byte{socksVersion, code, 0, atypDomain, byte(len(dst))}
	out = append(out, dst...)
	return append(out, 0, 0)
}

// Dial connects to a streamhost through d and requests dst. XEP-0065 sends
// port 0 in the request, which generic SOCKS clients refuse, so the
// negotiation is done here.
func Dial(ctx context.Context, d proxy.Dialer, sh Streamhost, dst string) (net.Conn, error) {
	if d == nil {
		d = &net.Dialer{Timeout: HandshakeTimeout}
	}
	conn, err := transport.DialContext(ctx, d, net.JoinHostPort(sh.Host, strconv.Itoa(sh.Port)))
	if err != nil {
		return nil, err
	}
	if err := clientHandshake(conn, dst); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func clientHandshake(conn net.Conn, dst string) error {
	if len(dst) > 255 {
		return errBadHandshake
	}
	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write([]byte{socksVersion, 1, methodNoAuth}); err != nil {
		return err
	}
	sel := make([]byte, 2)
	if _, err := io.ReadFull(conn, sel); err != nil {
		return err
	}
	if sel[0] != socksVersion || sel[1] != methodNoAuth {
		return errBadHandshake
	}

	req := []byte{socksVersion, cmdConnect, 0, atypDomain, byte(len(dst))}
	req = append(req, dst...)
	req = append(req, 0, 0)
	if _, err := conn.Write(req); err != nil {
		return err
	}

	head := make([]byte, 4)
	if _, err := io.ReadFull(conn, head); err != nil {
		return err
	}
	if head[1] != replySucceeded {
		return fmt.Errorf("bytestream: streamhost refused connection (code %d)", head[1])
	}

	var skip int
	switch head[3] {
	case atypIPv4:
		skip = net.IPv4len
	case atypIPv6:
		skip = net.IPv6len
	case atypDomain:
		size := make([]byte, 1)
		if _, err := io.ReadFull(conn, size); err != nil {
			return err
		}
		skip = int(size[0])
	default:
		return errBadHandshake
	}
	_, err := io.ReadFull(conn, make([]byte, skip+2))
	return err
}
