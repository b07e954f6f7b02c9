// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"sync"

	xmppstanza "mellium.im/xmpp/stanza"

	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
	"github.com/meszmate/gossip/internal/xmpp/transport"
)

// Fake records what the engine sends and lets tests inject stanzas.
type Fake struct {
	mu sync.Mutex

	OpenErr error
	AuthErr error
	// Bound overrides the address returned by Authenticate
	Bound jid.JID
	// BlockOpen makes Open wait until the context is done
	BlockOpen bool

	receiver transport.Receiver
	opened   transport.OpenConfig
	creds    transport.Credentials
	sent     []*stanza.Element
	closed   bool
	dropped  bool
}

// New returns a fake transport
func New() *Fake {
	return &Fake{}
}

// Factory returns a transport.Factory always handing out f
func (f *Fake) Factory() transport.Factory {
	return func() transport.Transport { return f }
}

// Open implements transport.Transport
func (f *Fake) Open(ctx context.Context, cfg transport.OpenConfig, r transport.Receiver) error {
	f.mu.Lock()
	f.receiver = r
	f.opened = cfg
	f.closed = false
	f.dropped = false
	block := f.BlockOpen
	err := f.OpenErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// Authenticate implements transport.Transport
func (f *Fake) Authenticate(_ context.Context, creds transport.Credentials) (jid.JID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creds = creds
	if f.AuthErr != nil {
		return jid.JID{}, f.AuthErr
	}
	if !f.Bound.IsZero() {
		return f.Bound, nil
	}
	return creds.JID.Bare().WithResource(creds.Resource)
}

// Send implements transport.Transport
func (f *Fake) Send(_ context.Context, el *stanza.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return transport.ErrClosed
	}
	f.sent = append(f.sent, el)
	return nil
}

// Close implements transport.Transport. Like a real stream it reports the
// disconnect to the receiver.
func (f *Fake) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	r := f.receiver
	f.mu.Unlock()

	f.notify(r, nil)
	return nil
}

// Deliver hands an inbound stanza to the receiver
func (f *Fake) Deliver(el *stanza.Element) {
	f.mu.Lock()
	r := f.receiver
	f.mu.Unlock()
	r.HandleStanza(el)
}

// DeliverXML parses s and delivers it, panicking on malformed input
func (f *Fake) DeliverXML(s string) {
	el, err := stanza.Parse(s)
	if err != nil {
		panic(err)
	}
	f.Deliver(el)
}

// Drop simulates the server closing the stream
func (f *Fake) Drop(err error) {
	f.mu.Lock()
	f.closed = true
	r := f.receiver
	f.mu.Unlock()
	f.notify(r, err)
}

func (f *Fake) notify(r transport.Receiver, err error) {
	f.mu.Lock()
	if f.dropped || r == nil {
		f.mu.Unlock()
		return
	}
	f.dropped = true
	f.mu.Unlock()
	r.HandleDisconnect(err)
}

// Sent returns everything sent so far
func (f *Fake) Sent() []*stanza.Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*stanza.Element(nil), f.sent...)
}

// SentMatching returns sent stanzas accepted by match
func (f *Fake) SentMatching(match func(*stanza.Element) bool) []*stanza.Element {
	var out []*stanza.Element
	for _, el := range f.Sent() {
		if match(el) {
			out = append(out, el)
		}
	}
	return out
}

// Last returns the most recently sent stanza, or nil
func (f *Fake) Last() *stanza.Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// Reset forgets sent stanzas
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// Opened returns the config passed to Open
func (f *Fake) Opened() transport.OpenConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Credentials returns what Authenticate received
func (f *Fake) Credentials() transport.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds
}

// Closed reports whether Close or Drop was called
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// IQType matches IQs of type typ with a payload in namespace ns
func IQType(typ xmppstanza.IQType, ns string) func(*stanza.Element) bool {
	return func(el *stanza.Element) bool {
		return stanza.KindOf(el) == stanza.KindIQ && stanza.IQTypeOf(el) == typ && stanza.QueryNS(el) == ns
	}
}

// Kind matches stanzas of the given kind
func Kind(k stanza.Kind) func(*stanza.Element) bool {
	return func(el *stanza.Element) bool { return stanza.KindOf(el) == k }
}
