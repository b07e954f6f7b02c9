// Package ft negotiates file transfers with Stream Initiation (XEP-0095,
// XEP-0096) and hands the bytes to a SOCKS5 or in-band bytestream.
//
// Every transfer lives in one index keyed by local id and reachable by the
// originating stanza id, by peer address plus stream id, and by peer bare
// address. Replies and bytestream negotiation stanzas arrive asynchronously
// and are matched through those keys; a miss means the stanza belongs to
// somebody else and is left for other handlers.
package ft

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/meszmate/gossip/internal/bytestream"
	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/logging"
	"github.com/meszmate/gossip/internal/xmpp/roster"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
	"github.com/meszmate/gossip/internal/xmpp/transport"
)

// StreamIDPrefix tags the stream ids this client generates
const StreamIDPrefix = "gossip_ft_"

// DefaultAcceptTimeout bounds how long a streamhost waits for the target
const DefaultAcceptTimeout = 2 * time.Minute

var (
	// ErrFileUnavailable is returned when the file to send cannot be read
	ErrFileUnavailable = errors.New("ft: file unavailable")
	// ErrUnknownTransfer is returned for ids that are not live
	ErrUnknownTransfer = errors.New("ft: unknown transfer")
	// ErrPeerOffline is returned when a bare address has no resource online
	ErrPeerOffline = errors.New("ft: peer is offline")

	errNoStreamhost = errors.New("ft: no streamhost reachable")
)

// Session is the connection the negotiator sends through
type Session interface {
	Send(ctx context.Context, el *stanza.Element) error
	LocalJID() jid.JID
	Resolve(j jid.JID) roster.Contact
}

// Options configures a Negotiator
type Options struct {
	Events events.Publisher
	// DownloadDir receives accepted files
	DownloadDir string
	// ListenHost is the address streamhosts bind to and advertise. Empty
	// binds every interface and advertises the first non-loopback address.
	ListenHost string
	// OfferIBB lists in-band bytestreams after SOCKS5 in outgoing offers
	OfferIBB      bool
	BlockSize     int
	Dialer        proxy.Dialer
	AcceptTimeout time.Duration
}

type transfer struct {
	events.Transfer

	stanzaID string
	path     string
	methods  []string
	method   string
	requests map[string]request

	ctx      context.Context
	cancel   context.CancelFunc
	file     *os.File
	listener *bytestream.Listener
	accepted chan net.Conn
	in       *bytestream.Inbound
	out      *bytestream.Outbound
}

// release frees everything the transfer holds. Partial downloads are
// deleted unless keep is set.
func (t *transfer) release(keep bool) {
	t.cancel()
	if t.listener != nil {
		t.listener.Close()
	}
	if t.file != nil {
		t.file.Close()
		if !keep && t.Direction == events.Receiving {
			os.Remove(t.path)
		}
	}
}

// Negotiator runs file transfers for one session
type Negotiator struct {
	session   Session
	publisher events.Publisher
	opts      Options

	mu  sync.Mutex
	idx *index
}

// Transfer ids and generated stream ids are shared by every negotiator so
// they stay unique across account switches.
var (
	lastTransferID atomic.Uint32
	lastStreamSeq  atomic.Uint64
)

// New creates a negotiator sending through s
func New(s Session, opts Options) *Negotiator {
	if opts.Events == nil {
		opts.Events = events.NewBus()
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = bytestream.DefaultBlockSize
	}
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = DefaultAcceptTimeout
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = os.TempDir()
	}
	return &Negotiator{
		session:   s,
		publisher: opts.Events,
		opts:      opts,
		idx:       newIndex(),
	}
}

func log() *logrus.Entry {
	return logging.WithFields(logging.Fields{"component": "ft"})
}

// RegisterHandlers installs the IQ handler. The session calls it on every
// login.
func (n *Negotiator) RegisterHandlers(r *transport.Registry) {
	r.Register(stanza.KindIQ, transport.PriorityNormal, transport.HandlerFunc(n.handleIQ))
}

// Reset abandons every transfer. The session calls it on disconnect.
func (n *Negotiator) Reset() {
	n.mu.Lock()
	all := n.idx.all()
	for _, t := range all {
		n.idx.remove(t.ID)
	}
	n.mu.Unlock()

	for _, t := range all {
		t.release(false)
		n.publisher.Publish(events.FileTransferError{ID: t.ID, Kind: events.TransferUnknown, Reason: "disconnected"})
	}
}

// Transfers lists the live transfers ordered by id
func (n *Negotiator) Transfers() []events.Transfer {
	n.mu.Lock()
	defer n.mu.Unlock()

	all := n.idx.all()
	out := make([]events.Transfer, 0, len(all))
	for _, t := range all {
		out = append(out, t.Transfer)
	}
	return out
}

// Transfer returns a live transfer
func (n *Negotiator) Transfer(id uint32) (events.Transfer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.idx.get(id)
	if !ok {
		return events.Transfer{}, false
	}
	return t.Transfer, true
}

func (n *Negotiator) newTransfer(tr events.Transfer, stanzaID string) *transfer {
	tr.ID = lastTransferID.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	return &transfer{Transfer: tr, stanzaID: stanzaID, ctx: ctx, cancel: cancel}
}

// Send offers a file to peer and returns the local transfer id. Bytes move
// only after the peer accepted. A bare address is completed with the
// peer's most available resource.
func (n *Negotiator) Send(peer jid.JID, path string) (uint32, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFileUnavailable, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s is not a regular file", ErrFileUnavailable, path)
	}

	if !peer.HasResource() {
		contact := n.session.Resolve(peer)
		best, ok := contact.Presences.Best()
		if !ok {
			return 0, ErrPeerOffline
		}
		if peer, err = peer.WithResource(best.Resource); err != nil {
			return 0, err
		}
	}

	n.mu.Lock()
	t := n.newTransfer(events.Transfer{
		Peer:      peer,
		Direction: events.Sending,
		FileName:  filepath.Base(path),
		FileSize:  uint64(info.Size()),
		MimeType:  mimeType(path),
		StreamID:  StreamIDPrefix + strconv.FormatUint(lastStreamSeq.Add(1), 10),
	}, stanza.NewID())
	t.path = path
	n.idx.insert(t)
	n.mu.Unlock()

	methods := []string{stanza.NSBytestreams}
	if n.opts.OfferIBB {
		methods = append(methods, stanza.NSIBB)
	}
	if err := n.session.Send(t.ctx, offer(t, methods)); err != nil {
		n.drop(t.ID)
		return 0, err
	}

	log().WithFields(logging.Fields{"ft_id": t.ID, "peer": peer.String(), "sid": t.StreamID}).Info("file offered")
	return t.ID, nil
}

func mimeType(path string) string {
	typ := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = strings.TrimSpace(typ[:i])
	}
	if typ == "" {
		return "application/octet-stream"
	}
	return typ
}

// Accept takes an offered file, saving it in the download directory
func (n *Negotiator) Accept(id uint32) error {
	return n.AcceptTo(id, "")
}

// AcceptTo takes an offered file, saving it at path. An empty path picks a
// free name in the download directory.
func (n *Negotiator) AcceptTo(id uint32, path string) error {
	n.mu.Lock()
	t, ok := n.idx.get(id)
	if !ok || t.Direction != events.Receiving || t.method != "" {
		n.mu.Unlock()
		return ErrUnknownTransfer
	}
	_, peerOK := n.idx.peerOf(id)
	stanzaID, stanzaOK := n.idx.stanzaIDOf(id)
	if !peerOK || !stanzaOK {
		n.mu.Unlock()
		log().WithField("ft_id", id).Warn("transfer has no peer or request id")
		return ErrUnknownTransfer
	}

	if path == "" {
		path = freePath(n.opts.DownloadDir, t.FileName)
	}
	f, err := os.Create(path)
	if err != nil {
		n.mu.Unlock()
		return fmt.Errorf("ft: create %s: %w", path, err)
	}
	t.file = f
	t.path = path
	t.method = chooseMethod(t.methods)
	info := t.Transfer
	reply := acceptReply(t.Peer, stanzaID, t.method)
	n.mu.Unlock()

	if err := n.session.Send(t.ctx, reply); err != nil {
		n.fail(id, events.TransferUnknown, err.Error())
		return err
	}
	n.publisher.Publish(events.FileTransferAccepted{Transfer: info})
	return nil
}

// Decline refuses an offered file and forgets it
func (n *Negotiator) Decline(id uint32) error {
	t, ok := n.drop(id)
	if !ok {
		return ErrUnknownTransfer
	}
	if t.Direction != events.Receiving {
		return nil
	}

	iq := stanza.NewIQ(stanza.IQError, t.Peer.String(), t.stanzaID)
	iq.Add(stanza.ErrDeclined.Element())
	return n.session.Send(context.Background(), iq)
}

// Cancel abandons a transfer locally. The peer is not told; its side ends
// when the bytestream closes or times out.
func (n *Negotiator) Cancel(id uint32) error {
	if _, ok := n.drop(id); !ok {
		return ErrUnknownTransfer
	}
	return nil
}

// drop removes a transfer and releases it without reporting anything
func (n *Negotiator) drop(id uint32) (*transfer, bool) {
	n.mu.Lock()
	t, ok := n.idx.remove(id)
	n.mu.Unlock()
	if ok {
		t.release(false)
	}
	return t, ok
}

// fail removes a transfer and reports the error
func (n *Negotiator) fail(id uint32, kind events.TransferErrorKind, reason string) {
	if _, ok := n.drop(id); !ok {
		return
	}
	log().WithFields(logging.Fields{"ft_id": id, "kind": kind.String()}).Warn(reason)
	n.publisher.Publish(events.FileTransferError{ID: id, Kind: kind, Reason: reason})
}

// finish removes a transfer that moved all its bytes, or failed doing so
func (n *Negotiator) finish(id uint32, err error) {
	if err != nil {
		n.fail(id, events.TransferUnknown, err.Error())
		return
	}

	n.mu.Lock()
	t, ok := n.idx.remove(id)
	n.mu.Unlock()
	if !ok {
		return
	}
	t.release(true)

	log().WithFields(logging.Fields{"ft_id": id, "path": t.path}).Info("transfer complete")
	n.publisher.Publish(events.FileTransferComplete{Transfer: t.Transfer, Path: t.path})
}

func (n *Negotiator) progress(t *transfer) bytestream.Progress {
	return func(done uint64) {
		n.publisher.Publish(events.FileTransferProgress{ID: t.ID, Transferred: done, Total: t.FileSize})
	}
}

func (n *Negotiator) send(ctx context.Context, el *stanza.Element) {
	if err := n.session.Send(ctx, el); err != nil {
		log().WithError(err).Warn("send failed")
	}
}

// freePath returns dir/name, numbering the name when the file exists
func freePath(dir, name string) string {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		name = "download"
	}
	path := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
}

// handleIQ routes IQs in the namespaces the negotiator owns
func (n *Negotiator) handleIQ(el *stanza.Element) transport.Result {
	switch stanza.IQTypeOf(el) {
	case stanza.IQSet:
		payload := stanza.Payload(el)
		if payload == nil {
			return transport.Continue
		}
		switch {
		case payload.Name.Space == stanza.NSSI && payload.Name.Local == "si":
			return n.handleOffer(el, payload)
		case payload.Name.Space == stanza.NSBytestreams && payload.Name.Local == "query":
			return n.handleStreamhosts(el, payload)
		case payload.Name.Space == stanza.NSIBB:
			return n.handleIBB(el, payload)
		}
	case stanza.IQResult:
		return n.handleResult(el)
	case stanza.IQError:
		return n.handleError(el)
	}
	return transport.Continue
}

func (n *Negotiator) handleResult(el *stanza.Element) transport.Result {
	id := el.Attr("id")
	from, err := jid.Parse(el.Attr("from"))
	if err != nil {
		return transport.Continue
	}

	n.mu.Lock()
	if t, ok := n.idx.byStanzaID(from, id); ok && t.Direction == events.Sending && t.method == "" {
		method := selectedMethod(el)
		if method != stanza.NSBytestreams && !(method == stanza.NSIBB && n.opts.OfferIBB) {
			n.mu.Unlock()
			return transport.Continue
		}
		t.method = method
		info := t.Transfer
		n.mu.Unlock()

		n.publisher.Publish(events.FileTransferAccepted{Transfer: info})
		if method == stanza.NSBytestreams {
			n.offerStreamhost(t)
		} else {
			n.openIBB(t)
		}
		return transport.Stop
	}

	t, kind, ok := n.idx.byRequest(from, id)
	if !ok {
		n.mu.Unlock()
		return transport.Continue
	}
	n.idx.untrack(id)
	n.mu.Unlock()

	switch kind {
	case reqStreamhosts:
		n.activate(t, el)
	case reqIBBOpen, reqIBBData:
		n.sendNextBlock(t)
	case reqIBBClose:
		n.finish(t.ID, nil)
	}
	return transport.Stop
}

func (n *Negotiator) handleError(el *stanza.Element) transport.Result {
	id := el.Attr("id")
	from, err := jid.Parse(el.Attr("from"))
	if err != nil {
		return transport.Continue
	}

	n.mu.Lock()
	t, ok := n.idx.byStanzaID(from, id)
	if !ok {
		t, _, ok = n.idx.byRequest(from, id)
	}
	n.mu.Unlock()
	if !ok {
		log().WithField("id", id).Debug("error for unknown transfer")
		return transport.Continue
	}

	se, _ := stanza.ParseError(el)
	n.fail(t.ID, events.TransferErrorKindFromCode(se.Code), se.Description())
	return transport.Stop
}
