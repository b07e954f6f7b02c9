package ft

import (
	"context"
	"os"

	"github.com/meszmate/gossip/internal/bytestream"
	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
	"github.com/meszmate/gossip/internal/xmpp/transport"
)

// openIBB starts an in-band stream for an accepted outgoing transfer.
// Blocks are sent one at a time, each after the previous was acknowledged.
func (n *Negotiator) openIBB(t *transfer) {
	f, err := os.Open(t.path)
	if err != nil {
		n.fail(t.ID, events.TransferUnknown, err.Error())
		return
	}

	iq := stanza.NewIQ(stanza.IQSet, t.Peer.String(), "")
	iq.Add(bytestream.OpenPayload(t.StreamID, n.opts.BlockSize))

	n.mu.Lock()
	if _, live := n.idx.get(t.ID); !live {
		n.mu.Unlock()
		f.Close()
		return
	}
	t.file = f
	t.out = bytestream.NewOutbound(t.StreamID, f, n.opts.BlockSize)
	n.idx.track(t, iq.Attr("id"), reqIBBOpen)
	n.mu.Unlock()

	n.send(t.ctx, iq)
}

func (n *Negotiator) sendNextBlock(t *transfer) {
	data, err := t.out.Next()
	if err != nil {
		n.fail(t.ID, events.TransferUnknown, err.Error())
		return
	}

	iq := stanza.NewIQ(stanza.IQSet, t.Peer.String(), "")
	kind := reqIBBData
	if data != nil {
		iq.Add(data)
	} else {
		iq.Add(bytestream.ClosePayload(t.StreamID))
		kind = reqIBBClose
	}

	n.mu.Lock()
	if _, live := n.idx.get(t.ID); !live {
		n.mu.Unlock()
		return
	}
	n.idx.track(t, iq.Attr("id"), kind)
	n.mu.Unlock()

	n.send(t.ctx, iq)
	if data != nil {
		n.progress(t)(t.out.Sent())
	}
}

// handleIBB processes open, data and close requests of an incoming
// in-band stream
func (n *Negotiator) handleIBB(iq, payload *stanza.Element) transport.Result {
	from, err := jid.Parse(iq.Attr("from"))
	if err != nil {
		return transport.Continue
	}
	sid := payload.Attr("sid")

	n.mu.Lock()
	t, ok := n.idx.byStreamID(from, sid)
	n.mu.Unlock()
	if !ok {
		return transport.Continue
	}

	ctx := context.Background()
	switch payload.Name.Local {
	case "open":
		_, blockSize, err := bytestream.ParseOpen(payload)
		if err != nil || t.Direction != events.Receiving || t.method != stanza.NSIBB || t.file == nil {
			n.send(ctx, stanza.ErrorReply(iq, stanza.ErrNotAcceptable))
			return transport.Stop
		}
		n.mu.Lock()
		t.in = bytestream.NewInbound(sid, t.file, blockSize)
		n.mu.Unlock()
		n.send(ctx, stanza.Result(iq))

	case "data":
		if t.in == nil {
			n.send(ctx, stanza.ErrorReply(iq, stanza.ErrItemNotFound))
			return transport.Stop
		}
		if err := t.in.Write(payload); err != nil {
			n.send(ctx, stanza.ErrorReply(iq, stanza.ErrBadRequest))
			n.fail(t.ID, events.TransferUnknown, err.Error())
			return transport.Stop
		}
		n.send(ctx, stanza.Result(iq))
		n.progress(t)(t.in.Received())

	case "close":
		n.send(ctx, stanza.Result(iq))
		if t.Direction == events.Sending {
			n.fail(t.ID, events.TransferUnknown, "peer closed the stream")
			return transport.Stop
		}
		if t.in == nil || t.in.Received() != t.FileSize {
			n.finish(t.ID, bytestream.ErrIncomplete)
			return transport.Stop
		}
		n.finish(t.ID, nil)

	default:
		return transport.Continue
	}
	return transport.Stop
}
