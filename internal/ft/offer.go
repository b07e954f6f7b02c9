package ft

import (
	"context"
	"strconv"

	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
	"github.com/meszmate/gossip/internal/xmpp/transport"
)

const streamMethodField = "stream-method"

// offer builds the SI file transfer offer for t
func offer(t *transfer, methods []string) *stanza.Element {
	iq := stanza.NewIQ(stanza.IQSet, t.Peer.String(), t.stanzaID)

	si := iq.AddChild(stanza.NSSI, "si")
	si.SetAttr("id", t.StreamID)
	si.SetAttr("mime-type", t.MimeType)
	si.SetAttr("profile", stanza.NSSIFileTransfer)

	file := si.AddChild(stanza.NSSIFileTransfer, "file")
	file.SetAttr("name", t.FileName)
	file.SetAttr("size", strconv.FormatUint(t.FileSize, 10))

	x := si.AddChild(stanza.NSFeatureNeg, "feature").AddChild(stanza.NSData, "x")
	x.SetAttr("type", "form")
	field := x.AddChild("", "field")
	field.SetAttr("var", streamMethodField)
	field.SetAttr("type", "list-single")
	for _, m := range methods {
		field.AddChild("", "option").AddTextChild("value", m)
	}
	return iq
}

// acceptReply answers an offer choosing method
func acceptReply(peer jid.JID, stanzaID, method string) *stanza.Element {
	iq := stanza.NewIQ(stanza.IQResult, peer.String(), stanzaID)
	x := iq.AddChild(stanza.NSSI, "si").
		AddChild(stanza.NSFeatureNeg, "feature").
		AddChild(stanza.NSData, "x")
	x.SetAttr("type", "submit")
	field := x.AddChild("", "field")
	field.SetAttr("var", streamMethodField)
	field.AddTextChild("value", method)
	return iq
}

// findStreamMethod finds the stream-method field of an SI payload
func findStreamMethod(si *stanza.Element) *stanza.Element {
	if si == nil {
		return nil
	}
	feature := si.ChildNS(stanza.NSFeatureNeg, "feature")
	if feature == nil {
		return nil
	}
	x := feature.ChildNS(stanza.NSData, "x")
	if x == nil {
		return nil
	}
	for _, f := range x.ChildrenNamed("field") {
		if f.Attr("var") == streamMethodField {
			return f
		}
	}
	return nil
}

// selectedMethod returns the method a peer chose in its SI result
func selectedMethod(iq *stanza.Element) string {
	field := findStreamMethod(iq.ChildNS(stanza.NSSI, "si"))
	if field == nil {
		return ""
	}
	return field.ChildText("value")
}

// offeredMethods returns the supported methods listed in an offer
func offeredMethods(si *stanza.Element) []string {
	field := findStreamMethod(si)
	if field == nil {
		return nil
	}
	var out []string
	for _, opt := range field.ChildrenNamed("option") {
		switch v := opt.ChildText("value"); v {
		case stanza.NSBytestreams, stanza.NSIBB:
			out = append(out, v)
		}
	}
	return out
}

// chooseMethod prefers SOCKS5 over in-band transfer
func chooseMethod(methods []string) string {
	for _, m := range methods {
		if m == stanza.NSBytestreams {
			return m
		}
	}
	return stanza.NSIBB
}

// handleOffer records a peer's file offer and asks the user about it
func (n *Negotiator) handleOffer(iq, si *stanza.Element) transport.Result {
	if si.Attr("profile") != stanza.NSSIFileTransfer {
		return transport.Continue
	}
	from, err := jid.Parse(iq.Attr("from"))
	if err != nil {
		return transport.Continue
	}

	file := si.ChildNS(stanza.NSSIFileTransfer, "file")
	sid := si.Attr("id")
	if file == nil || sid == "" || file.Attr("name") == "" {
		n.send(context.Background(), stanza.ErrorReply(iq, stanza.ErrBadRequest))
		return transport.Stop
	}
	size, err := strconv.ParseUint(file.Attr("size"), 10, 64)
	if err != nil {
		n.send(context.Background(), stanza.ErrorReply(iq, stanza.ErrBadRequest))
		return transport.Stop
	}

	methods := offeredMethods(si)
	if len(methods) == 0 {
		reply := stanza.ErrorReply(iq, stanza.ErrBadRequest)
		reply.Child("error").AddChild(stanza.NSSI, "no-valid-streams")
		n.send(context.Background(), reply)
		return transport.Stop
	}

	mimeType := si.Attr("mime-type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	n.mu.Lock()
	if _, dup := n.idx.byStreamID(from, sid); dup {
		n.mu.Unlock()
		n.send(context.Background(), stanza.ErrorReply(iq, stanza.ErrBadRequest))
		return transport.Stop
	}
	t := n.newTransfer(events.Transfer{
		Peer:      from,
		Direction: events.Receiving,
		FileName:  file.Attr("name"),
		FileSize:  size,
		MimeType:  mimeType,
		StreamID:  sid,
	}, iq.Attr("id"))
	t.methods = methods
	n.idx.insert(t)
	info := t.Transfer
	n.mu.Unlock()

	sender := n.session.Resolve(from)
	log().WithField("ft_id", info.ID).WithField("peer", from.String()).Info("file offered to us")
	n.publisher.Publish(events.FileTransferRequest{Transfer: info, Sender: sender})
	return transport.Stop
}
