package ft

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/meszmate/gossip/internal/bytestream"
	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/logging"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
	"github.com/meszmate/gossip/internal/xmpp/transport"
)

// advertisedHost returns the address put into streamhost offers
func (n *Negotiator) advertisedHost() string {
	if n.opts.ListenHost != "" {
		return n.opts.ListenHost
	}
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if ok && ipnet.IP.IsGlobalUnicast() && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// offerStreamhost starts a local streamhost for an accepted outgoing
// transfer and tells the peer about it
func (n *Negotiator) offerStreamhost(t *transfer) {
	l, err := bytestream.Listen(n.opts.ListenHost)
	if err != nil {
		n.fail(t.ID, events.TransferUnknown, err.Error())
		return
	}

	self := n.session.LocalJID()
	dst := bytestream.DestinationAddr(t.StreamID, self, t.Peer)

	iq := stanza.NewIQ(stanza.IQSet, t.Peer.String(), "")
	q := iq.AddChild(stanza.NSBytestreams, "query")
	q.SetAttr("sid", t.StreamID)
	q.SetAttr("mode", "tcp")
	sh := q.AddChild("", "streamhost")
	sh.SetAttr("jid", self.String())
	sh.SetAttr("host", n.advertisedHost())
	sh.SetAttr("port", strconv.Itoa(l.Port()))

	n.mu.Lock()
	if _, live := n.idx.get(t.ID); !live {
		n.mu.Unlock()
		l.Close()
		return
	}
	t.listener = l
	t.accepted = make(chan net.Conn)
	n.idx.track(t, iq.Attr("id"), reqStreamhosts)
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(t.ctx, n.opts.AcceptTimeout)
	go func() {
		defer cancel()
		conn, err := l.Accept(ctx, dst)
		if err != nil {
			n.fail(t.ID, events.TransferUnknown, fmt.Sprintf("waiting for peer: %v", err))
			return
		}
		// The handoff is unbuffered so the connection is either taken by
		// activate or closed here.
		select {
		case t.accepted <- conn:
		case <-ctx.Done():
			conn.Close()
			n.fail(t.ID, events.TransferUnknown, fmt.Sprintf("waiting for peer: %v", ctx.Err()))
		}
	}()

	n.send(t.ctx, iq)
}

// activate starts sending once the target reports which streamhost it used
func (n *Negotiator) activate(t *transfer, iq *stanza.Element) {
	q := iq.ChildNS(stanza.NSBytestreams, "query")
	used := q.Child("streamhost-used")
	self := n.session.LocalJID()
	if used == nil || used.Attr("jid") != self.String() {
		n.fail(t.ID, events.TransferUnknown, "peer used an unknown streamhost")
		return
	}

	go func() {
		var conn net.Conn
		select {
		case conn = <-t.accepted:
		case <-t.ctx.Done():
			return
		}
		defer conn.Close()

		f, err := os.Open(t.path)
		if err != nil {
			n.finish(t.ID, err)
			return
		}
		defer f.Close()

		_, err = bytestream.Copy(t.ctx, conn, f, t.FileSize, n.progress(t))
		n.finish(t.ID, err)
	}()
}

// handleStreamhosts takes the candidates a sender offers for an accepted
// incoming transfer and connects to the first that works
func (n *Negotiator) handleStreamhosts(iq, q *stanza.Element) transport.Result {
	from, err := jid.Parse(iq.Attr("from"))
	if err != nil {
		return transport.Continue
	}
	sid := q.Attr("sid")

	n.mu.Lock()
	t, ok := n.idx.byStreamID(from, sid)
	if !ok || t.Direction != events.Receiving || t.method != stanza.NSBytestreams || t.file == nil {
		n.mu.Unlock()
		return transport.Continue
	}
	n.mu.Unlock()

	var candidates []bytestream.Streamhost
	for _, el := range q.ChildrenNamed("streamhost") {
		host, portText, hostJID := el.Attr("host"), el.Attr("port"), el.Attr("jid")
		port, perr := strconv.Atoi(portText)
		shJID, jerr := jid.Parse(hostJID)
		if host == "" || perr != nil || port <= 0 || port > 65535 || jerr != nil {
			log().WithField("streamhost", el.String()).Debug("skipping malformed streamhost")
			continue
		}
		candidates = append(candidates, bytestream.Streamhost{JID: shJID, Host: host, Port: port})
	}

	go n.pull(t, iq.Attr("id"), candidates)
	return transport.Stop
}

// pull connects to a streamhost, confirms it to the sender and reads the
// file
func (n *Negotiator) pull(t *transfer, requestID string, candidates []bytestream.Streamhost) {
	dst := bytestream.DestinationAddr(t.StreamID, t.Peer, n.session.LocalJID())

	var conn net.Conn
	var used bytestream.Streamhost
	for _, c := range candidates {
		var err error
		conn, err = bytestream.Dial(t.ctx, n.opts.Dialer, c, dst)
		if err == nil {
			used = c
			break
		}
		logging.WithFields(logging.Fields{"component": "ft", "ft_id": t.ID, "host": c.Host}).
			WithError(err).Debug("streamhost unreachable")
	}

	if conn == nil {
		reply := stanza.NewIQ(stanza.IQError, t.Peer.String(), requestID)
		reply.Add(stanza.ErrItemNotFound.Element())
		n.send(t.ctx, reply)
		n.finish(t.ID, errNoStreamhost)
		return
	}
	defer conn.Close()

	reply := stanza.NewIQ(stanza.IQResult, t.Peer.String(), requestID)
	q := reply.AddChild(stanza.NSBytestreams, "query")
	q.SetAttr("sid", t.StreamID)
	q.AddChild("", "streamhost-used").SetAttr("jid", used.JID.String())
	n.send(t.ctx, reply)

	_, err := bytestream.Copy(t.ctx, t.file, conn, t.FileSize, n.progress(t))
	n.finish(t.ID, err)
}
