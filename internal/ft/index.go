package ft

import (
	"sort"

	"github.com/meszmate/gossip/internal/jid"
)

// index owns every live transfer and the lookup tables derived from it.
// insert and remove update all tables together, so a transfer is either
// reachable through every key or through none. Stanza ids are chosen by
// whoever sent the stanza, so they are only unique per peer address.
type index struct {
	arena    map[uint32]*transfer
	byStanza map[stanzaKey]uint32
	byStream map[string]map[string]uint32
	byPeer   map[string]map[uint32]struct{}
	requests map[string]uint32
}

// request is the purpose of an outgoing IQ awaiting its reply
type request int

const (
	reqStreamhosts request = iota + 1
	reqIBBOpen
	reqIBBData
	reqIBBClose
)

func newIndex() *index {
	return &index{
		arena:    make(map[uint32]*transfer),
		byStanza: make(map[stanzaKey]uint32),
		byStream: make(map[string]map[string]uint32),
		byPeer:   make(map[string]map[uint32]struct{}),
		requests: make(map[string]uint32),
	}
}

// stanzaKey scopes a stanza id to the full address it was exchanged with
type stanzaKey struct {
	peer jid.Key
	id   string
}

func keyOf(peer jid.JID, stanzaID string) stanzaKey {
	return stanzaKey{peer: peer.FullKey(), id: stanzaID}
}

func (x *index) insert(t *transfer) {
	x.arena[t.ID] = t
	x.byStanza[keyOf(t.Peer, t.stanzaID)] = t.ID

	peer := t.Peer.String()
	streams := x.byStream[peer]
	if streams == nil {
		streams = make(map[string]uint32)
		x.byStream[peer] = streams
	}
	streams[t.StreamID] = t.ID

	bare := t.Peer.BareString()
	ids := x.byPeer[bare]
	if ids == nil {
		ids = make(map[uint32]struct{})
		x.byPeer[bare] = ids
	}
	ids[t.ID] = struct{}{}
}

func (x *index) remove(id uint32) (*transfer, bool) {
	t, ok := x.arena[id]
	if !ok {
		return nil, false
	}
	delete(x.arena, id)
	if key := keyOf(t.Peer, t.stanzaID); x.byStanza[key] == id {
		delete(x.byStanza, key)
	}

	peer := t.Peer.String()
	if streams := x.byStream[peer]; streams != nil {
		delete(streams, t.StreamID)
		if len(streams) == 0 {
			delete(x.byStream, peer)
		}
	}

	bare := t.Peer.BareString()
	if ids := x.byPeer[bare]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(x.byPeer, bare)
		}
	}

	for req := range t.requests {
		delete(x.requests, req)
	}
	return t, true
}

// track correlates an outgoing request id with a transfer
func (x *index) track(t *transfer, requestID string, kind request) {
	if t.requests == nil {
		t.requests = make(map[string]request)
	}
	t.requests[requestID] = kind
	x.requests[requestID] = t.ID
}

func (x *index) untrack(requestID string) {
	id, ok := x.requests[requestID]
	if !ok {
		return
	}
	delete(x.requests, requestID)
	if t, ok := x.arena[id]; ok {
		delete(t.requests, requestID)
	}
}

func (x *index) get(id uint32) (*transfer, bool) {
	t, ok := x.arena[id]
	return t, ok
}

func (x *index) stanzaIDOf(id uint32) (string, bool) {
	t, ok := x.arena[id]
	if !ok {
		return "", false
	}
	return t.stanzaID, true
}

func (x *index) peerOf(id uint32) (jid.JID, bool) {
	t, ok := x.arena[id]
	if !ok {
		return jid.JID{}, false
	}
	return t.Peer.Bare(), true
}

func (x *index) byStanzaID(peer jid.JID, stanzaID string) (*transfer, bool) {
	id, ok := x.byStanza[keyOf(peer, stanzaID)]
	if !ok {
		return nil, false
	}
	return x.get(id)
}

// byRequest finds the transfer awaiting a reply from peer to requestID
func (x *index) byRequest(peer jid.JID, requestID string) (*transfer, request, bool) {
	id, ok := x.requests[requestID]
	if !ok {
		return nil, 0, false
	}
	t, ok := x.get(id)
	if !ok || !t.Peer.FullEqual(peer) {
		return nil, 0, false
	}
	return t, t.requests[requestID], true
}

func (x *index) byStreamID(peer jid.JID, sid string) (*transfer, bool) {
	id, ok := x.byStream[peer.String()][sid]
	if !ok {
		return nil, false
	}
	return x.get(id)
}

func (x *index) forPeer(peer jid.JID) []*transfer {
	var out []*transfer
	for id := range x.byPeer[peer.BareString()] {
		out = append(out, x.arena[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (x *index) all() []*transfer {
	out := make([]*transfer, 0, len(x.arena))
	for _, t := range x.arena {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (x *index) size() int {
	return len(x.arena)
}
