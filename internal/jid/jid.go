// Package jid provides the Jabber identifier value type used throughout the
// engine. Parsing and PRECIS enforcement are delegated to mellium.im/xmpp/jid;
// this package adds the bare/full comparison helpers and map keys the
// contact cache and file transfer indices are built on.
package jid

import (
	"errors"
	"fmt"
	"strings"

	xmppjid "mellium.im/xmpp/jid"
)

// ErrEmptyDomain is returned when an address has no domainpart.
var ErrEmptyDomain = errors.New("jid: empty domainpart")

// JID is an immutable XMPP address of the form node@domain/resource.
type JID struct {
	addr xmppjid.JID
}

// Parse parses and normalizes an address string. The domain is lower-cased,
// the node is case-mapped and the resource is preserved as given.
func Parse(s string) (JID, error) {
	node, domain, resource, err := xmppjid.SplitString(strings.TrimSpace(s))
	if err != nil {
		return JID{}, fmt.Errorf("invalid JID %q: %w", s, err)
	}
	return New(node, domain, resource)
}

// MustParse is like Parse but panics on invalid input. It is meant for
// constants and tests.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return j
}

// New builds a JID from its parts.
func New(node, domain, resource string) (JID, error) {
	if domain == "" {
		return JID{}, ErrEmptyDomain
	}
	addr, err := xmppjid.New(node, strings.ToLower(domain), resource)
	if err != nil {
		return JID{}, fmt.Errorf("invalid JID parts: %w", err)
	}
	return JID{addr: addr}, nil
}

// Normalize returns the canonical string form of s.
func Normalize(s string) (string, error) {
	j, err := Parse(s)
	if err != nil {
		return "", err
	}
	return j.String(), nil
}

// FromXMPP wraps an address produced by the mellium stack.
func FromXMPP(addr xmppjid.JID) JID {
	return JID{addr: addr}
}

// XMPP returns the underlying mellium address.
func (j JID) XMPP() xmppjid.JID {
	return j.addr
}

// IsZero reports whether j is the zero JID.
func (j JID) IsZero() bool {
	return j.addr.Domainpart() == ""
}

// Node returns the localpart, or an empty string.
func (j JID) Node() string { return j.addr.Localpart() }

// Domain returns the domainpart.
func (j JID) Domain() string { return j.addr.Domainpart() }

// Resource returns the resourcepart, or an empty string.
func (j JID) Resource() string { return j.addr.Resourcepart() }

// HasResource reports whether j is a full JID.
func (j JID) HasResource() bool { return j.addr.Resourcepart() != "" }

// Bare returns j without its resource.
func (j JID) Bare() JID {
	if j.IsZero() {
		return j
	}
	return JID{addr: j.addr.Bare()}
}

// WithResource returns a copy of j with the resource replaced.
func (j JID) WithResource(resource string) (JID, error) {
	addr, err := j.addr.WithResource(resource)
	if err != nil {
		return JID{}, fmt.Errorf("invalid resource %q: %w", resource, err)
	}
	return JID{addr: addr}, nil
}

// String returns the full textual form.
func (j JID) String() string {
	if j.IsZero() {
		return ""
	}
	return j.addr.String()
}

// BareString returns the textual form without resource. It is the key of the
// contact cache.
func (j JID) BareString() string {
	return j.Bare().String()
}

// BareEqual reports whether both addresses share node and domain.
func (j JID) BareEqual(o JID) bool {
	return j.BareString() == o.BareString()
}

// FullEqual reports whether both addresses are identical including resource.
func (j JID) FullEqual(o JID) bool {
	return j.String() == o.String()
}

// Key is a comparable value suitable for use as a map key.
type Key struct {
	Bare     string
	Resource string
}

// FullKey returns the comparable key of the full address.
func (j JID) FullKey() Key {
	return Key{Bare: j.BareString(), Resource: j.Resource()}
}

// BareKey returns the comparable key of the bare address.
func (j JID) BareKey() Key {
	return Key{Bare: j.BareString()}
}
