// Package events defines the closed set of notifications the engine emits to
// the user interface and other observers.
package events

import (
	"time"

	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/presence"
	"github.com/meszmate/gossip/internal/xmpp/roster"
)

// Type identifies an event variant
type Type int

const (
	TypeConnecting Type = iota
	TypeConnected
	TypeDisconnected
	TypeError
	TypePasswordRequested
	TypeNewMessage
	TypeComposing
	TypeContactAdded
	TypeContactUpdated
	TypeContactRemoved
	TypePresenceChanged
	TypeSubscriptionRequest
	TypeFileTransferRequest
	TypeFileTransferAccepted
	TypeFileTransferProgress
	TypeFileTransferComplete
	TypeFileTransferError
)

var typeNames = map[Type]string{
	TypeConnecting:           "connecting",
	TypeConnected:            "connected",
	TypeDisconnected:         "disconnected",
	TypeError:                "error",
	TypePasswordRequested:    "password-requested",
	TypeNewMessage:           "new-message",
	TypeComposing:            "composing",
	TypeContactAdded:         "contact-added",
	TypeContactUpdated:       "contact-updated",
	TypeContactRemoved:       "contact-removed",
	TypePresenceChanged:      "presence-changed",
	TypeSubscriptionRequest:  "subscription-request",
	TypeFileTransferRequest:  "file-transfer-request",
	TypeFileTransferAccepted: "file-transfer-accepted",
	TypeFileTransferProgress: "file-transfer-progress",
	TypeFileTransferComplete: "file-transfer-complete",
	TypeFileTransferError:    "file-transfer-error",
}

// String returns the event name
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is implemented only by the payload structs in this package
type Event interface {
	Type() Type
	isEvent()
}

// ErrorCode is a machine-readable connection failure
type ErrorCode int

const (
	ErrNoConnection ErrorCode = iota
	ErrNoSuchHost
	ErrTimedOut
	ErrAuthFailed
)

// String returns the code name
func (c ErrorCode) String() string {
	switch c {
	case ErrNoConnection:
		return "no-connection"
	case ErrNoSuchHost:
		return "no-such-host"
	case ErrTimedOut:
		return "timed-out"
	case ErrAuthFailed:
		return "auth-failed"
	default:
		return "unknown"
	}
}

// DisconnectReason tells whether the user asked for the disconnect
type DisconnectReason int

const (
	DisconnectRequested DisconnectReason = iota
	DisconnectError
)

// String returns the reason name
func (r DisconnectReason) String() string {
	if r == DisconnectRequested {
		return "requested"
	}
	return "error"
}

// TransferErrorKind classifies a failed file transfer
type TransferErrorKind int

const (
	TransferUnknown TransferErrorKind = iota
	TransferUnsupported
	TransferDeclined
)

// String returns the kind name
func (k TransferErrorKind) String() string {
	switch k {
	case TransferUnsupported:
		return "unsupported"
	case TransferDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// TransferErrorKindFromCode maps a legacy XMPP error code
func TransferErrorKindFromCode(code int) TransferErrorKind {
	switch code {
	case 400:
		return TransferUnsupported
	case 403:
		return TransferDeclined
	default:
		return TransferUnknown
	}
}

// Direction of a file transfer
type Direction int

const (
	Sending Direction = iota
	Receiving
)

// String returns the direction name
func (d Direction) String() string {
	if d == Sending {
		return "sending"
	}
	return "receiving"
}

// Transfer describes a file transfer session
type Transfer struct {
	ID        uint32
	Peer      jid.JID
	Direction Direction
	FileName  string
	FileSize  uint64
	MimeType  string
	StreamID  string
}

// Invite is a chatroom invitation carried in a message
type Invite struct {
	Room     jid.JID
	From     jid.JID
	Reason   string
	Password string
}

// Message is an incoming chat message
type Message struct {
	ID        string
	From      jid.JID
	Sender    roster.Contact
	Type      string
	Body      string
	Subject   string
	Thread    string
	Invite    *Invite
	Timestamp time.Time
}

type (
	// Connecting fires when login starts
	Connecting struct{ Account jid.JID }

	// Connected fires after authentication succeeded
	Connected struct{ JID jid.JID }

	// Disconnected fires once the connection is gone
	Disconnected struct{ Reason DisconnectReason }

	// Error carries a terminal connection failure
	Error struct {
		Code ErrorCode
		Err  error
	}

	// PasswordRequested fires when the account has no stored password
	PasswordRequested struct{ Account jid.JID }

	// NewMessage carries an incoming message
	NewMessage struct{ Message Message }

	// Composing reports typing notifications
	Composing struct {
		Contact   jid.JID
		Composing bool
	}

	// ContactAdded fires when a contact enters the contact list
	ContactAdded struct{ Contact roster.Contact }

	// ContactUpdated fires when contact fields change
	ContactUpdated struct{ Contact roster.Contact }

	// ContactRemoved fires when a contact leaves the list or goes offline on
	// disconnect. Evicted is set when the contact left the cache.
	ContactRemoved struct {
		Contact roster.Contact
		Evicted bool
	}

	// PresenceChanged fires when a resource's presence is set or removed
	PresenceChanged struct {
		Contact  roster.Contact
		Presence presence.Presence
		Offline  bool
	}

	// SubscriptionRequest fires when someone asks to see our presence
	SubscriptionRequest struct{ Contact roster.Contact }

	// FileTransferRequest fires when a peer offers a file
	FileTransferRequest struct {
		Transfer Transfer
		Sender   roster.Contact
	}

	// FileTransferAccepted fires when the peer agreed to receive our file
	FileTransferAccepted struct{ Transfer Transfer }

	// FileTransferProgress reports transferred bytes
	FileTransferProgress struct {
		ID          uint32
		Transferred uint64
		Total       uint64
	}

	// FileTransferComplete fires when all bytes moved
	FileTransferComplete struct {
		Transfer Transfer
		Path     string
	}

	// FileTransferError reports a failed transfer
	FileTransferError struct {
		ID     uint32
		Kind   TransferErrorKind
		Reason string
	}
)

func (Connecting) Type() Type           { return TypeConnecting }
func (Connected) Type() Type            { return TypeConnected }
func (Disconnected) Type() Type         { return TypeDisconnected }
func (Error) Type() Type                { return TypeError }
func (PasswordRequested) Type() Type    { return TypePasswordRequested }
func (NewMessage) Type() Type           { return TypeNewMessage }
func (Composing) Type() Type            { return TypeComposing }
func (ContactAdded) Type() Type         { return TypeContactAdded }
func (ContactUpdated) Type() Type       { return TypeContactUpdated }
func (ContactRemoved) Type() Type       { return TypeContactRemoved }
func (PresenceChanged) Type() Type      { return TypePresenceChanged }
func (SubscriptionRequest) Type() Type  { return TypeSubscriptionRequest }
func (FileTransferRequest) Type() Type  { return TypeFileTransferRequest }
func (FileTransferAccepted) Type() Type { return TypeFileTransferAccepted }
func (FileTransferProgress) Type() Type { return TypeFileTransferProgress }
func (FileTransferComplete) Type() Type { return TypeFileTransferComplete }
func (FileTransferError) Type() Type    { return TypeFileTransferError }

func (Connecting) isEvent()           {}
func (Connected) isEvent()            {}
func (Disconnected) isEvent()         {}
func (Error) isEvent()                {}
func (PasswordRequested) isEvent()    {}
func (NewMessage) isEvent()           {}
func (Composing) isEvent()            {}
func (ContactAdded) isEvent()         {}
func (ContactUpdated) isEvent()       {}
func (ContactRemoved) isEvent()       {}
func (PresenceChanged) isEvent()      {}
func (SubscriptionRequest) isEvent()  {}
func (FileTransferRequest) isEvent()  {}
func (FileTransferAccepted) isEvent() {}
func (FileTransferProgress) isEvent() {}
func (FileTransferComplete) isEvent() {}
func (FileTransferError) isEvent()    {}
