package stanza

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/google/uuid"
	xmppstanza "mellium.im/xmpp/stanza"
)

// Kind is the top-level stanza element
type Kind string

const (
	KindMessage  Kind = "message"
	KindPresence Kind = "presence"
	KindIQ       Kind = "iq"
)

// IQ types
const (
	IQGet    = xmppstanza.GetIQ
	IQSet    = xmppstanza.SetIQ
	IQResult = xmppstanza.ResultIQ
	IQError  = xmppstanza.ErrorIQ
)

// Message types
const (
	MessageNormal    = xmppstanza.NormalMessage
	MessageChat      = xmppstanza.ChatMessage
	MessageHeadline  = xmppstanza.HeadlineMessage
	MessageGroupchat = xmppstanza.GroupChatMessage
	MessageError     = xmppstanza.ErrorMessage
)

// Presence types
const (
	PresenceAvailable    = xmppstanza.AvailablePresence
	PresenceUnavailable  = xmppstanza.UnavailablePresence
	PresenceSubscribe    = xmppstanza.SubscribePresence
	PresenceSubscribed   = xmppstanza.SubscribedPresence
	PresenceUnsubscribe  = xmppstanza.UnsubscribePresence
	PresenceUnsubscribed = xmppstanza.UnsubscribedPresence
	PresenceProbe        = xmppstanza.ProbePresence
	PresenceError        = xmppstanza.ErrorPresence
)

// NewID returns a fresh stanza id
func NewID() string {
	return uuid.NewString()
}

// KindOf returns the stanza kind of a top-level element
func KindOf(e *Element) Kind {
	return Kind(e.Name.Local)
}

// IQTypeOf returns the type of an <iq/>
func IQTypeOf(e *Element) xmppstanza.IQType {
	return xmppstanza.IQType(e.Attr("type"))
}

// MessageTypeOf returns the type of a <message/>, normal when absent
func MessageTypeOf(e *Element) xmppstanza.MessageType {
	if t := e.Attr("type"); t != "" {
		return xmppstanza.MessageType(t)
	}
	return MessageNormal
}

// PresenceTypeOf returns the type of a <presence/>. Available presence
// has no type.
func PresenceTypeOf(e *Element) xmppstanza.PresenceType {
	return xmppstanza.PresenceType(e.Attr("type"))
}

// NewIQ builds an <iq/> stanza. An empty id gets a generated one.
func NewIQ(typ xmppstanza.IQType, to, id string) *Element {
	if id == "" {
		id = NewID()
	}
	iq := NewElement("", string(KindIQ))
	iq.SetAttr("type", string(typ))
	iq.SetAttr("to", to)
	iq.SetAttr("id", id)
	return iq
}

// NewMessage builds a <message/> stanza with an optional body.
func NewMessage(typ xmppstanza.MessageType, to, body string) *Element {
	m := NewElement("", string(KindMessage))
	m.SetAttr("id", NewID())
	m.SetAttr("to", to)
	m.SetAttr("type", string(typ))
	if body != "" {
		m.AddTextChild("body", body)
	}
	return m
}

// NewPresence builds a <presence/> stanza.
func NewPresence(typ xmppstanza.PresenceType, to string) *Element {
	p := NewElement("", string(KindPresence))
	p.SetAttr("type", string(typ))
	p.SetAttr("to", to)
	return p
}

// Result builds the result reply to an IQ request.
func Result(req *Element) *Element {
	res := NewIQ(IQResult, req.Attr("from"), req.Attr("id"))
	return res
}

// StanzaError is a stanza error plus the legacy numeric code. Older
// clients only look at the code, so it is sent alongside the condition
// and filled in from the condition when a peer omits it.
type StanzaError struct {
	xmppstanza.Error
	Code int
}

// NewError returns a stanza error with its legacy code
func NewError(typ xmppstanza.ErrorType, condition xmppstanza.Condition, text string) StanzaError {
	se := StanzaError{
		Error: xmppstanza.Error{Type: typ, Condition: condition},
		Code:  legacyCode(condition),
	}
	if text != "" {
		se.Text = map[string]string{"": text}
	}
	return se
}

var (
	// ErrServiceUnavailable is the reply to requests nobody handles
	ErrServiceUnavailable = NewError(xmppstanza.Cancel, xmppstanza.ServiceUnavailable, "")
	// ErrDeclined is sent when a user refuses a stream initiation offer
	ErrDeclined = NewError(xmppstanza.Cancel, xmppstanza.Forbidden, "Declined")
	// ErrBadRequest rejects malformed requests
	ErrBadRequest = NewError(xmppstanza.Modify, xmppstanza.BadRequest, "")
	// ErrNotAcceptable rejects requests in the wrong state
	ErrNotAcceptable = NewError(xmppstanza.Cancel, xmppstanza.NotAcceptable, "")
	// ErrItemNotFound reports an unknown stream or streamhost
	ErrItemNotFound = NewError(xmppstanza.Cancel, xmppstanza.ItemNotFound, "")
)

// Description returns the human readable text, falling back to the
// condition
func (se StanzaError) Description() string {
	if t, ok := se.Text[""]; ok {
		return t
	}
	return se.Error.Error()
}

// Element renders the <error/> child
func (se StanzaError) Element() *Element {
	el := NewElement("", "error")
	if err := xml.NewTokenDecoder(se.Error.TokenReader()).Decode(el); err != nil {
		el = NewElement("", "error")
		el.SetAttr("type", string(se.Type))
	}
	if se.Code != 0 {
		el.SetAttr("code", strconv.Itoa(se.Code))
	}
	return el
}

// ErrorReply builds an error IQ answering req.
func ErrorReply(req *Element, se StanzaError) *Element {
	iq := NewIQ(IQError, req.Attr("from"), req.Attr("id"))
	iq.Add(se.Element())
	return iq
}

// ParseError reads the <error/> child of a stanza. Old peers put the
// description in the element text and send only a code.
func ParseError(e *Element) (StanzaError, bool) {
	el := e.Child("error")
	if el == nil {
		return StanzaError{}, false
	}

	var se StanzaError
	if raw, err := xml.Marshal(el); err == nil {
		if err := xml.Unmarshal(raw, &se.Error); err != nil {
			se.Error = xmppstanza.Error{Type: xmppstanza.ErrorType(el.Attr("type"))}
		}
	}
	if len(se.Text) == 0 {
		if text := strings.TrimSpace(el.Text); text != "" {
			se.Text = map[string]string{"": text}
		}
	}
	for lang, text := range se.Text {
		se.Text[lang] = strings.TrimSpace(text)
	}

	if code, err := strconv.Atoi(el.Attr("code")); err == nil {
		se.Code = code
	} else {
		se.Code = legacyCode(se.Condition)
	}
	return se, true
}

var legacyCodes = map[xmppstanza.Condition]int{
	xmppstanza.BadRequest:            400,
	xmppstanza.NotAuthorized:         401,
	xmppstanza.Forbidden:             403,
	xmppstanza.ItemNotFound:          404,
	xmppstanza.NotAllowed:            405,
	xmppstanza.NotAcceptable:         406,
	xmppstanza.Conflict:              409,
	xmppstanza.InternalServerError:   500,
	xmppstanza.FeatureNotImplemented: 501,
	xmppstanza.ServiceUnavailable:    503,
	xmppstanza.RemoteServerTimeout:   504,
}

func legacyCode(condition xmppstanza.Condition) int {
	return legacyCodes[condition]
}

// QueryNS returns the namespace of the first child element of an IQ. IQ
// payloads are a single child, conventionally <query/>.
func QueryNS(iq *Element) string {
	if len(iq.Children) == 0 {
		return ""
	}
	for _, c := range iq.Children {
		if c.Name.Local != "error" {
			return c.Name.Space
		}
	}
	return ""
}

// Payload returns the first non-error child of an IQ.
func Payload(iq *Element) *Element {
	for _, c := range iq.Children {
		if c.Name.Local != "error" {
			return c
		}
	}
	return nil
}
