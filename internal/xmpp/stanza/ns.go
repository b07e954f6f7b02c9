package stanza

// Namespaces the engine reads or writes.
const (
	NSClient         = "jabber:client"
	NSRoster         = "jabber:iq:roster"
	NSVersion        = "jabber:iq:version"
	NSEvent          = "jabber:x:event"
	NSConference     = "jabber:x:conference"
	NSLegacyDelay    = "jabber:x:delay"
	NSDelay          = "urn:xmpp:delay"
	NSVCard          = "vcard-temp"
	NSMUCUser        = "http://jabber.org/protocol/muc#user"
	NSData           = "jabber:x:data"
	NSSI             = "http://jabber.org/protocol/si"
	NSSIFileTransfer = "http://jabber.org/protocol/si/profile/file-transfer"
	NSFeatureNeg     = "http://jabber.org/protocol/feature-neg"
	NSBytestreams    = "http://jabber.org/protocol/bytestreams"
	NSIBB            = "http://jabber.org/protocol/ibb"
	NSStanzas        = "urn:ietf:params:xml:ns:xmpp-stanzas"
)
