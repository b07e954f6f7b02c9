package bytestream

import (
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/meszmate/gossip/internal/xmpp/stanza"
)

// DefaultBlockSize is the IBB chunk size before base64 encoding
const DefaultBlockSize = 4096

// OpenPayload builds the <open/> child of an IBB open request
func OpenPayload(sid string, blockSize int) *stanza.Element {
	el := stanza.NewElement(stanza.NSIBB, "open")
	el.SetAttr("sid", sid)
	el.SetAttr("block-size", strconv.Itoa(blockSize))
	el.SetAttr("stanza", "iq")
	return el
}

// ClosePayload builds the <close/> child ending an IBB session
func ClosePayload(sid string) *stanza.Element {
	return stanza.NewElement(stanza.NSIBB, "close").SetAttr("sid", sid)
}

// ParseOpen reads sid and block size from an <open/> payload
func ParseOpen(el *stanza.Element) (sid string, blockSize int, err error) {
	sid = el.Attr("sid")
	blockSize, err = strconv.Atoi(el.Attr("block-size"))
	if sid == "" || err != nil || blockSize <= 0 {
		return "", 0, fmt.Errorf("bytestream: invalid ibb open")
	}
	return sid, blockSize, nil
}

// Outbound cuts a reader into sequenced IBB data payloads
type Outbound struct {
	sid       string
	r         io.Reader
	buf       []byte
	seq       uint16
	sent      uint64
	exhausted bool
}

// NewOutbound reads from r in blocks of blockSize bytes
func NewOutbound(sid string, r io.Reader, blockSize int) *Outbound {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Outbound{sid: sid, r: r, buf: make([]byte, blockSize)}
}

// Next returns the next <data/> payload, or nil once the reader is drained
func (o *Outbound) Next() (*stanza.Element, error) {
	if o.exhausted {
		return nil, nil
	}
	n, err := io.ReadFull(o.r, o.buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		o.exhausted = true
	} else if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	el := stanza.NewElement(stanza.NSIBB, "data")
	el.SetAttr("sid", o.sid)
	el.SetAttr("seq", strconv.Itoa(int(o.seq)))
	el.SetText(base64.StdEncoding.EncodeToString(o.buf[:n]))

	o.seq++
	o.sent += uint64(n)
	return el, nil
}

// Sent returns the number of bytes handed out so far
func (o *Outbound) Sent() uint64 {
	return o.sent
}

// Inbound reassembles IBB data payloads into a writer
type Inbound struct {
	sid       string
	w         io.Writer
	blockSize int
	seq       uint16
	received  uint64
}

// NewInbound writes decoded data for sid to w
func NewInbound(sid string, w io.Writer, blockSize int) *Inbound {
	return &Inbound{sid: sid, w: w, blockSize: blockSize}
}

// Write decodes one <data/> payload. Out of order sequence numbers, foreign
// session ids and oversized blocks are errors that end the stream.
func (in *Inbound) Write(el *stanza.Element) error {
	if el.Attr("sid") != in.sid {
		return fmt.Errorf("bytestream: data for unknown sid %q", el.Attr("sid"))
	}
	seq, err := strconv.ParseUint(el.Attr("seq"), 10, 16)
	if err != nil || uint16(seq) != in.seq {
		return fmt.Errorf("bytestream: unexpected sequence %q, want %d", el.Attr("seq"), in.seq)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(el.Text))
	if err != nil {
		return fmt.Errorf("bytestream: bad data: %w", err)
	}
	if in.blockSize > 0 && len(data) > in.blockSize {
		return fmt.Errorf("bytestream: block of %d bytes exceeds %d", len(data), in.blockSize)
	}
	if _, err := in.w.Write(data); err != nil {
		return err
	}

	in.seq++
	in.received += uint64(len(data))
	return nil
}

// Received returns the number of decoded bytes
func (in *Inbound) Received() uint64 {
	return in.received
}
