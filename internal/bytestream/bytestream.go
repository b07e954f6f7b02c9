// Package bytestream moves file transfer data: SOCKS5 direct connections
// (XEP-0065) and in-band bytestreams tunnelled through IQ stanzas (XEP-0047).
package bytestream

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"

	"github.com/meszmate/gossip/internal/jid"
)

// ErrIncomplete is returned when a stream ended before all bytes arrived
var ErrIncomplete = errors.New("bytestream: stream ended early")

// Progress receives the running byte count
type Progress func(transferred uint64)

// Streamhost is a SOCKS5 candidate advertised in a bytestreams query
type Streamhost struct {
	JID  jid.JID
	Host string
	Port int
}

// DestinationAddr is the SOCKS5 domain both parties use to identify a
// stream: SHA1(sid + initiator + target) in lowercase hex.
func DestinationAddr(sid string, initiator, target jid.JID) string {
	sum := sha1.Sum([]byte(sid + initiator.String() + target.String()))
	return hex.EncodeToString(sum[:])
}

const copyBuffer = 32 * 1024

// Copy moves exactly size bytes from src to dst, reporting progress after
// every chunk. It stops early when ctx is cancelled.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, size uint64, progress Progress) (uint64, error) {
	buf := make([]byte, copyBuffer)
	var done uint64

	for done < size {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		want := uint64(len(buf))
		if rest := size - done; rest < want {
			want = rest
		}
		n, err := src.Read(buf[:want])
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return done, werr
			}
			done += uint64(n)
			if progress != nil {
				progress(done)
			}
		}
		if err == io.EOF {
			if done < size {
				return done, ErrIncomplete
			}
			break
		}
		if err != nil {
			return done, err
		}
	}
	return done, nil
}
