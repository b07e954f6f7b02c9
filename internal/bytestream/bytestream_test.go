package bytestream

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meszmate/gossip/internal/jid"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
)

func TestDestinationAddr(t *testing.T) {
	got := DestinationAddr("mySID",
		jid.MustParse("romeo@montague.net/orchard"),
		jid.MustParse("juliet@capulet.com/balcony"))
	assert.Equal(t, "2b8fa2e7ef86177b7ccb50c7b04aeb30eacf570d", got)
}

func TestCopy(t *testing.T) {
	src := strings.Repeat("x", 100*1024)
	var dst bytes.Buffer
	var last uint64
	calls := 0

	n, err := Copy(context.Background(), &dst, iotest.HalfReader(strings.NewReader(src)), uint64(len(src)), func(done uint64) {
		assert.Greater(t, done, last)
		last = done
		calls++
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(len(src)), n)
	assert.Equal(t, src, dst.String())
	assert.Equal(t, uint64(len(src)), last)
	assert.Greater(t, calls, 1)
}

func TestCopyShortSource(t *testing.T) {
	n, err := Copy(context.Background(), io.Discard, strings.NewReader("abc"), 10, nil)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, uint64(3), n)
}

func TestCopyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Copy(ctx, io.Discard, strings.NewReader("abc"), 3, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSOCKS5RoundTrip(t *testing.T) {
	l, err := Listen("127.0.0.1")
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dst := DestinationAddr("sid1", jid.MustParse("a@example.com/x"), jid.MustParse("b@example.com/y"))
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept(ctx, dst)
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	sh := Streamhost{JID: jid.MustParse("a@example.com/x"), Host: "127.0.0.1", Port: l.Port()}

	// a connection for another stream is refused without ending the wait
	_, err = Dial(ctx, nil, sh, strings.Repeat("0", 40))
	require.Error(t, err)

	client, err := Dial(ctx, nil, sh, dst)
	require.NoError(t, err)
	defer client.Close()

	server, ok := <-accepted
	require.True(t, ok)
	defer server.Close()

	_, err = client.Write([]byte("payload"))
	require.NoError(t, err)
	buf := make([]byte, 7)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
}

func TestSOCKS5StalledClient(t *testing.T) {
	l, err := Listen("127.0.0.1")
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), HandshakeTimeout/2)
	defer cancel()

	dst := DestinationAddr("sid2", jid.MustParse("a@example.com/x"), jid.MustParse("b@example.com/y"))
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept(ctx, dst)
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(l.Port()))
	stalled, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer stalled.Close()

	sh := Streamhost{JID: jid.MustParse("a@example.com/x"), Host: "127.0.0.1", Port: l.Port()}
	client, err := Dial(ctx, nil, sh, dst)
	require.NoError(t, err)
	defer client.Close()

	select {
	case server, ok := <-accepted:
		require.True(t, ok)
		server.Close()
	case <-ctx.Done():
		t.Fatal("accept waited for the idle connection")
	}

	_, err = Dial(context.Background(), nil, sh, dst)
	assert.Error(t, err, "the listener closes once a target connected")
}

func TestListenerAcceptCancelled(t *testing.T) {
	l, err := Listen("127.0.0.1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Accept(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIBBRoundTrip(t *testing.T) {
	payload := strings.Repeat("0123456789", 25)
	out := NewOutbound("s1", strings.NewReader(payload), 64)

	var got bytes.Buffer
	in := NewInbound("s1", &got, 64)

	chunks := 0
	for {
		el, err := out.Next()
		require.NoError(t, err)
		if el == nil {
			break
		}
		chunks++
		require.NoError(t, in.Write(el))
	}

	assert.Equal(t, 4, chunks)
	assert.Equal(t, payload, got.String())
	assert.Equal(t, uint64(len(payload)), in.Received())
	assert.Equal(t, uint64(len(payload)), out.Sent())
}

func TestIBBRejectsBadData(t *testing.T) {
	in := NewInbound("s1", io.Discard, 4)

	el := stanza.NewElement(stanza.NSIBB, "data").SetAttr("sid", "s1").SetAttr("seq", "1").SetText("AAAA")
	assert.Error(t, in.Write(el), "sequence must start at zero")

	el.SetAttr("seq", "0").SetAttr("sid", "other")
	assert.Error(t, in.Write(el))

	el.SetAttr("sid", "s1").SetText("!!!")
	assert.Error(t, in.Write(el))

	el.SetText("AAAAAAAA")
	assert.Error(t, in.Write(el), "six bytes exceed the block size")

	el.SetText("AAAA")
	assert.NoError(t, in.Write(el))
}

func TestParseOpen(t *testing.T) {
	sid, size, err := ParseOpen(OpenPayload("s1", 4096))
	require.NoError(t, err)
	assert.Equal(t, "s1", sid)
	assert.Equal(t, 4096, size)

	_, _, err = ParseOpen(stanza.NewElement(stanza.NSIBB, "open").SetAttr("sid", "s1"))
	assert.Error(t, err)
}
