package plugin

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Info(context.Context) (Metadata, error) {
	return Metadata{Name: "recorder", Version: "0.1.0", Description: "records events"}, nil
}

func (s *recordingSink) Notify(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func dialSink(t *testing.T, impl Sink) Sink {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterSinkServer(srv, impl)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewSinkClient(conn)
}

func TestSinkOverGRPC(t *testing.T) {
	impl := &recordingSink{}
	client := dialSink(t, impl)
	ctx := context.Background()

	md, err := client.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, Metadata{Name: "recorder", Version: "0.1.0", Description: "records events"}, md)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = client.Notify(ctx, Event{
		Type: "file-transfer-progress",
		Time: at,
		Fields: map[string]interface{}{
			"transfer_id": uint32(7),
			"transferred": uint64(1024),
			"peer":        "alice@example.com/phone",
			"groups":      []interface{}{"Friends"},
		},
	})
	require.NoError(t, err)

	got := impl.Events()
	require.Len(t, got, 1)
	assert.Equal(t, "file-transfer-progress", got[0].Type)
	assert.True(t, at.Equal(got[0].Time))
	assert.Equal(t, float64(7), got[0].Number("transfer_id"))
	assert.Equal(t, float64(1024), got[0].Number("transferred"))
	assert.Equal(t, "alice@example.com/phone", got[0].String("peer"))
	assert.Equal(t, []interface{}{"Friends"}, got[0].Fields["groups"])
}

func TestSinkErrorsPropagate(t *testing.T) {
	client := dialSink(t, &recordingSink{err: errors.New("disk full")})

	err := client.Notify(context.Background(), Event{Type: "connected", Time: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestEventWithoutTypeIsRejected(t *testing.T) {
	s, err := eventToStruct(Event{})
	require.NoError(t, err)
	_, err = eventFromStruct(s)
	assert.Error(t, err)
}

func TestUnsupportedFieldValue(t *testing.T) {
	_, err := eventToStruct(Event{Type: "x", Fields: map[string]interface{}{"bad": struct{}{}}})
	assert.Error(t, err)
}

func TestHostDeliversToEveryPlugin(t *testing.T) {
	h := NewHost("", nil)
	a, b := &recordingSink{}, &recordingSink{err: errors.New("broken")}
	h.add(&LoadedPlugin{Name: "a", Sink: a})
	h.add(&LoadedPlugin{Name: "b", Sink: b})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	h.Publish(Event{Type: "connected"})
	h.Publish(Event{Type: "disconnected"})

	require.Eventually(t, func() bool { return len(a.Events()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "connected", a.Events()[0].Type)
	assert.Empty(t, b.Events())

	cancel()
	<-done

	names := []string{}
	for _, lp := range h.List() {
		names = append(names, lp.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, h.Unload("a"))
	assert.Nil(t, h.Get("a"))
	h.UnloadAll()
	assert.Empty(t, h.List())
}

func TestHostDropsWhenQueueFull(t *testing.T) {
	h := NewHost("", nil)
	for i := 0; i < queueSize+10; i++ {
		h.Publish(Event{Type: "composing"})
	}
	assert.Len(t, h.queue, queueSize)
}

func TestLoadAllWithoutDirectory(t *testing.T) {
	assert.NoError(t, NewHost("", nil).LoadAll())
	assert.NoError(t, NewHost(t.TempDir()+"/missing", nil).LoadAll())
}
