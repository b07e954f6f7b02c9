package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus()

	var got []string
	b.Subscribe(TypeConnected, func(Event) { got = append(got, "typed-1") })
	b.Subscribe(TypeConnected, func(Event) { got = append(got, "typed-2") })
	b.SubscribeAll(func(e Event) { got = append(got, "all:"+e.Type().String()) })

	b.Publish(Connected{})
	b.Publish(Disconnected{Reason: DisconnectError})

	assert.Equal(t, []string{"typed-1", "typed-2", "all:connected", "all:disconnected"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()

	calls := 0
	unsub := b.Subscribe(TypeComposing, func(Event) { calls++ })

	b.Publish(Composing{Composing: true})
	unsub()
	b.Publish(Composing{Composing: false})

	assert.Equal(t, 1, calls)
}

func TestBusClear(t *testing.T) {
	b := NewBus()

	calls := 0
	b.SubscribeAll(func(Event) { calls++ })
	b.Clear()
	b.Publish(Connecting{})

	assert.Equal(t, 0, calls)
}

func TestRecorderOfType(t *testing.T) {
	var r Recorder
	r.Publish(Connecting{})
	r.Publish(Connected{})
	r.Publish(Connected{})

	assert.Len(t, r.OfType(TypeConnected), 2)
	r.Reset()
	assert.Empty(t, r.Events())
}

func TestTransferErrorKindFromCode(t *testing.T) {
	assert.Equal(t, TransferUnsupported, TransferErrorKindFromCode(400))
	assert.Equal(t, TransferDeclined, TransferErrorKindFromCode(403))
	assert.Equal(t, TransferUnknown, TransferErrorKindFromCode(500))
	assert.Equal(t, "declined", TransferDeclined.String())
}
