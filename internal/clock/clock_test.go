package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualFiresInOrder(t *testing.T) {
	m := NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var order []int
	m.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	m.AfterFunc(time.Second, func() { order = append(order, 1) })
	m.AfterFunc(time.Minute, func() { order = append(order, 3) })

	m.Advance(5 * time.Second)

	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 1, m.Pending())
}

func TestManualStop(t *testing.T) {
	m := NewManual(time.Now())

	fired := false
	timer := m.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	m.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, m.Pending())
}

func TestManualStopAfterFire(t *testing.T) {
	m := NewManual(time.Now())

	timer := m.AfterFunc(time.Second, func() {})
	m.Advance(time.Second)

	assert.False(t, timer.Stop())
}
