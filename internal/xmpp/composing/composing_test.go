package composing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meszmate/gossip/internal/clock"
	"github.com/meszmate/gossip/internal/jid"
)

func newTracker() (*Tracker, *clock.Manual, *[]string) {
	c := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var stopped []string
	tr := New(c, DefaultTimeout, func(contact jid.JID) {
		stopped = append(stopped, contact.String())
	})
	return tr, c, &stopped
}

func TestTimeoutFiresOnce(t *testing.T) {
	tr, c, stopped := newTracker()
	alice := jid.MustParse("alice@example.com/phone")

	assert.True(t, tr.Start(alice))
	c.Advance(44 * time.Second)
	assert.Empty(t, *stopped)

	c.Advance(time.Second)
	assert.Equal(t, []string{"alice@example.com"}, *stopped)
	assert.False(t, tr.IsComposing(alice))

	c.Advance(time.Hour)
	assert.Len(t, *stopped, 1)
}

func TestRepeatedNotificationResetsTimer(t *testing.T) {
	tr, c, stopped := newTracker()
	alice := jid.MustParse("alice@example.com/phone")

	tr.Start(alice)
	c.Advance(30 * time.Second)
	assert.False(t, tr.Start(alice))

	c.Advance(30 * time.Second)
	assert.Empty(t, *stopped)
	assert.Equal(t, 1, c.Pending())

	c.Advance(15 * time.Second)
	assert.Len(t, *stopped, 1)
}

func TestExplicitStop(t *testing.T) {
	tr, c, stopped := newTracker()
	alice := jid.MustParse("alice@example.com")

	tr.Start(alice)
	assert.True(t, tr.Stop(alice))
	assert.False(t, tr.Stop(alice))

	c.Advance(time.Minute)
	assert.Empty(t, *stopped)
	assert.Equal(t, 0, tr.Len())
}

func TestClearCancelsSilently(t *testing.T) {
	tr, c, stopped := newTracker()

	tr.Start(jid.MustParse("alice@example.com"))
	tr.Start(jid.MustParse("bob@example.com"))
	tr.Clear()

	c.Advance(time.Minute)
	assert.Empty(t, *stopped)
	assert.Equal(t, 0, c.Pending())
}
