package app

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meszmate/gossip/internal/config"
	"github.com/meszmate/gossip/internal/events"
	"github.com/meszmate/gossip/internal/session"
	"github.com/meszmate/gossip/internal/storage/sqlite"
	"github.com/meszmate/gossip/internal/xmpp/stanza"
	"github.com/meszmate/gossip/internal/xmpp/transport/transporttest"
)

func newTestApp(t *testing.T, accounts ...config.Account) (*App, *transporttest.Fake) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.General.DataDir = t.TempDir()
	cfg.Transfer.DownloadDir = filepath.Join(cfg.General.DataDir, "downloads")
	cfg.Transfer.ListenHost = "127.0.0.1"

	if len(accounts) == 0 {
		accounts = []config.Account{{JID: "me@example.com", Password: "secret"}}
	}

	fake := transporttest.New()
	a, err := New(cfg, &config.AccountsConfig{Accounts: accounts}, WithTransport(fake.Factory()), WithoutPlugins())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, fake
}

func rosterResult(t *testing.T, fake *transporttest.Fake, items string) {
	t.Helper()
	gets := fake.SentMatching(transporttest.IQType(stanza.IQGet, stanza.NSRoster))
	require.NotEmpty(t, gets)
	fake.DeliverXML(`<iq type="result" id="` + gets[0].Attr("id") + `">` +
		`<query xmlns="jabber:iq:roster">` + items + `</query></iq>`)
}

func TestConnectPicksFirstAccount(t *testing.T) {
	a, fake := newTestApp(t)

	require.NoError(t, a.Connect(context.Background(), ""))
	assert.True(t, a.Connected())
	assert.Equal(t, "me@example.com", a.CurrentAccount())
	assert.Equal(t, "secret", fake.Credentials().Password)

	last, err := a.storage.GetAppState("last_account")
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", last)

	a.Disconnect()
	assert.False(t, a.Connected())
}

func TestConnectUnknownAccount(t *testing.T) {
	a, _ := newTestApp(t)
	assert.ErrorIs(t, a.Connect(context.Background(), "nobody@example.com"), ErrNoAccount)
}

func TestRosterSurvivesDisconnect(t *testing.T) {
	a, fake := newTestApp(t)
	require.NoError(t, a.Connect(context.Background(), "me@example.com"))

	rosterResult(t, fake,
		`<item jid="bob@example.com" name="Bob" subscription="both"><group>Friends</group></item>`)

	a.Disconnect()

	contacts := a.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, "bob@example.com", contacts[0].ID.String())
	assert.Equal(t, "Bob", contacts[0].Name)
	assert.Equal(t, []string{"Friends"}, contacts[0].Groups)
}

func TestMessagesAreStored(t *testing.T) {
	a, fake := newTestApp(t)
	require.NoError(t, a.Connect(context.Background(), ""))

	fake.DeliverXML(`<message from="alice@example.com/phone" type="chat" id="m1"><body>hello</body></message>`)
	require.NoError(t, a.SendMessage("alice@example.com", "hi back"))

	last := fake.Last()
	assert.Equal(t, stanza.KindMessage, stanza.KindOf(last))
	assert.Equal(t, "alice@example.com", last.Attr("to"))

	msgs, err := a.History("alice@example.com", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, "phone", msgs[0].Resource)
	assert.False(t, msgs[0].Outgoing)
	assert.Equal(t, "hi back", msgs[1].Body)
	assert.True(t, msgs[1].Outgoing)
}

func TestMessageHistoryDisabled(t *testing.T) {
	a, fake := newTestApp(t)
	a.cfg.Storage.SaveMessages = false
	require.NoError(t, a.Connect(context.Background(), ""))

	fake.DeliverXML(`<message from="alice@example.com/phone" type="chat"><body>hello</body></message>`)

	msgs, err := a.History("alice@example.com", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPasswordPrompt(t *testing.T) {
	a, fake := newTestApp(t, config.Account{JID: "me@example.com"})
	a.Events().Subscribe(events.TypePasswordRequested, func(events.Event) {
		a.ProvidePassword("typed")
	})

	require.NoError(t, a.Connect(context.Background(), ""))
	assert.Equal(t, "typed", fake.Credentials().Password)
}

func TestPasswordPromptCancelled(t *testing.T) {
	a, _ := newTestApp(t, config.Account{JID: "me@example.com"})
	a.Events().Subscribe(events.TypePasswordRequested, func(events.Event) {
		a.CancelPassword()
	})

	assert.ErrorIs(t, a.Connect(context.Background(), ""), session.ErrLoginCancelled)
	assert.False(t, a.Connected())
}

func TestIncomingTransferIsRecorded(t *testing.T) {
	a, fake := newTestApp(t)
	require.NoError(t, a.Connect(context.Background(), ""))

	fake.DeliverXML(`<iq type="set" id="offer1" from="alice@example.com/phone" to="me@example.com/gossip">` +
		`<si xmlns="http://jabber.org/protocol/si" id="sid1" mime-type="image/jpeg" profile="http://jabber.org/protocol/si/profile/file-transfer">` +
		`<file xmlns="http://jabber.org/protocol/si/profile/file-transfer" name="a.jpg" size="2048"/>` +
		`<feature xmlns="http://jabber.org/protocol/feature-neg"><x xmlns="jabber:x:data" type="form">` +
		`<field var="stream-method" type="list-single"><option><value>http://jabber.org/protocol/bytestreams</value></option></field>` +
		`</x></feature></si></iq>`)

	active := a.ActiveTransfers()
	require.Len(t, active, 1)

	recorded, err := a.TransferHistory(10)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, active[0].ID, recorded[0].ID)
	assert.Equal(t, "a.jpg", recorded[0].FileName)
	assert.Equal(t, "receiving", recorded[0].Direction)
	assert.Equal(t, sqlite.TransferPending, recorded[0].Status)

	require.NoError(t, a.DeclineFile(active[0].ID))
	assert.Empty(t, a.ActiveTransfers())
}

func TestDeclinedOfferIsRecorded(t *testing.T) {
	a, fake := newTestApp(t)
	require.NoError(t, a.Connect(context.Background(), ""))

	path := filepath.Join(t.TempDir(), "notes.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>hi</p>"), 0600))

	id, err := a.SendFile("alice@example.com/phone", path)
	require.NoError(t, err)
	offer := fake.Last()

	recorded, err := a.TransferHistory(10)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "sending", recorded[0].Direction)
	assert.Equal(t, path, recorded[0].Path)

	fake.DeliverXML(`<iq type="error" id="` + offer.Attr("id") + `" from="alice@example.com/phone">` +
		`<error code="403">Declined</error></iq>`)

	recorded, err = a.TransferHistory(10)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, id, recorded[0].ID)
	assert.Equal(t, sqlite.TransferFailed, recorded[0].Status)
	assert.Equal(t, "Declined", recorded[0].Reason)
}

func TestOperationsNeedSession(t *testing.T) {
	a, _ := newTestApp(t)

	assert.ErrorIs(t, a.SendMessage("alice@example.com", "hi"), session.ErrNotConnected)
	assert.ErrorIs(t, a.AcceptFile(1, ""), session.ErrNotConnected)
	_, err := a.SendFile("alice@example.com", "/nonexistent")
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestEventsReachInterface(t *testing.T) {
	a, _ := newTestApp(t)
	require.NoError(t, a.Connect(context.Background(), ""))

	msg := a.Listen()()
	ev, ok := msg.(EventMsg)
	require.True(t, ok)
	assert.Equal(t, events.TypeConnecting, ev.Event.Type())

	ev = a.Listen()().(EventMsg)
	assert.Equal(t, events.TypeConnected, ev.Event.Type())
}

func TestCommands(t *testing.T) {
	a, fake := newTestApp(t)

	out, err := a.Run("help", nil)
	require.NoError(t, err)
	assert.Len(t, out, len(Commands))

	_, err = a.Run("frobnicate", nil)
	assert.Error(t, err)

	_, err = a.Run("msg", []string{"alice@example.com"})
	assert.ErrorIs(t, err, ErrUsage)
	assert.Contains(t, err.Error(), "msg jid message")

	out, err = a.Run("/connect", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Connected as me@example.com/gossip"}, out)

	_, err = a.Run("msg", []string{"alice@example.com", "two", "words"})
	require.NoError(t, err)
	body := fake.Last().Child("body")
	require.NotNil(t, body)
	assert.Equal(t, "two words", body.Text)

	_, err = a.Run("status", []string{"sleeping"})
	assert.Error(t, err)

	_, err = a.Run("accept", []string{"x"})
	assert.Error(t, err)

	out, err = a.Run("transfers", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"No transfers"}, out)
}

func TestParseID(t *testing.T) {
	for _, s := range []string{"7", "#7"} {
		id, err := parseID(s)
		require.NoError(t, err)
		assert.Equal(t, uint32(7), id)
	}
	_, err := parseID(strconv.Itoa(-1))
	assert.Error(t, err)
}
