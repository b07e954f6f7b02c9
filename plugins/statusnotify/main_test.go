package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meszmate/gossip/pkg/plugin"
)

func TestDescribe(t *testing.T) {
	cases := []struct {
		ev    plugin.Event
		title string
		msg   string
	}{
		{
			plugin.Event{Type: "presence-changed", Fields: map[string]interface{}{"name": "Alice", "state": "available", "offline": false}},
			"Gossip", "Alice is now online",
		},
		{
			plugin.Event{Type: "presence-changed", Fields: map[string]interface{}{"jid": "bob@example.com", "state": "available", "offline": true}},
			"Gossip", "bob@example.com went offline",
		},
		{
			plugin.Event{Type: "new-message", Fields: map[string]interface{}{"sender": "Alice", "body": "hi"}},
			"Alice", "hi",
		},
		{
			plugin.Event{Type: "file-transfer-request", Fields: map[string]interface{}{"sender": "Alice", "file_name": "a.jpg"}},
			"Alice", "wants to send you a.jpg",
		},
		{plugin.Event{Type: "composing"}, "", ""},
	}
	for _, c := range cases {
		title, msg := describe(c.ev)
		assert.Equal(t, c.title, title, c.ev.Type)
		assert.Equal(t, c.msg, msg, c.ev.Type)
	}
}

func TestNotifySkipsQuietEvents(t *testing.T) {
	var sent []string
	p := &StatusNotifyPlugin{notify: func(title, body string) error {
		sent = append(sent, title+": "+body)
		return nil
	}}

	require.NoError(t, p.Notify(context.Background(), plugin.Event{Type: "connected"}))
	require.NoError(t, p.Notify(context.Background(), plugin.Event{
		Type:   "subscription-request",
		Fields: map[string]interface{}{"jid": "carol@example.com"},
	}))
	assert.Equal(t, []string{"Gossip: carol@example.com wants to see your status"}, sent)
}
