package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meszmate/gossip/pkg/plugin"
)

func TestTransferLog(t *testing.T) {
	var buf bytes.Buffer
	p := &TransferLogPlugin{out: &buf}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	evs := []plugin.Event{
		{Type: "connected", Time: at},
		{Type: "file-transfer-request", Time: at, Fields: map[string]interface{}{
			"transfer_id": float64(4), "file_name": "a.jpg", "file_size": float64(2048), "peer": "alice@example.com/phone",
		}},
		{Type: "file-transfer-progress", Time: at, Fields: map[string]interface{}{"transfer_id": float64(4)}},
		{Type: "file-transfer-complete", Time: at, Fields: map[string]interface{}{
			"transfer_id": float64(4), "path": "/tmp/a.jpg",
		}},
		{Type: "file-transfer-error", Time: at, Fields: map[string]interface{}{
			"transfer_id": float64(5), "kind": "declined", "reason": "Declined",
		}},
	}
	for _, ev := range evs {
		require.NoError(t, p.Notify(ctx, ev))
	}

	assert.Equal(t,
		"2026-03-01T12:00:00Z #4 offered a.jpg (2048 bytes) by alice@example.com/phone\n"+
			"2026-03-01T12:00:00Z #4 complete /tmp/a.jpg\n"+
			"2026-03-01T12:00:00Z #5 failed (declined): Declined\n",
		buf.String())
}

func TestLogPathFromEnvironment(t *testing.T) {
	t.Setenv("GOSSIP_TRANSFERLOG", "/var/log/gossip-transfers.log")
	path, err := logPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/log/gossip-transfers.log", path)
}
