package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/meszmate/gossip/pkg/plugin"
)

// TransferLogPlugin appends one line per file transfer event to a log file
type TransferLogPlugin struct {
	mu  sync.Mutex
	out io.Writer
}

// Info returns the plugin metadata
func (p *TransferLogPlugin) Info(ctx context.Context) (plugin.Metadata, error) {
	return plugin.Metadata{
		Name:        "transferlog",
		Version:     "1.0.0",
		Description: "Logs file transfers to a file",
	}, nil
}

// Notify records transfer events and ignores everything else
func (p *TransferLogPlugin) Notify(ctx context.Context, ev plugin.Event) error {
	line := format(ev)
	if line == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.out, line+"\n")
	return err
}

func format(ev plugin.Event) string {
	if !strings.HasPrefix(ev.Type, "file-transfer-") || ev.Type == "file-transfer-progress" {
		return ""
	}

	stamp := ev.Time.UTC().Format(time.RFC3339)
	id := int64(ev.Number("transfer_id"))
	switch ev.Type {
	case "file-transfer-request":
		return fmt.Sprintf("%s #%d offered %s (%d bytes) by %s", stamp, id,
			ev.String("file_name"), int64(ev.Number("file_size")), ev.String("peer"))
	case "file-transfer-accepted":
		return fmt.Sprintf("%s #%d accepted %s %s %s", stamp, id,
			ev.String("direction"), ev.String("file_name"), ev.String("peer"))
	case "file-transfer-complete":
		return fmt.Sprintf("%s #%d complete %s", stamp, id, ev.String("path"))
	case "file-transfer-error":
		return fmt.Sprintf("%s #%d failed (%s): %s", stamp, id, ev.String("kind"), ev.String("reason"))
	}
	return ""
}

func logPath() (string, error) {
	if p := os.Getenv("GOSSIP_TRANSFERLOG"); p != "" {
		return p, nil
	}
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "gossip", "transfers.log"), nil
}

func main() {
	path, err := logPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, "transferlog:", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		fmt.Fprintln(os.Stderr, "transferlog:", err)
		os.Exit(1)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		fmt.Fprintln(os.Stderr, "transferlog:", err)
		os.Exit(1)
	}
	defer f.Close()

	plugin.Serve(&TransferLogPlugin{out: f})
}
