package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/meszmate/gossip/pkg/plugin"
)

// StatusNotifyPlugin notifies on status changes, incoming messages and
// file offers
type StatusNotifyPlugin struct {
	notify func(title, body string) error
}

// Info returns the plugin metadata
func (p *StatusNotifyPlugin) Info(ctx context.Context) (plugin.Metadata, error) {
	return plugin.Metadata{
		Name:        "statusnotify",
		Version:     "1.0.0",
		Description: "Desktop notifications for status changes",
	}, nil
}

// Notify turns an engine event into a desktop notification
func (p *StatusNotifyPlugin) Notify(ctx context.Context, ev plugin.Event) error {
	title, message := describe(ev)
	if message == "" {
		return nil
	}
	return p.notify(title, message)
}

// describe returns the notification for ev, or an empty message when the
// event is not worth one
func describe(ev plugin.Event) (title, message string) {
	name := ev.String("name")
	if name == "" {
		name = ev.String("jid")
	}

	switch ev.Type {
	case "presence-changed":
		if ev.Fields["offline"] == true {
			return "Gossip", fmt.Sprintf("%s went offline", name)
		}
		switch ev.String("state") {
		case "available":
			return "Gossip", fmt.Sprintf("%s is now online", name)
		case "away", "xa":
			return "Gossip", fmt.Sprintf("%s is away", name)
		case "busy":
			return "Gossip", fmt.Sprintf("%s is busy", name)
		}

	case "new-message":
		if body := ev.String("body"); body != "" {
			return ev.String("sender"), body
		}

	case "file-transfer-request":
		return ev.String("sender"), fmt.Sprintf("wants to send you %s", ev.String("file_name"))

	case "subscription-request":
		return "Gossip", fmt.Sprintf("%s wants to see your status", name)
	}
	return "", ""
}

// sendNotification sends a desktop notification
func sendNotification(title, body string) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		return exec.Command("osascript", "-e", script).Run()

	case "linux":
		return exec.Command("notify-send", title, body).Run()

	default:
		return nil
	}
}

func main() {
	plugin.Serve(&StatusNotifyPlugin{notify: sendNotification})
}
