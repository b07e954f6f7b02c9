package plugin

import (
	"context"
	"time"
)

// Sink is the interface that all plugins must implement. The host calls it
// once for every engine event.
type Sink interface {
	// Info returns the plugin metadata
	Info(ctx context.Context) (Metadata, error)

	// Notify delivers one event
	Notify(ctx context.Context, ev Event) error
}

// Event is an engine event in a process independent form
type Event struct {
	// Type is the event name, such as "new_message"
	Type string

	// Time is when the host saw the event
	Time time.Time

	// Fields holds the event payload. Values are strings, numbers, bools,
	// lists or nested maps.
	Fields map[string]interface{}
}

// String returns the named field as a string, or "" when it is absent
func (e Event) String(key string) string {
	s, _ := e.Fields[key].(string)
	return s
}

// Number returns the named field as a float64
func (e Event) Number(key string) float64 {
	switch v := e.Fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return 0
}

// Metadata contains plugin metadata
type Metadata struct {
	Name        string
	Version     string
	Description string
}
