package signalk

import (
	"time"

	"github.com/mklimuk/sensorpipe"
)

// ContextSelf addresses the vessel the server runs on.
const ContextSelf = "vessels.self"

// timestamps are sent in UTC with millisecond precision
const timestampFormat = "2006-01-02T15:04:05.000Z"

// Delta is a Signal K delta message.
type Delta struct {
	Context string   `json:"context,omitempty"`
	Updates []Update `json:"updates"`
}

type Update struct {
	Source    *Source `json:"source,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	Values    []Value `json:"values"`
}

type Source struct {
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

type Value struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Hello is the first message the server sends on a new stream.
type Hello struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Self      string   `json:"self"`
	Roles     []string `json:"roles"`
	Timestamp string   `json:"timestamp"`
}

// NewDelta wraps a single reading published at path.
func NewDelta(label, path string, r sensorpipe.Reading) Delta {
	update := Update{
		Values: []Value{{Path: path, Value: r.Value}},
	}
	if label != "" {
		update.Source = &Source{Label: label}
	}
	if !r.Timestamp.IsZero() {
		update.Timestamp = FormatTimestamp(r.Timestamp)
	}
	return Delta{Context: ContextSelf, Updates: []Update{update}}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}
