// Package stream implements the real-time match event protocol: the event
// model, the server-sent events wire format, the non-blocking relay between a
// simulation loop and its starting client, and the log-tailing watcher used by
// every other client.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cory-johannsen/gladiator/internal/match"
)

// EventType discriminates Event payloads.
type EventType string

const (
	EventLog      EventType = "log"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventPing     EventType = "ping"
)

// Event is one message on a match stream.
type Event struct {
	Type         EventType       `json:"type"`
	Log          *match.LogEntry `json:"log,omitempty"`
	WinnerID     string          `json:"winnerId,omitempty"`
	WinnerMethod match.WinMethod `json:"winnerMethod,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// LogEvent wraps a persisted entry.
func LogEvent(e match.LogEntry) Event { return Event{Type: EventLog, Log: &e} }

// CompleteEvent announces the outcome; a draw carries no winner fields.
func CompleteEvent(o match.Outcome) Event {
	if o.Draw() {
		return Event{Type: EventComplete}
	}
	return Event{Type: EventComplete, WinnerID: o.WinnerID, WinnerMethod: o.WinnerMethod}
}

// ErrorEvent reports a stream-ending failure.
func ErrorEvent(message string) Event { return Event{Type: EventError, Message: message} }

// PingEvent keeps an idle connection alive.
func PingEvent() Event { return Event{Type: EventPing} }

// Terminal reports whether no event follows e on its stream.
func (e Event) Terminal() bool { return e.Type == EventComplete || e.Type == EventError }

// Encode writes e in server-sent events framing: "data: <json>\n\n".
func Encode(w io.Writer, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("writing %s event: %w", e.Type, err)
	}
	return nil
}

// ErrMalformedEvent is returned by Decoder for a data line that is not an Event.
var ErrMalformedEvent = errors.New("malformed stream event")

// Decoder reads Events from a server-sent events body. Comment lines, event
// names and ids are ignored; multi-line data fields are joined with newlines.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: s}
}

// Next returns the next event, or io.EOF when the body ends cleanly.
func (d *Decoder) Next() (Event, error) {
	var data bytes.Buffer
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if data.Len() == 0 {
				continue
			}
			return parse(data.Bytes())
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(rest, " "))
		}
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	if data.Len() > 0 {
		return parse(data.Bytes())
	}
	return Event{}, io.EOF
}

func parse(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch e.Type {
	case EventLog:
		if e.Log == nil {
			return Event{}, fmt.Errorf("%w: log event without entry", ErrMalformedEvent)
		}
	case EventComplete, EventError, EventPing:
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}
	return e, nil
}
