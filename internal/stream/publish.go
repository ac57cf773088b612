package stream

import (
	"context"
	"fmt"
	"io"
	"time"
)

// FlushWriter is a buffered writer whose Flush reports a gone client.
type FlushWriter interface {
	io.Writer
	Flush() error
}

// ShutdownMessage is the error event sent when the server stops mid-stream.
const ShutdownMessage = "server shutting down"

// shutdownDrain bounds how long Publish keeps forwarding events after ctx ends.
const shutdownDrain = 250 * time.Millisecond

// Publish writes src to w until the terminal event, then returns nil. An idle
// stream gets a ping every pingInterval. A write or flush failure means the
// client detached; Publish returns the error and the caller closes src.
//
// When ctx ends first, events already on their way are still forwarded for a
// short while, and a stream left without a terminal event gets an error event.
// Publish then returns ctx.Err().
//
// Precondition: pingInterval > 0.
func Publish(ctx context.Context, w FlushWriter, src Source, pingInterval time.Duration) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(e Event) error {
		if err := Encode(w, e); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flushing %s event: %w", e.Type, err)
		}
		return nil
	}

	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return drain(ctx, write, events)
		case e, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return drain(ctx, write, nil)
				}
				return nil
			}
			if err := write(e); err != nil {
				return err
			}
			if e.Terminal() {
				return nil
			}
			ticker.Reset(pingInterval)
		case <-ticker.C:
			if err := write(PingEvent()); err != nil {
				return err
			}
		}
	}
}

// drain forwards events until a terminal event, the end of events, or the
// drain window, and closes the stream with ShutdownMessage unless a terminal
// event went out. A nil events skips straight to the closing event.
func drain(ctx context.Context, write func(Event) error, events <-chan Event) error {
	timer := time.NewTimer(shutdownDrain)
	defer timer.Stop()
	for events != nil {
		select {
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := write(e); err != nil {
				return err
			}
			if e.Terminal() {
				return ctx.Err()
			}
		case <-timer.C:
			events = nil
		}
	}
	if err := write(ErrorEvent(ShutdownMessage)); err != nil {
		return err
	}
	return ctx.Err()
}

// Static is a Source over a fixed event list.
type Static struct {
	ch chan Event
}

// NewStatic returns a Source that yields events and then ends.
func NewStatic(events ...Event) *Static {
	ch := make(chan Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return &Static{ch: ch}
}

func (s *Static) Events() <-chan Event { return s.ch }
func (s *Static) Close()               {}
