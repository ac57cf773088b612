package stream

import (
	"sync"

	"github.com/cory-johannsen/gladiator/internal/match"
)

// Source is an ordered, finite event sequence. Events is closed after the
// terminal event or after Close.
type Source interface {
	Events() <-chan Event
	// Close detaches the consumer. Safe to call more than once.
	Close()
}

// Relay carries events from a simulation loop to one consumer. Pushes never
// block: events queue until the consumer reads them, and are dropped once the
// consumer has detached. Relay implements combat.Observer.
type Relay struct {
	mu       sync.Mutex
	queue    []Event
	finished bool

	signal chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

// NewRelay starts a relay.
//
// Postcondition: Events yields pushed events in order until a terminal event.
func NewRelay() *Relay {
	r := &Relay{
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	go r.pump()
	return r
}

// Push enqueues e. Pushes after a terminal event or after Close are dropped.
func (r *Relay) Push(e Event) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, e)
	if e.Terminal() {
		r.finished = true
	}
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *Relay) OnLog(e match.LogEntry)     { r.Push(LogEvent(e)) }
func (r *Relay) OnComplete(o match.Outcome) { r.Push(CompleteEvent(o)) }
func (r *Relay) OnError(err error)          { r.Push(ErrorEvent(err.Error())) }

// Events returns the consumer channel.
func (r *Relay) Events() <-chan Event { return r.out }

// Close detaches the consumer and releases the pump.
func (r *Relay) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.finished = true
		r.queue = nil
		r.mu.Unlock()
		close(r.done)
	})
}

func (r *Relay) pump() {
	defer close(r.out)
	for {
		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		finished := r.finished
		r.mu.Unlock()

		for _, e := range batch {
			select {
			case r.out <- e:
			case <-r.done:
				return
			}
			if e.Terminal() {
				return
			}
		}
		if finished && len(batch) == 0 {
			return
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-r.signal:
		case <-r.done:
			return
		}
	}
}
