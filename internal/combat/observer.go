package combat

import "github.com/cory-johannsen/gladiator/internal/match"

// Observer receives loop events in order. Implementations must return
// promptly; the loop calls them synchronously.
type Observer interface {
	// OnLog is called after entry has been persisted.
	OnLog(entry match.LogEntry)
	// OnComplete is called after the match row has been completed.
	OnComplete(outcome match.Outcome)
	// OnError is called once when the loop stops without completing.
	OnError(err error)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) OnLog(match.LogEntry)     {}
func (NopObserver) OnComplete(match.Outcome) {}
func (NopObserver) OnError(error)            {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (obs Observers) OnLog(e match.LogEntry) {
	for _, o := range obs {
		o.OnLog(e)
	}
}

func (obs Observers) OnComplete(out match.Outcome) {
	for _, o := range obs {
		o.OnComplete(out)
	}
}

func (obs Observers) OnError(err error) {
	for _, o := range obs {
		o.OnError(err)
	}
}
