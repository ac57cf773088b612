package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/match"
)

// MatchReader loads match rows.
type MatchReader interface {
	Get(ctx context.Context, id string) (match.Match, error)
}

// LogReader lists log entries with ActionNumber >= fromAction in action order.
type LogReader interface {
	List(ctx context.Context, matchID string, fromAction int) ([]match.LogEntry, error)
}

// maxReadFailures is the number of consecutive store errors a watch tolerates.
const maxReadFailures = 3

// Watcher streams a match from storage. It never mutates anything; it replays
// the persisted log, tails new entries, and ends with the terminal event.
type Watcher struct {
	matches MatchReader
	logs    LogReader
	hub     *Hub
	poll    time.Duration
	logger  *zap.Logger
}

// NewWatcher creates a Watcher. hub may be nil, in which case only polling is used.
//
// Precondition: poll > 0; matches, logs and logger are non-nil.
func NewWatcher(matches MatchReader, logs LogReader, hub *Hub, poll time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{matches: matches, logs: logs, hub: hub, poll: poll, logger: logger}
}

// Watch starts streaming matchID until it is terminal, ctx is done, or the
// returned Source is closed.
//
// Postcondition: log events are emitted in action order with no gaps or repeats.
func (w *Watcher) Watch(ctx context.Context, matchID string) Source {
	s := &watch{
		w:       w,
		matchID: matchID,
		out:     make(chan Event),
		done:    make(chan struct{}),
	}
	var wake <-chan struct{}
	var cancel func()
	if w.hub != nil {
		wake, cancel = w.hub.Subscribe(matchID)
	}
	go func() {
		if cancel != nil {
			defer cancel()
		}
		s.run(ctx, wake)
	}()
	return s
}

type watch struct {
	w       *Watcher
	matchID string
	out     chan Event
	done    chan struct{}
	once    sync.Once
}

func (s *watch) Events() <-chan Event { return s.out }

func (s *watch) Close() { s.once.Do(func() { close(s.done) }) }

func (s *watch) send(ctx context.Context, e Event) bool {
	select {
	case s.out <- e:
		return true
	case <-s.done:
	case <-ctx.Done():
	}
	return false
}

func (s *watch) run(ctx context.Context, wake <-chan struct{}) {
	defer close(s.out)
	logger := s.w.logger.With(zap.String("match_id", s.matchID))
	ticker := time.NewTicker(s.w.poll)
	defer ticker.Stop()

	next, failures := 0, 0
	for {
		terminal, err := s.drain(ctx, &next)
		switch {
		case err == nil:
			failures = 0
			if terminal {
				return
			}
		case ctx.Err() != nil:
			return
		case errors.Is(err, match.ErrMatchNotFound):
			s.send(ctx, ErrorEvent(err.Error()))
			return
		default:
			failures++
			logger.Warn("watch read failed", zap.Int("failures", failures), zap.Error(err))
			if failures >= maxReadFailures {
				s.send(ctx, ErrorEvent("match state unavailable"))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// drain emits every entry from *next onward and, when the match is terminal,
// the closing event. The status is read before the log so a completed match
// has all of its entries listed.
func (s *watch) drain(ctx context.Context, next *int) (bool, error) {
	m, err := s.w.matches.Get(ctx, s.matchID)
	if err != nil {
		return false, err
	}
	entries, err := s.w.logs.List(ctx, s.matchID, *next)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.ActionNumber < *next {
			continue
		}
		if !s.send(ctx, LogEvent(e)) {
			return true, nil
		}
		*next = e.ActionNumber + 1
	}

	switch m.Status {
	case match.StatusCompleted:
		s.send(ctx, CompleteEvent(OutcomeOf(m)))
		return true, nil
	case match.StatusFailed:
		msg := "match failed"
		if m.FailureReason != nil {
			msg += ": " + *m.FailureReason
		}
		s.send(ctx, ErrorEvent(msg))
		return true, nil
	case match.StatusCancelled:
		s.send(ctx, ErrorEvent("match cancelled"))
		return true, nil
	}
	return false, nil
}

// OutcomeOf reads the recorded outcome off a completed match row.
func OutcomeOf(m match.Match) match.Outcome {
	var o match.Outcome
	if m.WinnerID != nil {
		o.WinnerID = *m.WinnerID
	}
	if m.WinnerMethod != nil {
		o.WinnerMethod = *m.WinnerMethod
	}
	if m.TotalActions != nil {
		o.TotalActions = *m.TotalActions
	}
	return o
}
