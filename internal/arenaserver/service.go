// Package arenaserver orchestrates match runs: it elects the caller that
// starts a pending match, drives the combat loop for that caller, and serves
// everyone else from the persisted log.
package arenaserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/arena"
	"github.com/cory-johannsen/gladiator/internal/combat"
	"github.com/cory-johannsen/gladiator/internal/dice"
	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/narration"
	"github.com/cory-johannsen/gladiator/internal/observability"
	"github.com/cory-johannsen/gladiator/internal/stream"
)

// Mode selects how a caller attaches to a match.
type Mode string

const (
	// ModeStart runs the match when it is pending, else watches it.
	ModeStart Mode = "start"
	// ModeWatch only ever reads the persisted log.
	ModeWatch Mode = "watch"
)

// ErrUnknownMode is returned by ParseMode for anything but start or watch.
var ErrUnknownMode = errors.New("mode must be start or watch")

// ParseMode parses a mode query value. Empty means watch.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeWatch:
		return ModeWatch, nil
	case ModeStart:
		return ModeStart, nil
	}
	return "", fmt.Errorf("%w, got %q", ErrUnknownMode, s)
}

// MatchStore is the match row persistence the service needs.
type MatchStore interface {
	stream.MatchReader
	combat.MatchCompleter
	TryStart(ctx context.Context, id string, at time.Time) (bool, error)
	Fail(ctx context.Context, id, reason string, at time.Time) error
}

// LogStore persists and lists combat log entries.
type LogStore interface {
	combat.LogAppender
	stream.LogReader
}

// GladiatorStore loads participant snapshots. Unknown ids are omitted from the result.
type GladiatorStore interface {
	GetMany(ctx context.Context, ids ...string) ([]match.Participant, error)
}

// OpenRequest describes one stream request.
type OpenRequest struct {
	MatchID string
	// UserID is the authenticated caller; start mode requires an owner of either side.
	UserID string
	Locale string
	Mode   Mode
}

// Deps are the collaborators of a Service. Queue and Hub are optional.
type Deps struct {
	Matches    MatchStore
	Logs       LogStore
	Gladiators GladiatorStore
	Queue      combat.QueueRemover
	Arenas     *arena.Registry
	Narrator   *narration.Narrator
	Roller     *dice.Roller
	Clock      combat.Clock
	Hub        *stream.Hub
	Watcher    *stream.Watcher
	Logger     *zap.Logger
}

// Service opens match streams. It is safe for concurrent use.
type Service struct {
	deps Deps
	// base outlives every request so a client disconnect never stops a loop.
	base  context.Context
	loops sync.WaitGroup
}

// NewService creates a Service whose combat loops and watches run on base.
//
// Precondition: every Deps field except Queue and Hub is non-nil.
func NewService(base context.Context, deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = combat.RealClock{}
	}
	return &Service{deps: deps, base: base}
}

// Open attaches the caller to a match and returns its event stream.
//
// Precondition: req.Mode is ModeStart or ModeWatch.
// Postcondition: returns match.ErrMatchNotFound for an unknown match and
// match.ErrForbidden for a start request by a non-owner, without mutating
// anything. Otherwise the Source yields the same ordered events whichever
// caller drives the loop.
func (s *Service) Open(ctx context.Context, req OpenRequest) (stream.Source, error) {
	m, err := s.deps.Matches.Get(ctx, req.MatchID)
	if err != nil {
		return nil, fmt.Errorf("loading match %s: %w", req.MatchID, err)
	}
	if req.Mode != ModeStart {
		return s.deps.Watcher.Watch(s.base, m.ID), nil
	}

	participants, err := s.deps.Gladiators.GetMany(ctx, m.ParticipantA, m.ParticipantB)
	if err != nil {
		return nil, fmt.Errorf("loading participants of match %s: %w", m.ID, err)
	}
	if !ownsEither(req.UserID, participants) {
		return nil, match.ErrForbidden
	}
	if m.Status != match.StatusPending {
		return s.deps.Watcher.Watch(s.base, m.ID), nil
	}

	now := s.deps.Clock.Now()
	won, err := s.deps.Matches.TryStart(ctx, m.ID, now)
	if err != nil {
		return nil, fmt.Errorf("starting match %s: %w", m.ID, err)
	}
	if !won {
		return s.deps.Watcher.Watch(s.base, m.ID), nil
	}
	return s.launch(m, participants, req.Locale), nil
}

func ownsEither(userID string, participants []match.Participant) bool {
	if userID == "" {
		return false
	}
	for _, p := range participants {
		if p.OwnerID == userID {
			return true
		}
	}
	return false
}

// launch starts the loop for an elected caller. A fight that cannot be built
// fails the match and yields a single error event.
func (s *Service) launch(m match.Match, participants []match.Participant, locale string) stream.Source {
	logger := observability.MatchLogger(s.deps.Logger, m.ID)

	fight, err := s.fight(m, participants, locale)
	if err != nil {
		return s.abort(m.ID, err, logger)
	}
	relay := stream.NewRelay()
	machine, err := combat.NewMachine(fight, combat.Deps{
		Logs:     s.deps.Logs,
		Matches:  s.deps.Matches,
		Queue:    s.deps.Queue,
		Narrator: s.deps.Narrator,
		Roller:   s.deps.Roller,
		Clock:    s.deps.Clock,
		Observer: combat.Observers{relay, hubNotifier{hub: s.deps.Hub, matchID: m.ID}},
		Logger:   logger,
	})
	if err != nil {
		relay.Close()
		return s.abort(m.ID, err, logger)
	}

	logger.Info("match started",
		zap.String("participant_a", fight.A.ID),
		zap.String("participant_b", fight.B.ID),
		zap.String("arena", fight.Arena.ID),
	)
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		_, _ = combat.Run(s.base, machine)
	}()
	return relay
}

func (s *Service) fight(m match.Match, participants []match.Participant, locale string) (combat.Fight, error) {
	byID := make(map[string]match.Participant, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}
	a, okA := byID[m.ParticipantA]
	b, okB := byID[m.ParticipantB]
	switch {
	case !okA:
		return combat.Fight{}, fmt.Errorf("%w: %s not found", match.ErrInvalidParticipants, m.ParticipantA)
	case !okB:
		return combat.Fight{}, fmt.Errorf("%w: %s not found", match.ErrInvalidParticipants, m.ParticipantB)
	}
	ar, err := s.deps.Arenas.Get(m.Arena)
	if err != nil {
		return combat.Fight{}, err
	}
	return combat.Fight{MatchID: m.ID, A: a, B: b, Arena: ar, Locale: locale}, nil
}

// abort marks an elected match failed and reports the cause to the caller.
func (s *Service) abort(matchID string, cause error, logger *zap.Logger) stream.Source {
	reason := cause.Error()
	if err := s.deps.Matches.Fail(s.base, matchID, reason, s.deps.Clock.Now()); err != nil {
		logger.Error("marking match failed", zap.String("reason", reason), zap.Error(err))
	} else {
		logger.Warn("match failed before the first action", zap.String("reason", reason))
	}
	if s.deps.Hub != nil {
		s.deps.Hub.Notify(matchID)
	}
	return stream.NewStatic(stream.ErrorEvent(reason))
}

// StatusView is the public status of a match.
type StatusView struct {
	Status       match.Status    `json:"status"`
	WinnerID     string          `json:"winnerId,omitempty"`
	WinnerMethod match.WinMethod `json:"winnerMethod,omitempty"`
}

// Status reports the status of a match and its winner once completed.
func (s *Service) Status(ctx context.Context, matchID string) (StatusView, error) {
	m, err := s.deps.Matches.Get(ctx, matchID)
	if err != nil {
		return StatusView{}, fmt.Errorf("loading match %s: %w", matchID, err)
	}
	view := StatusView{Status: m.Status}
	if m.WinnerID != nil {
		view.WinnerID = *m.WinnerID
	}
	if m.WinnerMethod != nil {
		view.WinnerMethod = *m.WinnerMethod
	}
	return view, nil
}

// Wait blocks until every running combat loop has returned or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hubNotifier wakes same-process watchers whenever the loop makes progress.
type hubNotifier struct {
	hub     *stream.Hub
	matchID string
}

func (h hubNotifier) OnLog(match.LogEntry)     { h.notify() }
func (h hubNotifier) OnComplete(match.Outcome) { h.notify() }
func (h hubNotifier) OnError(error)            { h.notify() }

func (h hubNotifier) notify() {
	if h.hub != nil {
		h.hub.Notify(h.matchID)
	}
}
