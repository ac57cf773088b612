package combat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/arena"
	"github.com/cory-johannsen/gladiator/internal/dice"
	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/narration"
)

// LogAppender persists combat log entries.
type LogAppender interface {
	// Append stores entry. A reused (MatchID, ActionNumber) returns match.ErrDuplicateAction.
	Append(ctx context.Context, entry match.LogEntry) error
}

// MatchCompleter records the terminal result on the match row.
type MatchCompleter interface {
	// Complete moves an in-progress match to completed, or returns match.ErrNotRunning.
	Complete(ctx context.Context, matchID string, outcome match.Outcome, at time.Time) error
}

// QueueRemover removes participants from the matchmaking queue.
type QueueRemover interface {
	Remove(ctx context.Context, gladiatorIDs ...string) error
}

// Fight identifies one run of the loop.
type Fight struct {
	MatchID string
	A       match.Participant
	B       match.Participant
	Arena   *arena.Arena
	Locale  string
}

// Deps are the collaborators of a Machine. Queue and Observer are optional.
type Deps struct {
	Logs     LogAppender
	Matches  MatchCompleter
	Queue    QueueRemover
	Narrator *narration.Narrator
	Roller   *dice.Roller
	Clock    Clock
	Observer Observer
	Logger   *zap.Logger
	// NewID generates log entry ids; defaults to uuid.NewString.
	NewID func() string
	// StepAttempts bounds tries of one failing step, the first included. Defaults to 4.
	StepAttempts uint
	// RetryInterval is the initial delay between tries of a step. Defaults to 250ms.
	RetryInterval time.Duration
}

const (
	defaultStepAttempts  = 4
	defaultRetryInterval = 250 * time.Millisecond
	maxRetryInterval     = 5 * time.Second
)

// Machine is the per-match simulation state machine. It is not safe for
// concurrent use; one goroutine drives one Machine.
type Machine struct {
	fight Fight
	deps  Deps

	state   State
	healthA int
	healthB int
	// lastAction is the action number of the newest persisted entry, -1 before the introduction.
	lastAction int
	resolve    resolution
	// pending is an entry built but not yet persisted. A retried step writes it
	// as is, so its rolls and narration are not drawn twice.
	pending *match.LogEntry
	// final is the persisted terminal entry, kept so a failed completion can be retried
	// without writing the entry twice.
	final   *match.LogEntry
	outcome match.Outcome
}

// NewMachine validates the fight and returns a Machine in the introducing state.
//
// Precondition: deps.Logs, deps.Matches, deps.Narrator, deps.Roller, deps.Clock and deps.Logger are non-nil.
// Postcondition: returns match.ErrInvalidParticipants when either snapshot cannot drive a fight.
func NewMachine(f Fight, deps Deps) (*Machine, error) {
	if err := f.A.Validate(); err != nil {
		return nil, fmt.Errorf("%w: side A: %v", match.ErrInvalidParticipants, err)
	}
	if err := f.B.Validate(); err != nil {
		return nil, fmt.Errorf("%w: side B: %v", match.ErrInvalidParticipants, err)
	}
	if f.A.ID == f.B.ID {
		return nil, fmt.Errorf("%w: both sides are %s", match.ErrInvalidParticipants, f.A.ID)
	}
	if f.Arena == nil {
		return nil, errors.New("combat: arena must not be nil")
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.StepAttempts == 0 {
		deps.StepAttempts = defaultStepAttempts
	}
	if deps.RetryInterval <= 0 {
		deps.RetryInterval = defaultRetryInterval
	}
	return &Machine{
		fight:      f,
		deps:       deps,
		state:      State{Phase: PhaseIntroducing},
		healthA:    f.A.MaxHealth,
		healthB:    f.B.MaxHealth,
		lastAction: -1,
	}, nil
}

// State returns the current loop state.
func (m *Machine) State() State { return m.state }

// Battle returns the battle state as of the newest persisted entry.
func (m *Machine) Battle() match.BattleState {
	bs := match.BattleState{
		ActionNumber: max(m.lastAction, 0),
		HealthA:      m.healthA,
		HealthB:      m.healthB,
		IsComplete:   m.state.Phase == PhaseTerminal,
	}
	if bs.IsComplete {
		bs.WinnerID = m.outcome.WinnerID
		bs.WinnerMethod = m.outcome.WinnerMethod
	}
	return bs
}

// Outcome returns the decided result. It is meaningful only in the terminal state.
func (m *Machine) Outcome() match.Outcome { return m.outcome }

// Step performs one transition.
//
// Postcondition: an entry is either persisted and observed, or not written at
// all. On error the step may be retried; an interrupted pacing delay leaves the
// machine at the next action. Step on a terminal machine is a no-op.
func (m *Machine) Step(ctx context.Context) (State, error) {
	var err error
	switch m.state.Phase {
	case PhaseIntroducing:
		err = m.introduce(ctx)
	case PhaseActing:
		err = m.act(ctx, m.state.Action)
	case PhaseResolving:
		err = m.conclude(ctx)
	case PhaseTerminal:
	}
	return m.state, err
}

// Run steps the machine until it is terminal or a step fails for good. A
// failing step is retried with exponential backoff up to deps.StepAttempts
// tries; cancellation and data errors are not retried. A final failure is
// reported to the observer once and returned.
func Run(ctx context.Context, m *Machine) (match.Outcome, error) {
	start := m.deps.Clock.Now()
	for m.state.Phase != PhaseTerminal {
		if err := m.stepWithRetry(ctx); err != nil {
			m.deps.Logger.Warn("combat loop stopped",
				zap.Stringer("state", m.state),
				zap.Int("last_action", m.lastAction),
				zap.Error(err),
			)
			m.deps.Observer.OnError(err)
			return match.Outcome{}, err
		}
	}
	m.deps.Logger.Info("combat loop finished",
		zap.String("winner_id", m.outcome.WinnerID),
		zap.String("winner_method", string(m.outcome.WinnerMethod)),
		zap.Int("total_actions", m.outcome.TotalActions),
		zap.Duration("elapsed", m.deps.Clock.Now().Sub(start)),
	)
	return m.outcome, nil
}

func (m *Machine) stepWithRetry(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.deps.RetryInterval
	policy.MaxInterval = maxRetryInterval

	_, err := backoff.Retry(ctx, func() (State, error) {
		st, err := m.Step(ctx)
		if err != nil && !retryable(ctx, err) {
			return st, backoff.Permanent(err)
		}
		return st, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(m.deps.StepAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.deps.Logger.Warn("combat step failed, retrying",
				zap.Stringer("state", m.state),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	return err
}

// retryable reports whether a failed step may succeed on another try.
func retryable(ctx context.Context, err error) bool {
	switch {
	case ctx.Err() != nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, match.ErrNotRunning),
		errors.Is(err, match.ErrDuplicateAction):
		return false
	}
	return true
}

func (m *Machine) introduce(ctx context.Context) error {
	if m.pending == nil {
		text := m.deps.Narrator.Introduction(ctx, m.scene(0))
		if err := ctx.Err(); err != nil {
			return err
		}
		e := m.entry(0, match.LogIntroduction, text, m.healthA, m.healthB)
		m.pending = &e
	}
	if err := m.persistPending(ctx); err != nil {
		return err
	}
	m.state = State{Phase: PhaseActing, Action: 1}
	return nil
}

func (m *Machine) act(ctx context.Context, i int) error {
	a := m.fight.Arena
	if m.pending == nil || m.pending.ActionNumber != i {
		hitA := m.deps.Roller.Flip()
		damage := m.deps.Roller.Roll(a.DamageExpr()).Total()

		healthA, healthB := m.healthA, m.healthB
		attacker, defender := m.fight.B.Name, m.fight.A.Name
		remaining := 0
		if hitA {
			healthA = max(healthA-damage, 0)
			remaining = healthA
		} else {
			attacker, defender = defender, attacker
			healthB = max(healthB-damage, 0)
			remaining = healthB
		}

		s := m.scene(i)
		s.Strike = &narration.Strike{Attacker: attacker, Defender: defender, Damage: damage, Remaining: remaining}
		text := m.deps.Narrator.Action(ctx, s)
		if err := ctx.Err(); err != nil {
			return err
		}
		e := m.entry(i, match.LogAction, text, healthA, healthB)
		m.pending = &e
	}
	healthA, healthB := m.pending.HealthA, m.pending.HealthB
	if err := m.persistPending(ctx); err != nil {
		return err
	}
	m.healthA, m.healthB = healthA, healthB

	switch {
	case healthA == 0:
		m.resolve = resolveZeroA
	case healthB == 0:
		m.resolve = resolveZeroB
	case i >= a.MaxActions:
		m.resolve = resolveCeiling
	}
	if m.resolve != resolveNone {
		m.state = State{Phase: PhaseResolving}
		return nil
	}

	// The entry is persisted; an interrupted delay resumes at the next action.
	m.state = State{Phase: PhaseActing, Action: i + 1}
	return m.deps.Clock.Sleep(ctx, a.ActionInterval())
}

func (m *Machine) conclude(ctx context.Context) error {
	if m.final == nil {
		if m.pending == nil {
			entry, outcome, err := m.decide(ctx)
			if err != nil {
				return err
			}
			m.pending = &entry
			m.outcome = outcome
		}
		entry := *m.pending
		if err := m.persistPending(ctx); err != nil {
			return err
		}
		m.final = &entry
	}

	if err := m.deps.Matches.Complete(ctx, m.fight.MatchID, m.outcome, m.deps.Clock.Now()); err != nil {
		return fmt.Errorf("completing match: %w", err)
	}
	if m.deps.Queue != nil {
		if err := m.deps.Queue.Remove(ctx, m.fight.A.ID, m.fight.B.ID); err != nil {
			m.deps.Logger.Warn("removing participants from queue", zap.Error(err))
		}
	}
	m.state = State{Phase: PhaseTerminal}
	m.deps.Observer.OnComplete(m.outcome)
	return nil
}

// decide builds the terminal entry. Exactly one of victory or draw is produced.
func (m *Machine) decide(ctx context.Context) (match.LogEntry, match.Outcome, error) {
	n := m.lastAction + 1
	a, b := m.fight.A, m.fight.B
	outcome := match.Outcome{TotalActions: n}

	var winner, loser match.Participant
	switch m.resolve {
	case resolveZeroA:
		winner, loser = b, a
		outcome.WinnerMethod = m.finishingMethod()
	case resolveZeroB:
		winner, loser = a, b
		outcome.WinnerMethod = m.finishingMethod()
	case resolveCeiling:
		switch {
		case m.healthA > m.healthB:
			winner, loser = a, b
		case m.healthB > m.healthA:
			winner, loser = b, a
		default:
			entry := m.entry(n, match.LogSystem, m.deps.Narrator.Draw(m.scene(n)), m.healthA, m.healthB)
			return entry, outcome, nil
		}
		outcome.WinnerMethod = match.MethodDecision
	default:
		return match.LogEntry{}, match.Outcome{}, errors.New("combat: resolving without a reason")
	}
	outcome.WinnerID = winner.ID

	s := m.scene(n)
	s.Result = &narration.Result{Winner: winner.Name, Loser: loser.Name, Method: outcome.WinnerMethod}
	text := m.deps.Narrator.Victory(ctx, s)
	if err := ctx.Err(); err != nil {
		return match.LogEntry{}, match.Outcome{}, err
	}
	entry := m.entry(n, match.LogVictory, text, m.healthA, m.healthB)
	entry.WinnerID = &outcome.WinnerID
	method := outcome.WinnerMethod
	entry.WinnerMethod = &method
	return entry, outcome, nil
}

// finishingMethod rolls death versus knockout for a zero-health result.
// The death roll is consulted only when the arena permits lethal outcomes.
func (m *Machine) finishingMethod() match.WinMethod {
	a := m.fight.Arena
	if a.DeathEnabled && m.deps.Roller.Chance(a.DeathChancePercent) {
		return match.MethodDeath
	}
	return match.MethodKnockout
}

// persistPending writes the pending entry and clears it on success.
func (m *Machine) persistPending(ctx context.Context) error {
	if err := m.persist(ctx, *m.pending); err != nil {
		return err
	}
	m.pending = nil
	return nil
}

func (m *Machine) persist(ctx context.Context, e match.LogEntry) error {
	if err := m.deps.Logs.Append(ctx, e); err != nil {
		return fmt.Errorf("appending action %d: %w", e.ActionNumber, err)
	}
	m.lastAction = e.ActionNumber
	m.deps.Logger.Debug("combat log appended",
		zap.Int("action", e.ActionNumber),
		zap.String("type", string(e.Type)),
		zap.Int("health_a", e.HealthA),
		zap.Int("health_b", e.HealthB),
	)
	m.deps.Observer.OnLog(e)
	return nil
}

func (m *Machine) entry(n int, t match.LogType, text string, healthA, healthB int) match.LogEntry {
	return match.LogEntry{
		ID:           m.deps.NewID(),
		MatchID:      m.fight.MatchID,
		ActionNumber: n,
		Type:         t,
		Message:      text,
		Locale:       m.fight.Locale,
		HealthA:      healthA,
		HealthB:      healthB,
		CreatedAt:    m.deps.Clock.Now(),
	}
}

func (m *Machine) scene(n int) narration.Scene {
	a := m.fight.Arena
	name := a.Name
	if name == "" {
		name = a.ID
	}
	return narration.Scene{
		ArenaName:        name,
		ArenaDescription: a.Description,
		Locale:           m.fight.Locale,
		ActionNumber:     n,
		MaxActions:       a.MaxActions,
		A:                fighter(m.fight.A, m.healthA),
		B:                fighter(m.fight.B, m.healthB),
	}
}

func fighter(p match.Participant, health int) narration.Fighter {
	return narration.Fighter{Name: p.Name, Health: health, MaxHealth: p.MaxHealth, Traits: p.Traits}
}
