// Package spectator is the client side of a match stream: it keeps a local
// battle state in step with the server's event sequence and recovers from
// dropped connections by reconnecting or polling the status endpoint.
package spectator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/stream"
)

// Phase is the consumer's connection state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCountdown
	PhaseConnecting
	PhaseStreaming
	PhaseRecovering
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCountdown:
		return "countdown"
	case PhaseConnecting:
		return "connecting"
	case PhaseStreaming:
		return "streaming"
	case PhaseRecovering:
		return "recovering"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

var (
	// ErrMatchFailed is returned when the server reports the match failed or cancelled.
	ErrMatchFailed = errors.New("match ended without a result")
	// ErrStreamEnded is a stream that closed before the complete event.
	ErrStreamEnded = errors.New("stream ended before completion")
	// ErrServerError wraps an error event sent by the server.
	ErrServerError = errors.New("server reported an error")
)

// DefaultCountdown is the pre-connection countdown a spectator client shows.
const DefaultCountdown = 5 * time.Second

// Options tune a Consumer. Zero values take the defaults noted per field.
type Options struct {
	Locale string
	// Participant selects start mode when the match is still pending.
	Participant bool
	// Countdown precedes the first connection; zero skips it.
	Countdown time.Duration
	// MaxActions is the arena's action ceiling. Reaching it without a
	// complete event arms a single status poll after Grace. Zero disables it.
	MaxActions int
	// Grace defaults to 3s.
	Grace time.Duration
	// MaxAttempts bounds connection attempts, the first included. Defaults to 5.
	MaxAttempts uint
	// InitialBackoff defaults to 500ms; MaxBackoff defaults to 8s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnEntry is called once per distinct log entry, in arrival order.
	OnEntry func(match.LogEntry)
	// OnPhase is called on every phase change.
	OnPhase func(Phase)
}

func (o *Options) defaults() {
	if o.Grace <= 0 {
		o.Grace = 3 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 8 * time.Second
	}
}

// Result is the frozen view of a finished match.
type Result struct {
	Outcome match.Outcome
	Battle  match.BattleState
	Entries []match.LogEntry
}

// Consumer follows one match. Run drives it; the accessors are safe to call
// from other goroutines.
type Consumer struct {
	transport Transport
	matchID   string
	opts      Options
	logger    *zap.Logger
	skip      chan struct{}
	skipOnce  sync.Once

	mu      sync.Mutex
	phase   Phase
	seen    map[string]struct{}
	entries []match.LogEntry
	battle  match.BattleState
	outcome match.Outcome
}

// New creates a Consumer for matchID.
//
// Precondition: transport and logger are non-nil.
func New(transport Transport, matchID string, opts Options, logger *zap.Logger) *Consumer {
	opts.defaults()
	return &Consumer{
		transport: transport,
		matchID:   matchID,
		opts:      opts,
		logger:    logger.With(zap.String("match_id", matchID)),
		skip:      make(chan struct{}),
		seen:      make(map[string]struct{}),
	}
}

// Phase returns the current phase.
func (c *Consumer) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Battle returns the local battle state.
func (c *Consumer) Battle() match.BattleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.battle
}

// SkipCountdown ends a running or future countdown immediately.
func (c *Consumer) SkipCountdown() {
	c.skipOnce.Do(func() { close(c.skip) })
}

// Run follows the match until it completes, fails, or ctx is done.
//
// Postcondition: on nil error the phase is completed and the Result is
// frozen; otherwise the phase is failed.
func (c *Consumer) Run(ctx context.Context) (Result, error) {
	if err := c.countdown(ctx); err != nil {
		c.setPhase(PhaseFailed)
		return Result{}, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialBackoff
	policy.MaxInterval = c.opts.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, c.session(ctx)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.opts.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Info("stream interrupted, reconnecting",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		c.setPhase(PhaseFailed)
		return Result{}, err
	}
	return c.result(), nil
}

func (c *Consumer) countdown(ctx context.Context) error {
	if c.opts.Countdown <= 0 {
		return nil
	}
	c.setPhase(PhaseCountdown)
	timer := time.NewTimer(c.opts.Countdown)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.skip:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// session performs one connect-and-stream attempt. A nil return means the
// match is finished and frozen.
func (c *Consumer) session(ctx context.Context) error {
	if c.Phase() != PhaseRecovering {
		c.setPhase(PhaseConnecting)
	}

	st, err := c.transport.Status(ctx, c.matchID)
	if err != nil {
		return c.classify(ctx, err)
	}
	if st.Status == match.StatusFailed || st.Status == match.StatusCancelled {
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrMatchFailed, st.Status))
	}
	mode := ModeWatch
	if st.Status == match.StatusPending && c.opts.Participant {
		mode = ModeStart
	}

	s, err := c.transport.Open(ctx, c.matchID, mode, c.opts.Locale)
	if err != nil {
		if permanent(err) || ctx.Err() != nil {
			return c.classify(ctx, err)
		}
		return c.recover(ctx, err)
	}
	c.setPhase(PhaseStreaming)
	err = c.consume(ctx, s)
	_ = s.Close()
	if err == nil || ctx.Err() != nil {
		return c.classify(ctx, err)
	}
	return c.recover(ctx, err)
}

// classify marks errors that must not be retried.
func (c *Consumer) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || permanent(err) {
		return backoff.Permanent(err)
	}
	return err
}

// recover queries the status once after a dropped stream. A completed match
// is finalized from the status; anything else is retried.
func (c *Consumer) recover(ctx context.Context, cause error) error {
	c.setPhase(PhaseRecovering)
	st, err := c.transport.Status(ctx, c.matchID)
	if err != nil {
		return c.classify(ctx, cause)
	}
	switch st.Status {
	case match.StatusCompleted:
		c.finishFromStatus(st)
		return nil
	case match.StatusFailed, match.StatusCancelled:
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrMatchFailed, st.Status))
	}
	return cause
}

type next struct {
	event stream.Event
	err   error
}

func (c *Consumer) consume(ctx context.Context, s Stream) error {
	done := make(chan struct{})
	defer close(done)
	events := make(chan next)
	go func() {
		for {
			e, err := s.Next()
			select {
			case events <- next{event: e, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var grace <-chan time.Time
	armed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-events:
			if n.err != nil {
				if errors.Is(n.err, io.EOF) {
					return ErrStreamEnded
				}
				return n.err
			}
			switch n.event.Type {
			case stream.EventLog:
				if n.event.Log == nil {
					continue
				}
				c.apply(*n.event.Log)
				if !armed && c.reachedCeiling() {
					armed = true
					timer := time.NewTimer(c.opts.Grace)
					defer timer.Stop()
					grace = timer.C
				}
			case stream.EventComplete:
				c.finish(match.Outcome{WinnerID: n.event.WinnerID, WinnerMethod: n.event.WinnerMethod})
				return nil
			case stream.EventError:
				return fmt.Errorf("%w: %s", ErrServerError, n.event.Message)
			case stream.EventPing:
			}
		case <-grace:
			grace = nil
			st, err := c.transport.Status(ctx, c.matchID)
			if err == nil && st.Status == match.StatusCompleted {
				c.logger.Info("completion missed on the stream, taken from status")
				c.finishFromStatus(st)
				return nil
			}
		}
	}
}

// apply adds a log entry unless it was already seen.
func (c *Consumer) apply(e match.LogEntry) {
	c.mu.Lock()
	if _, dup := c.seen[e.ID]; dup || c.battle.IsComplete {
		c.mu.Unlock()
		return
	}
	c.seen[e.ID] = struct{}{}
	c.entries = append(c.entries, e)
	c.battle.ActionNumber = e.ActionNumber
	c.battle.HealthA, c.battle.HealthB = e.HealthA, e.HealthB
	onEntry := c.opts.OnEntry
	c.mu.Unlock()

	if onEntry != nil {
		onEntry(e)
	}
}

func (c *Consumer) reachedCeiling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.MaxActions > 0 && c.battle.ActionNumber >= c.opts.MaxActions && !c.battle.IsComplete
}

func (c *Consumer) finishFromStatus(st StatusView) {
	c.finish(match.Outcome{WinnerID: st.WinnerID, WinnerMethod: st.WinnerMethod})
}

// finish freezes the battle state.
func (c *Consumer) finish(o match.Outcome) {
	c.mu.Lock()
	if !c.battle.IsComplete {
		o.TotalActions = c.battle.ActionNumber
		c.outcome = o
		c.battle.IsComplete = true
		c.battle.WinnerID = o.WinnerID
		c.battle.WinnerMethod = o.WinnerMethod
	}
	c.mu.Unlock()
	c.setPhase(PhaseCompleted)
}

func (c *Consumer) result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{
		Outcome: c.outcome,
		Battle:  c.battle,
		Entries: append([]match.LogEntry(nil), c.entries...),
	}
}

func (c *Consumer) setPhase(p Phase) {
	c.mu.Lock()
	if c.phase == p {
		c.mu.Unlock()
		return
	}
	from := c.phase
	c.phase = p
	onPhase := c.opts.OnPhase
	c.mu.Unlock()

	c.logger.Debug("spectator phase", zap.Stringer("from", from), zap.Stringer("to", p))
	if onPhase != nil {
		onPhase(p)
	}
}
