package narration

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/config"
)

// Options tune a Narrator.
type Options struct {
	MaxTokens     int64
	Temperature   float64
	CallTimeout   time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
}

// OptionsFromConfig maps narration settings to Options.
func OptionsFromConfig(cfg config.NarrationConfig) Options {
	return Options{
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		CallTimeout:   cfg.CallTimeout,
		MaxAttempts:   cfg.MaxAttempts,
		RetryInterval: cfg.RetryInterval,
	}
}

// Narrator produces the prose for each beat of a match. It never fails: when
// the provider is nil, errors, times out, or answers with nothing usable after
// MaxAttempts tries, a deterministic fallback sentence is returned instead.
type Narrator struct {
	provider Provider
	opts     Options
	logger   *zap.Logger
}

// New creates a Narrator. A nil provider always narrates with fallbacks.
//
// Precondition: logger must be non-nil.
func New(provider Provider, opts Options, logger *zap.Logger) *Narrator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.MaxTokens < 1 {
		opts.MaxTokens = 160
	}
	return &Narrator{provider: provider, opts: opts, logger: logger}
}

// Introduction narrates action 0.
func (n *Narrator) Introduction(ctx context.Context, s Scene) string {
	return n.narrate(ctx, "introduction", introductionPrompt(s), func() string { return fallbackIntroduction(s) })
}

// Action narrates one exchange. s.Strike must be set.
func (n *Narrator) Action(ctx context.Context, s Scene) string {
	return n.narrate(ctx, "action", actionPrompt(s), func() string { return fallbackAction(s) })
}

// Victory narrates the decided outcome. s.Result must name a winner.
func (n *Narrator) Victory(ctx context.Context, s Scene) string {
	return n.narrate(ctx, "victory", victoryPrompt(s), func() string { return fallbackVictory(s) })
}

// Draw returns the templated draw announcement. It never calls the provider.
func (n *Narrator) Draw(s Scene) string { return fallbackDraw(s) }

func (n *Narrator) narrate(ctx context.Context, beat string, p Prompt, fallback func() string) string {
	if n.provider == nil {
		return fallback()
	}
	p.MaxTokens = n.opts.MaxTokens
	p.Temperature = n.opts.Temperature

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.opts.RetryInterval
	policy.MaxInterval = 4 * n.opts.RetryInterval
	policy.RandomizationFactor = 0

	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		return n.call(ctx, p)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(n.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			n.logger.Debug("narration attempt failed",
				zap.String("beat", beat),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		n.logger.Warn("narration unavailable, using fallback",
			zap.String("beat", beat),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return fallback()
	}
	return text
}

func (n *Narrator) call(ctx context.Context, p Prompt) (string, error) {
	callCtx := ctx
	if n.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, n.opts.CallTimeout)
		defer cancel()
	}
	raw, err := n.provider.Complete(callCtx, p)
	if err != nil {
		return "", err
	}
	text := Clean(raw)
	if text == "" {
		return "", ErrEmptyNarration
	}
	return text, nil
}
