// Package narration turns structured combat context into short arena prose.
//
// A Provider is the raw text-generation collaborator; a Narrator wraps it with
// prompt construction, per-call timeouts, bounded retries, output cleanup, and
// deterministic fallback sentences so narration can never abort combat.
package narration

import (
	"context"
	"errors"
)

// Prompt is one text-generation request.
type Prompt struct {
	// System sets the narrator role and output rules.
	System string
	// User carries the combat context for this beat.
	User string
	// MaxTokens caps output length.
	MaxTokens int64
	// Temperature is the creativity parameter in [0, 1].
	Temperature float64
}

// Provider generates free text for a prompt.
type Provider interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// ErrEmptyNarration is returned when a provider answers with no usable text.
var ErrEmptyNarration = errors.New("narration provider returned empty content")

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, p Prompt) (string, error)

// Complete calls f.
func (f ProviderFunc) Complete(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }
