package dice

import "go.uber.org/zap"

// Roller wraps a Source and logger to provide logged rolling.
// Every roll is logged at debug level so a match can be audited from the logs.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller that rolls with src and logs each roll to logger.
//
// Precondition: src and logger must be non-nil.
func NewLoggedRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// Roll evaluates expr.
//
// Precondition: expr must come from Parse.
// Postcondition: expr.Min() <= result.Total() <= expr.Max().
func (r *Roller) Roll(expr Expression) RollResult {
	rolled := make([]int, expr.Count)
	for i := range rolled {
		rolled[i] = r.src.Intn(expr.Sides) + 1
	}
	result := RollResult{Expression: expr.Raw, Dice: rolled, Modifier: expr.Modifier}
	r.logger.Debug("dice roll",
		zap.String("expression", result.Expression),
		zap.Ints("dice", result.Dice),
		zap.Int("modifier", result.Modifier),
		zap.Int("total", result.Total()),
	)
	return result
}

// Flip returns true or false with equal probability. Intn(2) == 0 maps to true.
func (r *Roller) Flip() bool {
	heads := r.src.Intn(2) == 0
	r.logger.Debug("coin flip", zap.Bool("heads", heads))
	return heads
}

// Chance reports whether a percentage check succeeds.
//
// Postcondition: percent <= 0 never succeeds and never consumes randomness;
// percent >= 100 always succeeds and never consumes randomness.
func (r *Roller) Chance(percent int) bool {
	switch {
	case percent <= 0:
		return false
	case percent >= 100:
		return true
	}
	roll := r.src.Intn(100)
	ok := roll < percent
	r.logger.Debug("percent check",
		zap.Int("percent", percent),
		zap.Int("roll", roll),
		zap.Bool("success", ok),
	)
	return ok
}
