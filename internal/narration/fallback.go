package narration

import (
	"fmt"

	"github.com/cory-johannsen/gladiator/internal/match"
)

// Fallback sentences are chosen by action number so a replayed match yields
// the same text.

var actionTemplates = []string{
	"%s lands a heavy blow on %s for %d damage.",
	"%s finds an opening and strikes %s for %d damage.",
	"%s drives forward and wounds %s for %d damage.",
	"%s catches %s off guard, dealing %d damage.",
}

func fallbackIntroduction(s Scene) string {
	return fmt.Sprintf("The crowd roars as %s and %s step onto the sands of %s.", s.A.Name, s.B.Name, s.ArenaName)
}

func fallbackAction(s Scene) string {
	if s.Strike == nil {
		return fmt.Sprintf("%s and %s circle each other warily.", s.A.Name, s.B.Name)
	}
	tmpl := actionTemplates[s.ActionNumber%len(actionTemplates)]
	return fmt.Sprintf(tmpl, s.Strike.Attacker, s.Strike.Defender, s.Strike.Damage)
}

func fallbackVictory(s Scene) string {
	r := s.Result
	if r == nil {
		return fallbackDraw(s)
	}
	switch r.Method {
	case match.MethodDeath:
		return fmt.Sprintf("%s falls and does not rise. %s is victorious.", r.Loser, r.Winner)
	case match.MethodKnockout:
		return fmt.Sprintf("%s collapses, beaten. %s wins by knockout.", r.Loser, r.Winner)
	default:
		return fmt.Sprintf("Time is called. %s wins by decision over %s.", r.Winner, r.Loser)
	}
}

func fallbackDraw(s Scene) string {
	return fmt.Sprintf("Time is called with %s and %s evenly matched. The bout is declared a draw.", s.A.Name, s.B.Name)
}
