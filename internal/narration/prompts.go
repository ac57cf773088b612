package narration

import (
	"fmt"
	"strings"

	"github.com/cory-johannsen/gladiator/internal/match"
)

// Fighter is one side of a Scene.
type Fighter struct {
	Name      string
	Health    int
	MaxHealth int
	Traits    match.Traits
}

// Strike describes the blow landed in an action.
type Strike struct {
	Attacker string
	Defender string
	Damage   int
	// Remaining is the defender's health after the blow.
	Remaining int
}

// Result describes a decided match.
type Result struct {
	Winner string
	Loser  string
	Method match.WinMethod
}

// Scene is the structured context for one narration beat.
type Scene struct {
	ArenaName        string
	ArenaDescription string
	Locale           string
	ActionNumber     int
	MaxActions       int
	A                Fighter
	B                Fighter
	Strike           *Strike
	Result           *Result
}

const systemPrompt = `You are the announcer of a gladiator arena. Narrate vividly in one to three sentences.
Write plain prose only: no headings, no numbering, no quotation marks around the answer, no preamble.
Never contradict the facts you are given about damage, health, or the outcome.`

func system(locale string) string {
	if locale == "" {
		return systemPrompt
	}
	return systemPrompt + "\nRespond in the language identified by the locale code " + locale + "."
}

func describe(f Fighter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (health %d/%d)", f.Name, f.Health, f.MaxHealth)
	t := f.Traits
	for _, kv := range [][2]string{
		{"personality", t.Personality},
		{"history", t.NotableHistory},
		{"weakness", t.Weakness},
		{"condition", t.PhysicalCondition},
		{"injury", t.Injury},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, "; %s: %s", kv[0], kv[1])
		}
	}
	return b.String()
}

func arenaLine(s Scene) string {
	if s.ArenaDescription == "" {
		return "Arena: " + s.ArenaName
	}
	return "Arena: " + s.ArenaName + ". " + s.ArenaDescription
}

func introductionPrompt(s Scene) Prompt {
	return Prompt{
		System: system(s.Locale),
		User: strings.Join([]string{
			arenaLine(s),
			"First fighter: " + describe(s.A),
			"Second fighter: " + describe(s.B),
			"Introduce both fighters to the crowd as they enter.",
		}, "\n"),
	}
}

func actionPrompt(s Scene) Prompt {
	lines := []string{
		arenaLine(s),
		fmt.Sprintf("Exchange %d of at most %d.", s.ActionNumber, s.MaxActions),
		"First fighter: " + describe(s.A),
		"Second fighter: " + describe(s.B),
	}
	if st := s.Strike; st != nil {
		lines = append(lines, fmt.Sprintf("%s strikes %s for %d damage, leaving %s at %d health.",
			st.Attacker, st.Defender, st.Damage, st.Defender, st.Remaining))
	}
	lines = append(lines, "Describe this exchange.")
	return Prompt{System: system(s.Locale), User: strings.Join(lines, "\n")}
}

func victoryPrompt(s Scene) Prompt {
	lines := []string{
		arenaLine(s),
		"First fighter: " + describe(s.A),
		"Second fighter: " + describe(s.B),
	}
	if r := s.Result; r != nil {
		switch r.Method {
		case match.MethodDeath:
			lines = append(lines, fmt.Sprintf("%s has slain %s. The fight is over.", r.Winner, r.Loser))
		case match.MethodKnockout:
			lines = append(lines, fmt.Sprintf("%s has knocked out %s, who survives. The fight is over.", r.Winner, r.Loser))
		default:
			lines = append(lines, fmt.Sprintf("Time is called. %s wins on decision over %s.", r.Winner, r.Loser))
		}
	}
	lines = append(lines, "Announce the victory.")
	return Prompt{System: system(s.Locale), User: strings.Join(lines, "\n")}
}
