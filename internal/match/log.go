package match

import (
	"errors"
	"fmt"
	"time"
)

// LogType classifies a combat log entry.
type LogType string

const (
	LogIntroduction LogType = "introduction"
	LogAction       LogType = "action"
	// LogInjury and LogDeath are declared for stored compatibility; the
	// simulation narrates injuries and deaths inside action/victory entries.
	LogInjury  LogType = "injury"
	LogDeath   LogType = "death"
	LogVictory LogType = "victory"
	LogSystem  LogType = "system"
)

// LogEntry is one persisted action with its post-action health snapshot.
// Victory entries additionally record the decided winner and method so the
// terminal result can be replayed from the log alone.
type LogEntry struct {
	ID           string     `json:"id"`
	MatchID      string     `json:"matchId"`
	ActionNumber int        `json:"actionNumber"`
	Type         LogType    `json:"type"`
	Message      string     `json:"message"`
	Locale       string     `json:"locale"`
	HealthA      int        `json:"healthA"`
	HealthB      int        `json:"healthB"`
	WinnerID     *string    `json:"winnerId,omitempty"`
	WinnerMethod *WinMethod `json:"winnerMethod,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// BattleState is the running view of a fight, derived from its log.
type BattleState struct {
	ActionNumber int
	HealthA      int
	HealthB      int
	IsComplete   bool
	WinnerID     string
	WinnerMethod WinMethod
}

// ErrInconsistentLog is returned by Replay when the log violates an invariant.
var ErrInconsistentLog = errors.New("inconsistent combat log")

// Replay rebuilds the battle state from a match's log entries, which must be
// ordered by ActionNumber. It verifies density (0..n), that health never
// increases or goes negative, and that a terminal entry agrees with the
// mechanics: a zero-health side loses by knockout or death, otherwise the
// healthier side wins by decision and equal health is a draw.
//
// Postcondition: for a completed log, the returned state reproduces the
// winner and method recorded on the match row.
func Replay(participantA, participantB string, entries []LogEntry) (BattleState, error) {
	var st BattleState
	for i, e := range entries {
		if e.ActionNumber != i {
			return st, fmt.Errorf("%w: entry %d has action number %d", ErrInconsistentLog, i, e.ActionNumber)
		}
		if e.HealthA < 0 || e.HealthB < 0 {
			return st, fmt.Errorf("%w: negative health at action %d", ErrInconsistentLog, i)
		}
		if i > 0 && (e.HealthA > st.HealthA || e.HealthB > st.HealthB) {
			return st, fmt.Errorf("%w: health increased at action %d", ErrInconsistentLog, i)
		}
		if st.IsComplete {
			return st, fmt.Errorf("%w: entry %d follows the terminal entry", ErrInconsistentLog, i)
		}
		st.ActionNumber = e.ActionNumber
		st.HealthA, st.HealthB = e.HealthA, e.HealthB

		switch e.Type {
		case LogVictory:
			winner, method, err := terminalOutcome(participantA, participantB, e)
			if err != nil {
				return st, err
			}
			if e.WinnerID == nil || *e.WinnerID != winner {
				return st, fmt.Errorf("%w: victory entry names the wrong winner", ErrInconsistentLog)
			}
			if e.WinnerMethod == nil || !methodAgrees(method, *e.WinnerMethod) {
				return st, fmt.Errorf("%w: victory method disagrees with health", ErrInconsistentLog)
			}
			st.IsComplete = true
			st.WinnerID = winner
			st.WinnerMethod = *e.WinnerMethod
		case LogSystem:
			if e.HealthA != e.HealthB || e.HealthA == 0 {
				return st, fmt.Errorf("%w: draw entry with unequal or zero health", ErrInconsistentLog)
			}
			st.IsComplete = true
		}
	}
	return st, nil
}

// terminalOutcome derives the winner from the final health snapshot.
// The returned method is MethodKnockout for any zero-health result; the
// caller accepts death in its place.
func terminalOutcome(a, b string, e LogEntry) (string, WinMethod, error) {
	switch {
	case e.HealthA == 0 && e.HealthB == 0:
		return "", "", fmt.Errorf("%w: both sides at zero health", ErrInconsistentLog)
	case e.HealthA == 0:
		return b, MethodKnockout, nil
	case e.HealthB == 0:
		return a, MethodKnockout, nil
	case e.HealthA > e.HealthB:
		return a, MethodDecision, nil
	case e.HealthB > e.HealthA:
		return b, MethodDecision, nil
	}
	return "", "", fmt.Errorf("%w: victory entry with equal health", ErrInconsistentLog)
}

func methodAgrees(derived, recorded WinMethod) bool {
	if derived == MethodKnockout {
		return recorded == MethodKnockout || recorded == MethodDeath
	}
	return derived == recorded
}
