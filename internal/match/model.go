// Package match defines the arena match record, participant snapshots, the
// append-only combat log, and the battle state reconstructed from that log.
package match

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a match row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	// StatusFailed is terminal: the run could not proceed (missing participants,
	// or the driving loop went silent and was swept).
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// WinMethod describes how a winner was decided.
type WinMethod string

const (
	MethodKnockout WinMethod = "knockout"
	MethodDeath    WinMethod = "death"
	MethodDecision WinMethod = "decision"
)

// Valid reports whether m is a known method.
func (m WinMethod) Valid() bool {
	return m == MethodKnockout || m == MethodDeath || m == MethodDecision
}

// Sentinel errors shared by stores and the orchestration layer.
var (
	ErrMatchNotFound = errors.New("match not found")
	ErrForbidden     = errors.New("caller is not a participant of this match")
	// ErrInvalidParticipants is returned when participant snapshots are missing
	// or malformed and a run cannot proceed.
	ErrInvalidParticipants = errors.New("participant snapshots missing or malformed")
	// ErrNotRunning is returned when a completion targets a match that is no
	// longer in progress.
	ErrNotRunning = errors.New("match is not in progress")
	// ErrDuplicateAction is returned when a log entry reuses an action number.
	ErrDuplicateAction = errors.New("action number already logged for match")
)

// Match is one scheduled fight between two participants.
//
// Invariant: WinnerID is nil or equals ParticipantA/ParticipantB;
// WinnerMethod is non-nil iff WinnerID is non-nil.
type Match struct {
	ID            string
	ParticipantA  string
	ParticipantB  string
	Arena         string
	Status        Status
	StartedAt     *time.Time
	CompletedAt   *time.Time
	WinnerID      *string
	WinnerMethod  *WinMethod
	TotalActions  *int
	FailureReason *string
	CreatedAt     time.Time
}

// HasParticipant reports whether gladiatorID is one of the two combatants.
func (m *Match) HasParticipant(gladiatorID string) bool {
	return gladiatorID != "" && (gladiatorID == m.ParticipantA || gladiatorID == m.ParticipantB)
}

// Traits bias narration only; they never affect mechanics.
type Traits struct {
	Personality       string `json:"personality,omitempty"`
	NotableHistory    string `json:"notableHistory,omitempty"`
	Weakness          string `json:"weakness,omitempty"`
	PhysicalCondition string `json:"physicalCondition,omitempty"`
	Injury            string `json:"injury,omitempty"`
}

// Participant is the immutable-for-the-match view of a combatant.
type Participant struct {
	ID        string
	OwnerID   string
	Name      string
	Health    int
	MaxHealth int
	Traits    Traits
}

// Validate reports whether the snapshot can drive a simulation.
func (p Participant) Validate() error {
	switch {
	case p.ID == "":
		return errors.New("participant id is empty")
	case p.Name == "":
		return errors.New("participant name is empty")
	case p.MaxHealth <= 0:
		return errors.New("participant max health must be positive")
	}
	return nil
}

// Outcome is the terminal result of a match. A zero WinnerID is a draw.
type Outcome struct {
	WinnerID     string
	WinnerMethod WinMethod
	TotalActions int
}

// Draw reports whether the outcome has no winner.
func (o Outcome) Draw() bool { return o.WinnerID == "" }
