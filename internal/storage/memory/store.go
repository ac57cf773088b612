// Package memory provides an in-process implementation of the match, log and
// gladiator stores. It backs tests and the database-less dev mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gladiator/internal/match"
)

// Store is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	matches    map[string]match.Match
	logs       map[string][]match.LogEntry
	gladiators map[string]match.Participant
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		matches:    make(map[string]match.Match),
		logs:       make(map[string][]match.LogEntry),
		gladiators: make(map[string]match.Participant),
	}
}

// PutMatch inserts or replaces a match row.
func (s *Store) PutMatch(m match.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Status == "" {
		m.Status = match.StatusPending
	}
	s.matches[m.ID] = m
}

// PutGladiator inserts or replaces a participant snapshot.
func (s *Store) PutGladiator(p match.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gladiators[p.ID] = p
}

// CreateGladiator stores p under a new id.
func (s *Store) CreateGladiator(_ context.Context, p match.Participant) (match.Participant, error) {
	p.ID = uuid.NewString()
	s.PutGladiator(p)
	return p, nil
}

// CreateMatch stores a pending match under a new id.
func (s *Store) CreateMatch(_ context.Context, participantA, participantB, arenaID string) (match.Match, error) {
	if participantA == participantB {
		return match.Match{}, fmt.Errorf("%w: both sides are %s", match.ErrInvalidParticipants, participantA)
	}
	m := match.Match{
		ID:           uuid.NewString(),
		ParticipantA: participantA,
		ParticipantB: participantB,
		Arena:        arenaID,
		Status:       match.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	s.PutMatch(m)
	return m, nil
}

// Get returns the match with id or match.ErrMatchNotFound.
func (s *Store) Get(_ context.Context, id string) (match.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return match.Match{}, match.ErrMatchNotFound
	}
	return m, nil
}

// TryStart moves a pending match to in_progress. Exactly one concurrent caller
// observes true.
func (s *Store) TryStart(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok || m.Status != match.StatusPending {
		return false, nil
	}
	m.Status = match.StatusInProgress
	m.StartedAt = &at
	s.matches[id] = m
	return true, nil
}

// Complete records the outcome on an in-progress match.
func (s *Store) Complete(_ context.Context, id string, o match.Outcome, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return match.ErrMatchNotFound
	}
	if m.Status != match.StatusInProgress {
		return match.ErrNotRunning
	}
	m.Status = match.StatusCompleted
	m.CompletedAt = &at
	total := o.TotalActions
	m.TotalActions = &total
	if !o.Draw() {
		winner, method := o.WinnerID, o.WinnerMethod
		m.WinnerID = &winner
		m.WinnerMethod = &method
	}
	s.matches[id] = m
	return nil
}

// Fail marks an in-progress match failed.
func (s *Store) Fail(_ context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return match.ErrMatchNotFound
	}
	if m.Status != match.StatusInProgress {
		return match.ErrNotRunning
	}
	s.fail(&m, reason, at)
	return nil
}

func (s *Store) fail(m *match.Match, reason string, at time.Time) {
	m.Status = match.StatusFailed
	m.CompletedAt = &at
	m.FailureReason = &reason
	s.matches[m.ID] = *m
}

// FailStale fails every in-progress match whose newest activity (latest log
// entry, else start time) is before cutoff, returning the affected ids sorted.
func (s *Store) FailStale(_ context.Context, cutoff time.Time, reason string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, m := range s.matches {
		if m.Status != match.StatusInProgress {
			continue
		}
		var last time.Time
		if m.StartedAt != nil {
			last = *m.StartedAt
		}
		if entries := s.logs[id]; len(entries) > 0 {
			if ts := entries[len(entries)-1].CreatedAt; ts.After(last) {
				last = ts
			}
		}
		if last.Before(cutoff) {
			s.fail(&m, reason, at)
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Append stores e. Entries must arrive in action order.
func (s *Store) Append(_ context.Context, e match.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[e.MatchID]
	for _, existing := range entries {
		if existing.ActionNumber == e.ActionNumber {
			return fmt.Errorf("%w: %s/%d", match.ErrDuplicateAction, e.MatchID, e.ActionNumber)
		}
	}
	s.logs[e.MatchID] = append(entries, e)
	return nil
}

// List returns entries of matchID with ActionNumber >= fromAction, ordered by action.
func (s *Store) List(_ context.Context, matchID string, fromAction int) ([]match.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []match.LogEntry
	for _, e := range s.logs[matchID] {
		if e.ActionNumber >= fromAction {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionNumber < out[j].ActionNumber })
	return out, nil
}

// GetMany returns the snapshots that exist among ids, in no particular order.
func (s *Store) GetMany(_ context.Context, ids ...string) ([]match.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]match.Participant, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.gladiators[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
