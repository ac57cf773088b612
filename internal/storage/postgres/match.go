package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gladiator/internal/match"
)

// MatchRepository persists match rows and their status transitions.
type MatchRepository struct {
	db *pgxpool.Pool
}

// NewMatchRepository creates a MatchRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMatchRepository(db *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{db: db}
}

const matchColumns = `id::text, participant_a::text, participant_b::text, arena, status,
	started_at, completed_at, winner_id::text, winner_method, total_actions, failure_reason, created_at`

func scanMatch(row pgx.Row) (match.Match, error) {
	var (
		m      match.Match
		status string
		method *string
	)
	err := row.Scan(
		&m.ID, &m.ParticipantA, &m.ParticipantB, &m.Arena, &status,
		&m.StartedAt, &m.CompletedAt, &m.WinnerID, &method, &m.TotalActions, &m.FailureReason, &m.CreatedAt,
	)
	if err != nil {
		return match.Match{}, err
	}
	m.Status = match.Status(status)
	if method != nil {
		wm := match.WinMethod(*method)
		m.WinnerMethod = &wm
	}
	return m, nil
}

// Create inserts a pending match between two gladiators. Pairing is the
// matchmaker's job; this exists for seeding and tests.
//
// Precondition: participantA and participantB are distinct gladiator ids.
// Postcondition: Returns the created match with ID and CreatedAt set.
func (r *MatchRepository) Create(ctx context.Context, participantA, participantB, arenaID string) (match.Match, error) {
	a, err := parseID(participantA)
	if err != nil {
		return match.Match{}, err
	}
	b, err := parseID(participantB)
	if err != nil {
		return match.Match{}, err
	}
	m, err := scanMatch(r.db.QueryRow(ctx, `
		INSERT INTO matches (participant_a, participant_b, arena)
		VALUES ($1, $2, $3)
		RETURNING `+matchColumns,
		a, b, arenaID,
	))
	if err != nil {
		return match.Match{}, fmt.Errorf("inserting match: %w", err)
	}
	return m, nil
}

// Get retrieves a match by id.
//
// Postcondition: Returns the match or match.ErrMatchNotFound.
func (r *MatchRepository) Get(ctx context.Context, id string) (match.Match, error) {
	mid, err := parseID(id)
	if err != nil {
		return match.Match{}, match.ErrMatchNotFound
	}
	m, err := scanMatch(r.db.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, mid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return match.Match{}, match.ErrMatchNotFound
		}
		return match.Match{}, fmt.Errorf("querying match: %w", err)
	}
	return m, nil
}

// TryStart atomically moves a pending match to in_progress. The single
// conditional UPDATE is the start election: of any number of concurrent
// callers, exactly one observes true.
func (r *MatchRepository) TryStart(ctx context.Context, id string, at time.Time) (bool, error) {
	mid, err := parseID(id)
	if err != nil {
		return false, nil
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE matches SET status = 'in_progress', started_at = $2
		WHERE id = $1 AND status = 'pending'`,
		mid, at,
	)
	if err != nil {
		return false, fmt.Errorf("starting match: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete records the outcome of an in-progress match.
//
// Postcondition: Returns nil, match.ErrMatchNotFound, or match.ErrNotRunning
// when the match has already left in_progress.
func (r *MatchRepository) Complete(ctx context.Context, id string, o match.Outcome, at time.Time) error {
	mid, err := parseID(id)
	if err != nil {
		return match.ErrMatchNotFound
	}
	winner, err := nullableID(o.WinnerID)
	if err != nil {
		return err
	}
	var method any
	if !o.Draw() {
		method = string(o.WinnerMethod)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE matches
		SET status = 'completed', completed_at = $2, winner_id = $3, winner_method = $4, total_actions = $5
		WHERE id = $1 AND status = 'in_progress'`,
		mid, at, winner, method, o.TotalActions,
	)
	if err != nil {
		return fmt.Errorf("completing match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrNotRunning(ctx, id)
	}
	return nil
}

// Fail marks an in-progress match failed with reason.
//
// Postcondition: Returns nil, match.ErrMatchNotFound, or match.ErrNotRunning.
func (r *MatchRepository) Fail(ctx context.Context, id, reason string, at time.Time) error {
	mid, err := parseID(id)
	if err != nil {
		return match.ErrMatchNotFound
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE matches SET status = 'failed', completed_at = $2, failure_reason = $3
		WHERE id = $1 AND status = 'in_progress'`,
		mid, at, reason,
	)
	if err != nil {
		return fmt.Errorf("failing match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrNotRunning(ctx, id)
	}
	return nil
}

// FailStale fails every in-progress match whose newest activity (latest log
// entry, else start time) is older than cutoff, and returns their ids sorted.
func (r *MatchRepository) FailStale(ctx context.Context, cutoff time.Time, reason string, at time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE matches m
		SET status = 'failed', completed_at = $2, failure_reason = $3
		WHERE m.status = 'in_progress'
		  AND GREATEST(
		        COALESCE(m.started_at, m.created_at),
		        COALESCE((SELECT MAX(l.created_at) FROM match_logs l WHERE l.match_id = m.id), m.created_at)
		      ) < $1
		RETURNING m.id::text`,
		cutoff, at, reason,
	)
	if err != nil {
		return nil, fmt.Errorf("failing stale matches: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning stale match ids: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MatchRepository) missingOrNotRunning(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return match.ErrNotRunning
}
