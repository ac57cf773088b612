package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gladiator/internal/match"
)

// LogRepository persists the append-only combat log.
type LogRepository struct {
	db *pgxpool.Pool
}

// NewLogRepository creates a LogRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewLogRepository(db *pgxpool.Pool) *LogRepository {
	return &LogRepository{db: db}
}

// Append inserts e. The (match_id, action_number) unique constraint rejects a
// second writer for the same action.
//
// Postcondition: Returns nil or match.ErrDuplicateAction on a reused action number.
func (r *LogRepository) Append(ctx context.Context, e match.LogEntry) error {
	id, err := parseID(e.ID)
	if err != nil {
		return err
	}
	mid, err := parseID(e.MatchID)
	if err != nil {
		return err
	}
	winner, err := nullableID(derefString(e.WinnerID))
	if err != nil {
		return err
	}
	var method any
	if e.WinnerMethod != nil {
		method = string(*e.WinnerMethod)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO match_logs
			(id, match_id, action_number, type, message, locale, health_a, health_b,
			 winner_id, winner_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, mid, e.ActionNumber, string(e.Type), e.Message, e.Locale, e.HealthA, e.HealthB,
		winner, method, e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s/%d", match.ErrDuplicateAction, e.MatchID, e.ActionNumber)
		}
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}

// List returns the entries of matchID with action_number >= fromAction, ordered by action.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *LogRepository) List(ctx context.Context, matchID string, fromAction int) ([]match.LogEntry, error) {
	mid, err := parseID(matchID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, match_id::text, action_number, type, message, locale, health_a, health_b,
		       winner_id::text, winner_method, created_at
		FROM match_logs
		WHERE match_id = $1 AND action_number >= $2
		ORDER BY action_number ASC`,
		mid, fromAction,
	)
	if err != nil {
		return nil, fmt.Errorf("listing log entries: %w", err)
	}
	defer rows.Close()

	entries := make([]match.LogEntry, 0)
	for rows.Next() {
		var (
			e       match.LogEntry
			logType string
			method  *string
		)
		if err := rows.Scan(
			&e.ID, &e.MatchID, &e.ActionNumber, &logType, &e.Message, &e.Locale, &e.HealthA, &e.HealthB,
			&e.WinnerID, &method, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning log entry row: %w", err)
		}
		e.Type = match.LogType(logType)
		if method != nil {
			wm := match.WinMethod(*method)
			e.WinnerMethod = &wm
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
