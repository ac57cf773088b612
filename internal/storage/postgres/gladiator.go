package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gladiator/internal/match"
)

// GladiatorRepository reads participant snapshots. Gladiator generation and
// ownership belong to another service; this core only reads them (Create
// exists for seeding and tests).
type GladiatorRepository struct {
	db *pgxpool.Pool
}

// NewGladiatorRepository creates a GladiatorRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewGladiatorRepository(db *pgxpool.Pool) *GladiatorRepository {
	return &GladiatorRepository{db: db}
}

// Create inserts a gladiator and returns it with ID set.
//
// Precondition: p.Name non-empty; p.MaxHealth > 0.
func (r *GladiatorRepository) Create(ctx context.Context, p match.Participant) (match.Participant, error) {
	traits, err := json.Marshal(p.Traits)
	if err != nil {
		return match.Participant{}, fmt.Errorf("encoding traits: %w", err)
	}
	out := p
	err = r.db.QueryRow(ctx, `
		INSERT INTO gladiators (owner_id, name, health, max_health, traits)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text`,
		p.OwnerID, p.Name, p.Health, p.MaxHealth, traits,
	).Scan(&out.ID)
	if err != nil {
		return match.Participant{}, fmt.Errorf("inserting gladiator: %w", err)
	}
	return out, nil
}

// GetMany returns the gladiators among ids that exist, in no particular order.
// Unknown or malformed ids are simply absent from the result.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *GladiatorRepository) GetMany(ctx context.Context, ids ...string) ([]match.Participant, error) {
	out := make([]match.Participant, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, owner_id, name, health, max_health, traits
		FROM gladiators WHERE id::text = ANY($1::text[])`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("querying gladiators: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p      match.Participant
			traits []byte
		)
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Health, &p.MaxHealth, &traits); err != nil {
			return nil, fmt.Errorf("scanning gladiator row: %w", err)
		}
		if len(traits) > 0 {
			if err := json.Unmarshal(traits, &p.Traits); err != nil {
				return nil, fmt.Errorf("decoding traits of %s: %w", p.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
