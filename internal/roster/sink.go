package roster

import (
	"context"

	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/storage/postgres"
)

// RepositorySink seeds into PostgreSQL.
type RepositorySink struct {
	Gladiators *postgres.GladiatorRepository
	Matches    *postgres.MatchRepository
}

func (s RepositorySink) CreateGladiator(ctx context.Context, p match.Participant) (match.Participant, error) {
	return s.Gladiators.Create(ctx, p)
}

func (s RepositorySink) CreateMatch(ctx context.Context, participantA, participantB, arenaID string) (match.Match, error) {
	return s.Matches.Create(ctx, participantA, participantB, arenaID)
}
