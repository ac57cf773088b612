// Package roster loads gladiator rosters and scheduled pairings from YAML and
// seeds them into a store. The matchmaker owns pairing in production; rosters
// exist for development, rehearsals and tests.
package roster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/gladiator/internal/match"
)

// TraitsSpec is the YAML form of match.Traits.
type TraitsSpec struct {
	Personality       string `yaml:"personality,omitempty"`
	NotableHistory    string `yaml:"notable_history,omitempty"`
	Weakness          string `yaml:"weakness,omitempty"`
	PhysicalCondition string `yaml:"physical_condition,omitempty"`
	Injury            string `yaml:"injury,omitempty"`
}

// GladiatorSpec is one roster entry. Key names the gladiator within the file.
type GladiatorSpec struct {
	Key       string     `yaml:"key"`
	Owner     string     `yaml:"owner"`
	Name      string     `yaml:"name"`
	Health    int        `yaml:"health"`
	MaxHealth int        `yaml:"max_health"`
	Traits    TraitsSpec `yaml:"traits"`
}

// PairingSpec schedules a match between two roster keys.
type PairingSpec struct {
	A     string `yaml:"a"`
	B     string `yaml:"b"`
	Arena string `yaml:"arena"`
}

// Roster is a parsed roster file.
type Roster struct {
	Gladiators []GladiatorSpec `yaml:"gladiators"`
	Matches    []PairingSpec   `yaml:"matches"`
	// Queue lists keys to place in the matchmaking queue.
	Queue []string `yaml:"queue"`
}

// Participant converts the roster entry to a snapshot without an ID. A zero Health
// means full health.
func (g GladiatorSpec) Participant() match.Participant {
	health := g.Health
	if health == 0 {
		health = g.MaxHealth
	}
	return match.Participant{
		OwnerID:   g.Owner,
		Name:      g.Name,
		Health:    health,
		MaxHealth: g.MaxHealth,
		Traits: match.Traits{
			Personality:       g.Traits.Personality,
			NotableHistory:    g.Traits.NotableHistory,
			Weakness:          g.Traits.Weakness,
			PhysicalCondition: g.Traits.PhysicalCondition,
			Injury:            g.Traits.Injury,
		},
	}
}

// Parse decodes and validates a roster document.
//
// Postcondition: Returns a validated Roster or a non-nil error listing every violation.
func Parse(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Load reads and parses the roster file at path.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Validate checks key uniqueness, snapshot sanity and references.
func (r *Roster) Validate() error {
	var errs []string
	keys := make(map[string]bool, len(r.Gladiators))
	for i, g := range r.Gladiators {
		switch {
		case g.Key == "":
			errs = append(errs, fmt.Sprintf("gladiator %d: key must not be empty", i))
		case keys[g.Key]:
			errs = append(errs, fmt.Sprintf("gladiator %q: duplicate key", g.Key))
		}
		keys[g.Key] = true
		if g.Owner == "" {
			errs = append(errs, fmt.Sprintf("gladiator %q: owner must not be empty", g.Key))
		}
		p := g.Participant()
		p.ID = g.Key
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("gladiator %q: %v", g.Key, err))
		}
		if p.Health < 0 || p.Health > p.MaxHealth {
			errs = append(errs, fmt.Sprintf("gladiator %q: health must be 0-%d, got %d", g.Key, p.MaxHealth, p.Health))
		}
	}
	for i, m := range r.Matches {
		if !keys[m.A] || !keys[m.B] {
			errs = append(errs, fmt.Sprintf("match %d: unknown gladiator %q or %q", i, m.A, m.B))
		}
		if m.A == m.B {
			errs = append(errs, fmt.Sprintf("match %d: a gladiator cannot fight itself", i))
		}
	}
	for _, k := range r.Queue {
		if !keys[k] {
			errs = append(errs, fmt.Sprintf("queue: unknown gladiator %q", k))
		}
	}
	if len(errs) > 0 {
		return errors.New("invalid roster: " + strings.Join(errs, "; "))
	}
	return nil
}

// Sink stores seeded gladiators and matches, assigning their ids.
type Sink interface {
	CreateGladiator(ctx context.Context, p match.Participant) (match.Participant, error)
	CreateMatch(ctx context.Context, participantA, participantB, arenaID string) (match.Match, error)
}

// Enqueuer places a gladiator in the matchmaking queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, gladiatorID, ownerID string, at time.Time) error
}

// Summary reports what Apply created.
type Summary struct {
	// Gladiators maps roster keys to stored ids.
	Gladiators map[string]string
	Matches    []match.Match
	Queued     int
}

// Apply seeds r into sink and, when q is non-nil, enqueues r.Queue.
//
// Precondition: r passed Validate.
// Postcondition: on error, entries created before the failure remain stored.
func Apply(ctx context.Context, r *Roster, sink Sink, q Enqueuer, now time.Time) (Summary, error) {
	sum := Summary{Gladiators: make(map[string]string, len(r.Gladiators))}
	owners := make(map[string]string, len(r.Gladiators))
	for _, g := range r.Gladiators {
		p, err := sink.CreateGladiator(ctx, g.Participant())
		if err != nil {
			return sum, fmt.Errorf("creating gladiator %q: %w", g.Key, err)
		}
		sum.Gladiators[g.Key] = p.ID
		owners[g.Key] = g.Owner
	}
	for _, pair := range r.Matches {
		m, err := sink.CreateMatch(ctx, sum.Gladiators[pair.A], sum.Gladiators[pair.B], pair.Arena)
		if err != nil {
			return sum, fmt.Errorf("creating match %s vs %s: %w", pair.A, pair.B, err)
		}
		sum.Matches = append(sum.Matches, m)
	}
	if q == nil {
		return sum, nil
	}
	for _, k := range r.Queue {
		if err := q.Enqueue(ctx, sum.Gladiators[k], owners[k], now); err != nil {
			return sum, err
		}
		sum.Queued++
	}
	return sum, nil
}
