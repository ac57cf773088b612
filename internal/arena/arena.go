// Package arena holds per-arena combat rules loaded from YAML content.
package arena

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/gladiator/internal/dice"
)

// DefaultDamage rolls a uniform 10-30 inclusive.
const DefaultDamage = "1d21+9"

// Arena is the static rule set a match is fought under.
type Arena struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// MaxActions is the action ceiling; reaching it without a knockout goes to decision.
	MaxActions int `yaml:"max_actions"`
	// ActionIntervalSeconds paces the loop between actions.
	ActionIntervalSeconds float64 `yaml:"action_interval_seconds"`
	// DeathEnabled permits lethal outcomes; DeathChancePercent is consulted only when true.
	DeathEnabled       bool `yaml:"death_enabled"`
	DeathChancePercent int  `yaml:"death_chance_percent"`
	// Damage is a dice expression rolled for each action. Empty means DefaultDamage.
	Damage string `yaml:"damage"`

	damage dice.Expression
}

// ActionInterval returns the pacing delay as a duration.
func (a *Arena) ActionInterval() time.Duration {
	return time.Duration(a.ActionIntervalSeconds * float64(time.Second))
}

// DamageExpr returns the parsed damage expression.
//
// Precondition: a passed Validate.
func (a *Arena) DamageExpr() dice.Expression { return a.damage }

// Validate checks the arena invariants and resolves the damage expression.
//
// Postcondition: on nil error DamageExpr is usable.
func (a *Arena) Validate() error {
	var errs []string
	if a.ID == "" {
		errs = append(errs, "id must not be empty")
	}
	if a.MaxActions < 1 {
		errs = append(errs, fmt.Sprintf("max_actions must be >= 1, got %d", a.MaxActions))
	}
	if a.ActionIntervalSeconds < 0 {
		errs = append(errs, "action_interval_seconds must not be negative")
	}
	if a.DeathChancePercent < 0 || a.DeathChancePercent > 100 {
		errs = append(errs, fmt.Sprintf("death_chance_percent must be 0-100, got %d", a.DeathChancePercent))
	}
	if a.Damage == "" {
		a.Damage = DefaultDamage
	}
	expr, err := dice.Parse(a.Damage)
	if err != nil {
		errs = append(errs, err.Error())
	} else if expr.Min() < 0 {
		errs = append(errs, fmt.Sprintf("damage %q can roll below zero", a.Damage))
	}
	if len(errs) > 0 {
		return fmt.Errorf("arena %q: %s", a.ID, strings.Join(errs, "; "))
	}
	a.damage = expr
	return nil
}

// ErrUnknownArena is returned by Registry.Get for an unregistered id.
var ErrUnknownArena = errors.New("unknown arena")

// Registry holds validated arenas keyed by ID.
type Registry struct {
	arenas   map[string]*Arena
	fallback string
}

// NewRegistry creates a Registry whose lookups of unknown ids resolve to fallback
// when fallback is registered.
func NewRegistry(fallback string) *Registry {
	return &Registry{arenas: make(map[string]*Arena), fallback: fallback}
}

// Register validates and adds a, replacing any arena with the same ID.
func (r *Registry) Register(a *Arena) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.arenas[a.ID] = a
	return nil
}

// Get returns the arena for id, the fallback arena when id is unknown or empty,
// or ErrUnknownArena when neither exists.
func (r *Registry) Get(id string) (*Arena, error) {
	if a, ok := r.arenas[id]; ok {
		return a, nil
	}
	if a, ok := r.arenas[r.fallback]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownArena, id)
}

// IDs returns all registered arena ids, sorted.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.arenas))
	for id := range r.arenas {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LoadDirectory reads every *.yaml file in dir as an Arena.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns a populated Registry, or an error if any file fails to parse or validate.
func LoadDirectory(dir, fallback string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading arena dir %q: %w", dir, err)
	}
	reg := NewRegistry(fallback)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		var a Arena
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&a); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
		if err := reg.Register(&a); err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
	}
	if _, ok := reg.arenas[fallback]; !ok {
		return nil, fmt.Errorf("%w: default arena %q not found in %q", ErrUnknownArena, fallback, dir)
	}
	return reg, nil
}
