package roster_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/gladiator/internal/config"
	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/queue"
	"github.com/cory-johannsen/gladiator/internal/roster"
	"github.com/cory-johannsen/gladiator/internal/storage/memory"
)

const doc = `
gladiators:
  - key: a
    owner: u1
    name: Alpha
    max_health: 100
    traits:
      personality: calm
      notable_history: veteran
  - key: b
    owner: u2
    name: Bravo
    health: 80
    max_health: 100
matches:
  - a: a
    b: b
    arena: pit
queue: [a]
`

func TestParse_Valid(t *testing.T) {
	r, err := roster.Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, r.Gladiators, 2)
	p := r.Gladiators[0].Participant()
	assert.Equal(t, 100, p.Health, "zero health means full health")
	assert.Equal(t, "veteran", p.Traits.NotableHistory)
	assert.Equal(t, 80, r.Gladiators[1].Participant().Health)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"duplicate key": "gladiators:\n  - {key: a, owner: u, name: A, max_health: 1}\n  - {key: a, owner: u, name: B, max_health: 1}\n",
		"missing owner": "gladiators:\n  - {key: a, name: A, max_health: 1}\n",
		"zero max":      "gladiators:\n  - {key: a, owner: u, name: A}\n",
		"over health":   "gladiators:\n  - {key: a, owner: u, name: A, health: 5, max_health: 1}\n",
		"unknown pair":  "gladiators:\n  - {key: a, owner: u, name: A, max_health: 1}\nmatches:\n  - {a: a, b: z}\n",
		"self pair":     "gladiators:\n  - {key: a, owner: u, name: A, max_health: 1}\nmatches:\n  - {a: a, b: a}\n",
		"unknown queue": "gladiators: []\nqueue: [x]\n",
		"bad yaml":      "gladiators: {",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := roster.Parse([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestApply_SeedsStoreAndQueue(t *testing.T) {
	r, err := roster.Parse([]byte(doc))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	q := queue.New(queue.NewClient(config.RedisConfig{Addr: mr.Addr()}), "test")
	store := memory.NewStore()
	ctx := context.Background()

	sum, err := roster.Apply(ctx, r, store, q, time.Now())
	require.NoError(t, err)
	require.Len(t, sum.Matches, 1)
	assert.Equal(t, 1, sum.Queued)

	m, err := store.Get(ctx, sum.Matches[0].ID)
	require.NoError(t, err)
	assert.Equal(t, match.StatusPending, m.Status)
	assert.Equal(t, sum.Gladiators["a"], m.ParticipantA)
	assert.Equal(t, "pit", m.Arena)

	got, err := store.GetMany(ctx, m.ParticipantA, m.ParticipantB)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	queued, err := q.Contains(ctx, sum.Gladiators["a"])
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestLoad_DemoRoster(t *testing.T) {
	path := filepath.Join("..", "..", "content", "rosters", "demo.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("demo roster not present")
	}
	r, err := roster.Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, r.Matches)
}
