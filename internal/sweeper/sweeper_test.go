package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/config"
	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/storage/memory"
	"github.com/cory-johannsen/gladiator/internal/sweeper"
)

type notified struct {
	mu  sync.Mutex
	ids []string
}

func (n *notified) Notify(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}

func (n *notified) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

func TestSweep_FailsOnlyStaleMatches(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutMatch(match.Match{ID: "stale", ParticipantA: "a", ParticipantB: "b"})
	store.PutMatch(match.Match{ID: "live", ParticipantA: "c", ParticipantB: "d"})
	_, _ = store.TryStart(ctx, "stale", time.Now().Add(-time.Hour))
	_, _ = store.TryStart(ctx, "live", time.Now())

	n := &notified{}
	s := sweeper.New(store, n, config.SweeperConfig{Interval: time.Minute, StaleAfter: 10 * time.Minute}, zap.NewNop())
	ids, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, ids)
	assert.Equal(t, []string{"stale"}, n.list())

	m, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, match.StatusFailed, m.Status)
	assert.Equal(t, sweeper.StaleReason, *m.FailureReason)
}

type brokenStore struct{}

func (brokenStore) FailStale(context.Context, time.Time, string, time.Time) ([]string, error) {
	return nil, errors.New("db down")
}

func TestSweep_PropagatesStoreError(t *testing.T) {
	s := sweeper.New(brokenStore{}, nil, config.SweeperConfig{Interval: time.Minute, StaleAfter: time.Minute}, zap.NewNop())
	_, err := s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	store := memory.NewStore()
	store.PutMatch(match.Match{ID: "stale", ParticipantA: "a", ParticipantB: "b"})
	_, _ = store.TryStart(context.Background(), "stale", time.Now().Add(-time.Hour))

	n := &notified{}
	s := sweeper.New(store, n, config.SweeperConfig{Interval: time.Hour, StaleAfter: time.Minute}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return len(n.list()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}
