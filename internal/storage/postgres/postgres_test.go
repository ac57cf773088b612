package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/storage/postgres"
	"github.com/cory-johannsen/gladiator/internal/testutil"
)

type repos struct {
	matches    *postgres.MatchRepository
	logs       *postgres.LogRepository
	gladiators *postgres.GladiatorRepository
}

func seedMatch(t *testing.T, r repos) (match.Match, match.Participant, match.Participant) {
	t.Helper()
	ctx := context.Background()
	a, err := r.gladiators.Create(ctx, match.Participant{
		OwnerID: "user-a", Name: "Maximus", Health: 100, MaxHealth: 100,
		Traits: match.Traits{Personality: "stoic", Weakness: "pride"},
	})
	require.NoError(t, err)
	b, err := r.gladiators.Create(ctx, match.Participant{OwnerID: "user-b", Name: "Spartacus", Health: 90, MaxHealth: 100})
	require.NoError(t, err)
	m, err := r.matches.Create(ctx, a.ID, b.ID, "colosseum")
	require.NoError(t, err)
	return m, a, b
}

func logEntry(matchID string, n int, healthA, healthB int) match.LogEntry {
	return match.LogEntry{
		ID:           uuid.NewString(),
		MatchID:      matchID,
		ActionNumber: n,
		Type:         match.LogAction,
		Message:      fmt.Sprintf("blow %d", n),
		Locale:       "en",
		HealthA:      healthA,
		HealthB:      healthB,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestRepositories(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	db := pc.RawPool
	r := repos{
		matches:    postgres.NewMatchRepository(db),
		logs:       postgres.NewLogRepository(db),
		gladiators: postgres.NewGladiatorRepository(db),
	}
	ctx := context.Background()

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, pc.Pool.Health(ctx, time.Second))
		wctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		assert.NoError(t, pc.Pool.Watch(wctx, 10*time.Millisecond, zap.NewNop()))
	})

	t.Run("get", func(t *testing.T) {
		m, a, b := seedMatch(t, r)
		got, err := r.matches.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, match.StatusPending, got.Status)
		assert.Equal(t, a.ID, got.ParticipantA)
		assert.Equal(t, b.ID, got.ParticipantB)
		assert.Equal(t, "colosseum", got.Arena)
		assert.Nil(t, got.StartedAt)

		_, err = r.matches.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, match.ErrMatchNotFound)
		_, err = r.matches.Get(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, match.ErrMatchNotFound)
	})

	t.Run("concurrent start elects one caller", func(t *testing.T) {
		m, _, _ := seedMatch(t, r)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := r.matches.TryStart(ctx, m.ID, time.Now())
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		got, err := r.matches.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, match.StatusInProgress, got.Status)
		assert.NotNil(t, got.StartedAt)
	})

	t.Run("complete", func(t *testing.T) {
		m, _, b := seedMatch(t, r)
		err := r.matches.Complete(ctx, m.ID, match.Outcome{WinnerID: b.ID, WinnerMethod: match.MethodKnockout, TotalActions: 4}, time.Now())
		assert.ErrorIs(t, err, match.ErrNotRunning, "pending matches cannot complete")

		ok, err := r.matches.TryStart(ctx, m.ID, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, r.matches.Complete(ctx, m.ID, match.Outcome{WinnerID: b.ID, WinnerMethod: match.MethodKnockout, TotalActions: 4}, time.Now()))

		got, err := r.matches.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, match.StatusCompleted, got.Status)
		require.NotNil(t, got.WinnerID)
		assert.Equal(t, b.ID, *got.WinnerID)
		require.NotNil(t, got.WinnerMethod)
		assert.Equal(t, match.MethodKnockout, *got.WinnerMethod)
		require.NotNil(t, got.TotalActions)
		assert.Equal(t, 4, *got.TotalActions)

		err = r.matches.Complete(ctx, m.ID, match.Outcome{TotalActions: 4}, time.Now())
		assert.ErrorIs(t, err, match.ErrNotRunning)
		err = r.matches.Complete(ctx, uuid.NewString(), match.Outcome{}, time.Now())
		assert.ErrorIs(t, err, match.ErrMatchNotFound)
	})

	t.Run("complete draw", func(t *testing.T) {
		m, _, _ := seedMatch(t, r)
		_, err := r.matches.TryStart(ctx, m.ID, time.Now())
		require.NoError(t, err)
		require.NoError(t, r.matches.Complete(ctx, m.ID, match.Outcome{TotalActions: 21}, time.Now()))
		got, err := r.matches.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Nil(t, got.WinnerID)
		assert.Nil(t, got.WinnerMethod)
	})

	t.Run("fail", func(t *testing.T) {
		m, _, _ := seedMatch(t, r)
		assert.ErrorIs(t, r.matches.Fail(ctx, m.ID, "x", time.Now()), match.ErrNotRunning)
		_, err := r.matches.TryStart(ctx, m.ID, time.Now())
		require.NoError(t, err)
		require.NoError(t, r.matches.Fail(ctx, m.ID, "participants missing", time.Now()))
		got, err := r.matches.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, match.StatusFailed, got.Status)
		require.NotNil(t, got.FailureReason)
		assert.Equal(t, "participants missing", *got.FailureReason)
	})

	t.Run("log append and list", func(t *testing.T) {
		m, a, _ := seedMatch(t, r)
		for i := 0; i < 4; i++ {
			require.NoError(t, r.logs.Append(ctx, logEntry(m.ID, i, 100-10*i, 100)))
		}
		victory := logEntry(m.ID, 4, 60, 100)
		victory.Type = match.LogVictory
		winner := a.ID
		method := match.MethodDecision
		victory.WinnerID, victory.WinnerMethod = &winner, &method
		require.NoError(t, r.logs.Append(ctx, victory))

		err := r.logs.Append(ctx, logEntry(m.ID, 2, 0, 0))
		assert.ErrorIs(t, err, match.ErrDuplicateAction)

		all, err := r.logs.List(ctx, m.ID, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, e := range all {
			assert.Equal(t, i, e.ActionNumber)
		}
		assert.Equal(t, 70, all[3].HealthA)
		require.NotNil(t, all[4].WinnerMethod)
		assert.Equal(t, match.MethodDecision, *all[4].WinnerMethod)
		assert.Equal(t, a.ID, *all[4].WinnerID)

		tail, err := r.logs.List(ctx, m.ID, 3)
		require.NoError(t, err)
		assert.Len(t, tail, 2)

		none, err := r.logs.List(ctx, "bogus", 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("fail stale", func(t *testing.T) {
		stale, _, _ := seedMatch(t, r)
		fresh, _, _ := seedMatch(t, r)
		long := time.Now().Add(-time.Hour)
		_, err := r.matches.TryStart(ctx, stale.ID, long)
		require.NoError(t, err)
		_, err = r.matches.TryStart(ctx, fresh.ID, long)
		require.NoError(t, err)
		require.NoError(t, r.logs.Append(ctx, logEntry(fresh.ID, 0, 100, 100)))

		ids, err := r.matches.FailStale(ctx, time.Now().Add(-10*time.Minute), "stale", time.Now())
		require.NoError(t, err)
		assert.Contains(t, ids, stale.ID)
		assert.NotContains(t, ids, fresh.ID)

		got, err := r.matches.Get(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, match.StatusInProgress, got.Status)
	})

	t.Run("gladiators", func(t *testing.T) {
		_, a, b := seedMatch(t, r)
		got, err := r.gladiators.GetMany(ctx, a.ID, b.ID, uuid.NewString(), "junk")
		require.NoError(t, err)
		require.Len(t, got, 2)
		byID := map[string]match.Participant{got[0].ID: got[0], got[1].ID: got[1]}
		assert.Equal(t, "stoic", byID[a.ID].Traits.Personality)
		assert.Equal(t, "pride", byID[a.ID].Traits.Weakness)
		assert.Equal(t, "user-b", byID[b.ID].OwnerID)
		assert.Equal(t, 90, byID[b.ID].Health)

		empty, err := r.gladiators.GetMany(ctx)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
