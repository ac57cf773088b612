// Package queue removes matched gladiators from the Redis-backed matchmaking
// queue. Pairing itself is owned by the matchmaker; this core only clears the
// entries of a finished match so neither fighter is paired again by mistake.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cory-johannsen/gladiator/internal/config"
)

// RedisQueue addresses a sorted set "<prefix>:queue" of gladiator ids scored by
// enqueue time, plus one hash "<prefix>:queue:entry:<id>" per waiting gladiator.
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
}

// NewClient builds a go-redis client from cfg.
//
// Precondition: cfg.Addr is non-empty.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// New wraps rdb. An empty prefix defaults to "arena".
func New(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "arena"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix}
}

func (q *RedisQueue) keyQueue() string          { return q.prefix + ":queue" }
func (q *RedisQueue) keyEntry(id string) string { return q.prefix + ":queue:entry:" + id }

// Enqueue adds gladiatorID with its owner. The matchmaker normally does this;
// it is provided for seeding and tests.
func (q *RedisQueue) Enqueue(ctx context.Context, gladiatorID, ownerID string, at time.Time) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, q.keyQueue(), redis.Z{Score: float64(at.UnixMilli()), Member: gladiatorID})
		p.HSet(ctx, q.keyEntry(gladiatorID), map[string]any{
			"owner_id":    ownerID,
			"enqueued_at": strconv.FormatInt(at.UnixMilli(), 10),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueueing %s: %w", gladiatorID, err)
	}
	return nil
}

// Remove deletes every given gladiator from the queue. Absent ids are ignored.
func (q *RedisQueue) Remove(ctx context.Context, gladiatorIDs ...string) error {
	if len(gladiatorIDs) == 0 {
		return nil
	}
	members := make([]any, len(gladiatorIDs))
	keys := make([]string, len(gladiatorIDs))
	for i, id := range gladiatorIDs {
		members[i] = id
		keys[i] = q.keyEntry(id)
	}
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.keyQueue(), members...)
		p.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing %v from queue: %w", gladiatorIDs, err)
	}
	return nil
}

// Contains reports whether gladiatorID is waiting in the queue.
func (q *RedisQueue) Contains(ctx context.Context, gladiatorID string) (bool, error) {
	_, err := q.rdb.ZScore(ctx, q.keyQueue(), gladiatorID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking queue for %s: %w", gladiatorID, err)
	}
	return true, nil
}

// Len returns the number of waiting gladiators.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.keyQueue()).Result()
}
