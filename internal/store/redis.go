package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/kontrol-backend/internal/config"
	"github.com/stemsi/kontrol-backend/internal/model"
)

// RedisStore is the hot attempt tier. It also owns the persist queue feeding
// the durable tier.
type RedisStore struct {
	rdb   *redis.Client
	ttl   time.Duration
	queue string
	now   func() time.Time
}

// NewRedisStore creates a RedisStore. A zero ttl keeps records forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:   rdb,
		ttl:   ttl,
		queue: config.WorkerKey.PersistAttemptsQueue,
		now:   time.Now,
	}
}

func (s *RedisStore) Load(ctx context.Context, key string) (*model.Attempt, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return Decode(raw)
}

func (s *RedisStore) Save(ctx context.Context, key string, a *model.Attempt) error {
	stamp(a, s.now)
	raw, err := Encode(a)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Enqueue pushes a record onto the persist queue.
func (s *RedisStore) Enqueue(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, s.queue, raw).Err()
}
