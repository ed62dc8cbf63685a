package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore keeps keys as JSON values with a Redis TTL, so Purge has nothing to do.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	record := pendingRecord(fingerprint, now, ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return StateInFlight, Record{}, err
	}
	// SETNX owns the key atomically; a losing caller reads what the winner stored.
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+key, payload, record.ExpiresAt.Sub(now)).Result()
	if err != nil {
		return StateInFlight, Record{}, fmt.Errorf("idempotency: redis setnx: %w", err)
	}
	if ok {
		return StateNew, record, nil
	}

	existing, err := s.get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return s.Begin(ctx, key, fingerprint, now, ttl)
	}
	if err != nil {
		return StateInFlight, Record{}, err
	}
	state, err := classify(existing, fingerprint)
	return state, existing, err
}

func (s *RedisStore) get(ctx context.Context, key string) (Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, record Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record.Completed = true
	record.ExpiresAt = record.CreatedAt.Add(ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency: redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Purge(context.Context, time.Time, int) (int, error) { return 0, nil }

// Ping reports whether Redis is reachable; used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
