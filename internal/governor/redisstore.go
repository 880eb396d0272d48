package governor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// reserveScript prunes the window sorted set, admits when under quota and
// reports {admitted, count, oldestScore}. Scores are unix milliseconds.
var reserveScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', cutoff)
local count = redis.call('ZCARD', KEYS[1])
local admitted = 0
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  count = count + 1
  admitted = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local oldestScore = '0'
if #oldest > 0 then
  oldestScore = oldest[2]
end
return {admitted, count, oldestScore}
`)

// failureScript increments the failure counter, resetting it first when the
// cooldown has elapsed since the stored last failure.
var failureScript = redis.NewScript(`
local failures = tonumber(redis.call('HGET', KEYS[1], 'failures') or '0')
local last = tonumber(redis.call('HGET', KEYS[1], 'last_failure_ms') or '0')
if failures > 0 and (tonumber(ARGV[1]) - last) >= tonumber(ARGV[2]) then
  failures = 0
end
failures = failures + 1
redis.call('HSET', KEYS[1], 'failures', failures, 'last_failure_ms', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return failures
`)

// RedisStore keeps governor state in Redis so every replica shares one
// window and one circuit per provider. Windows are sorted sets scored by
// unix milliseconds; circuits are hashes that expire with the cooldown.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. prefix namespaces every key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "governor"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// Reserve implements WindowStore.
func (s *RedisStore) Reserve(ctx context.Context, key string, now time.Time, window time.Duration, quota int) (Reservation, error) {
	raw, err := reserveScript.Run(ctx, s.client,
		[]string{s.key(key)},
		now.UnixMilli(), window.Milliseconds(), quota, uuid.NewString(),
	).Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve %s: %w", key, err)
	}
	if len(raw) != 3 {
		return Reservation{}, fmt.Errorf("reserve %s: unexpected reply length %d", key, len(raw))
	}

	admitted, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	res := Reservation{Admitted: admitted == 1, Count: int(count)}

	if scoreStr, ok := raw[2].(string); ok {
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			return Reservation{}, fmt.Errorf("reserve %s: parse oldest score: %w", key, err)
		}
		if score > 0 {
			res.Oldest = time.UnixMilli(int64(score))
		}
	}
	return res, nil
}

// LoadCircuit implements CircuitStore.
func (s *RedisStore) LoadCircuit(ctx context.Context, key string) (CircuitState, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CircuitState{}, nil
		}
		return CircuitState{}, fmt.Errorf("load circuit %s: %w", key, err)
	}
	return parseCircuit(fields)
}

// RecordFailure implements CircuitStore.
func (s *RedisStore) RecordFailure(ctx context.Context, key string, at time.Time, cooldown time.Duration) (CircuitState, error) {
	failures, err := failureScript.Run(ctx, s.client,
		[]string{s.key(key)},
		at.UnixMilli(), cooldown.Milliseconds(),
	).Int()
	if err != nil {
		return CircuitState{}, fmt.Errorf("record failure %s: %w", key, err)
	}
	return CircuitState{ConsecutiveFailures: failures, LastFailureAt: time.UnixMilli(at.UnixMilli())}, nil
}

// ResetCircuit implements CircuitStore.
func (s *RedisStore) ResetCircuit(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("reset circuit %s: %w", key, err)
	}
	return nil
}

func parseCircuit(fields map[string]string) (CircuitState, error) {
	var state CircuitState
	if v, ok := fields["failures"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return CircuitState{}, fmt.Errorf("parse failures: %w", err)
		}
		state.ConsecutiveFailures = n
	}
	if v, ok := fields["last_failure_ms"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return CircuitState{}, fmt.Errorf("parse last failure: %w", err)
		}
		state.LastFailureAt = time.UnixMilli(ms)
	}
	return state, nil
}
