package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLockoutStore implements LockoutStore using Redis for multi-process deployments.
// Each key is one hash holding failures, last_failure and locked_until (unix ms).
type RedisLockoutStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLockoutStore creates a new Redis-based lockout store.
func NewRedisLockoutStore(client redis.UniversalClient, prefix string) *RedisLockoutStore {
	if prefix == "" {
		prefix = "shopauth:lockout:"
	}
	return &RedisLockoutStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisLockoutStore) key(identifier string) string {
	return s.prefix + identifier
}

// recordFailureScript increments and compares in one step so concurrent
// failures for a key cannot both observe a below-threshold count.
var recordFailureScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local max = tonumber(ARGV[2])
	local lockout = tonumber(ARGV[3])
	local window = tonumber(ARGV[4])

	local locked = tonumber(redis.call('HGET', KEYS[1], 'locked_until') or '0')
	local last = tonumber(redis.call('HGET', KEYS[1], 'last_failure') or '0')

	if locked > 0 and locked <= now then
		redis.call('DEL', KEYS[1])
		locked = 0
	elseif locked == 0 and window > 0 and last > 0 and now - last > window then
		redis.call('HSET', KEYS[1], 'failures', 0)
	end

	local count = redis.call('HINCRBY', KEYS[1], 'failures', 1)
	redis.call('HSET', KEYS[1], 'last_failure', now)
	if count >= max then
		locked = now + lockout
		redis.call('HSET', KEYS[1], 'locked_until', locked)
	end

	local ttl = lockout
	if window > ttl then
		ttl = window
	end
	redis.call('PEXPIRE', KEYS[1], ttl)

	return {count, locked}
`)

// RecordFailure increments the failure count for the key.
func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, now time.Time, policy LockoutPolicy) (LockoutState, error) {
	result, err := recordFailureScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(),
		policy.MaxFailures,
		policy.LockoutDuration.Milliseconds(),
		policy.FailureWindow.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return LockoutState{}, fmt.Errorf("redis lockout: record failure failed: %w", err)
	}
	if len(result) != 2 {
		return LockoutState{}, fmt.Errorf("redis lockout: unexpected result format")
	}

	state := LockoutState{
		Failures:    int(result[0]),
		LastFailure: time.UnixMilli(now.UnixMilli()),
	}
	if result[1] > 0 {
		state.LockedUntil = time.UnixMilli(result[1])
	}
	return state, nil
}

// clearUnlessLockedScript deletes the record only when it holds no lock
// still running at ARGV[1]. A kept record is returned as
// {failures, last_failure, locked_until}.
var clearUnlessLockedScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local locked = tonumber(redis.call('HGET', KEYS[1], 'locked_until') or '0')
	if locked > now then
		local failures = tonumber(redis.call('HGET', KEYS[1], 'failures') or '0')
		local last = tonumber(redis.call('HGET', KEYS[1], 'last_failure') or '0')
		return {failures, last, locked}
	end
	redis.call('DEL', KEYS[1])
	return {0, 0, 0}
`)

// ClearUnlessLocked removes the record for the key unless it is locked at now.
func (s *RedisLockoutStore) ClearUnlessLocked(ctx context.Context, key string, now time.Time) (LockoutState, error) {
	result, err := clearUnlessLockedScript.Run(ctx, s.client, []string{s.key(key)}, now.UnixMilli()).Int64Slice()
	if err != nil {
		return LockoutState{}, fmt.Errorf("redis lockout: clear failures failed: %w", err)
	}
	if len(result) != 3 {
		return LockoutState{}, fmt.Errorf("redis lockout: unexpected result format")
	}
	if result[2] == 0 {
		return LockoutState{}, nil
	}
	return LockoutState{
		Failures:    int(result[0]),
		LastFailure: time.UnixMilli(result[1]),
		LockedUntil: time.UnixMilli(result[2]),
	}, nil
}

// ClearFailures removes the record for the key.
func (s *RedisLockoutStore) ClearFailures(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis lockout: clear failures failed: %w", err)
	}
	return nil
}

// LockedUntil checks if the key is currently locked.
func (s *RedisLockoutStore) LockedUntil(ctx context.Context, key string, now time.Time) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.key(key), "locked_until").Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis lockout: check lock failed: %w", err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis lockout: parse lock time failed: %w", err)
	}

	until := time.UnixMilli(ms)
	if !now.Before(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisLockoutStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
