// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package lockout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxgate/dirauth/pkg/logger"
)

const (
	redisKeyPrefix = "dirauth:lockout:"

	// State below the attempt limit is kept long enough to matter but not
	// forever; locked state lives a little past the lock window so operators
	// can still inspect it.
	idleStateTTL    = 24 * time.Hour
	lockedTTLBuffer = 30 * time.Minute
)

// RedisConfig configures the shared lockout store.
//
// Example TOML:
//
//	[lockout_store]
//	enabled = true
//	addr = "localhost:6379"
//	db = 0
//	pool_size = 10
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisTracker shares lockout state between workers through Redis hashes.
// Redis failures fail open: an identity is never reported locked because
// Redis was unreachable.
type RedisTracker struct {
	policy *Policy
	client *redis.Client
}

// NewRedisTracker connects to Redis and verifies the connection.
func NewRedisTracker(cfg RedisConfig, policy *Policy) (*RedisTracker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisTracker{policy: policy, client: client}, nil
}

// NewRedisTrackerWithClient wraps an existing Redis client.
func NewRedisTrackerWithClient(client *redis.Client, policy *Policy) *RedisTracker {
	return &RedisTracker{policy: policy, client: client}
}

func (t *RedisTracker) IsLocked(ctx context.Context, localpart string, now time.Time) (bool, time.Duration) {
	data, err := t.client.HGetAll(ctx, redisKeyPrefix+localpart).Result()
	if err != nil {
		storeFailuresTotal.WithLabelValues("read").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("localpart", localpart).Msg("lockout state read failed")
		return false, 0
	}
	if len(data) == 0 {
		return false, 0
	}

	count, _ := strconv.Atoi(data["count"])
	if count < t.policy.MaxAttempts() {
		return false, 0
	}

	lastMillis, err := strconv.ParseInt(data["last_ts"], 10, 64)
	if err != nil {
		return false, 0
	}
	expiry := time.UnixMilli(lastMillis).Add(t.policy.LockDuration())
	if now.After(expiry) {
		return false, 0
	}
	return true, expiry.Sub(now)
}

func (t *RedisTracker) RecordFailure(ctx context.Context, localpart string, now time.Time) {
	key := redisKeyPrefix + localpart

	count, err := t.client.HIncrBy(ctx, key, "count", 1).Result()
	if err != nil {
		storeFailuresTotal.WithLabelValues("record").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("localpart", localpart).Msg("lockout failure record failed")
		return
	}

	ttl := idleStateTTL
	if int(count) >= t.policy.MaxAttempts() {
		ttl = t.policy.LockDuration() + lockedTTLBuffer
	}

	_, err = t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "last_ts", now.UnixMilli())
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		storeFailuresTotal.WithLabelValues("record").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("localpart", localpart).Msg("lockout state update failed")
	}
}

func (t *RedisTracker) Clear(ctx context.Context, localpart string) {
	if err := t.client.Del(ctx, redisKeyPrefix+localpart).Err(); err != nil {
		storeFailuresTotal.WithLabelValues("clear").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("localpart", localpart).Msg("lockout state clear failed")
	}
}

// Close releases the underlying Redis connection.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
