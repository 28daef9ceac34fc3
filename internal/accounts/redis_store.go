package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "copilot-api:ratelimit:"
	redisStateTTL  = 24 * time.Hour
)

// RedisStateStore shares rate-limit state across gateway instances through
// Redis. State is stored as one JSON value per account with a TTL, so stale
// accounts age out on their own.
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore connects to Redis and verifies the connection.
func NewRedisStateStore(addr, password string, db int) (*RedisStateStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisStateStore{client: client}, nil
}

// Get returns the stored state for the account.
func (s *RedisStateStore) Get(ctx context.Context, accountID string) (RateLimitState, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+accountID).Bytes()
	if errors.Is(err, redis.Nil) {
		return RateLimitState{}, nil
	}
	if err != nil {
		return RateLimitState{}, fmt.Errorf("redis get: %w", err)
	}
	var state RateLimitState
	if err := json.Unmarshal(data, &state); err != nil {
		return RateLimitState{}, fmt.Errorf("decode rate state: %w", err)
	}
	return state, nil
}

// Put replaces the stored state for the account.
func (s *RedisStateStore) Put(ctx context.Context, accountID string, state RateLimitState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode rate state: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+accountID, data, redisStateTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Reset clears the stored state for the account.
func (s *RedisStateStore) Reset(ctx context.Context, accountID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+accountID).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
