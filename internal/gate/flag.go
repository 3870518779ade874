package gate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// DefaultPauseKey is the Redis key holding the shared pause flag.
const DefaultPauseKey = "repscore:paused"

// PauseFlag stores the system-wide pause switch.
type PauseFlag interface {
	Paused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
}

// MemoryFlag is a process-local pause flag.
type MemoryFlag struct {
	paused atomic.Bool
}

// NewMemoryFlag creates an unpaused process-local flag.
func NewMemoryFlag() *MemoryFlag {
	return &MemoryFlag{}
}

func (f *MemoryFlag) Paused(context.Context) (bool, error) {
	return f.paused.Load(), nil
}

func (f *MemoryFlag) SetPaused(_ context.Context, paused bool) error {
	f.paused.Store(paused)
	return nil
}

// RedisFlag shares the pause flag across every process pointed at the same
// Redis. An absent key means not paused.
type RedisFlag struct {
	client *redis.Client
	key    string
}

// NewRedisFlag creates a Redis-backed pause flag under key.
func NewRedisFlag(client *redis.Client, key string) *RedisFlag {
	if key == "" {
		key = DefaultPauseKey
	}
	return &RedisFlag{client: client, key: key}
}

func (f *RedisFlag) Paused(ctx context.Context) (bool, error) {
	val, err := f.client.Get(ctx, f.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get pause flag from redis: %w", err)
	}
	return val == "1", nil
}

func (f *RedisFlag) SetPaused(ctx context.Context, paused bool) error {
	if !paused {
		if err := f.client.Del(ctx, f.key).Err(); err != nil {
			return fmt.Errorf("delete pause flag in redis: %w", err)
		}
		return nil
	}
	if err := f.client.Set(ctx, f.key, "1", 0).Err(); err != nil {
		return fmt.Errorf("set pause flag in redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (f *RedisFlag) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}
