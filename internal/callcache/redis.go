package callcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/samcharles93/llmfunc/internal/chooser"
)

const redisPrefix = "llmfunc:call:"

// Redis shares cached calls between server instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects lazily to url, for example redis://localhost:6379/0.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (*chooser.Call, bool, error) {
	raw, err := r.client.Get(ctx, redisPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load call: %w", err)
	}
	var call chooser.Call
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, false, fmt.Errorf("failed to decode call: %w", err)
	}
	return &call, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, call *chooser.Call) error {
	raw, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}
	if err := r.client.Set(ctx, redisPrefix+key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save call: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.client.Close() }
