package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts requests in fixed windows shared by every API instance.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, policy Policy, key string) (Decision, error) {
	if policy.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	counterKey := l.prefix + ":count:" + keyFor(policy, key)
	blockKey := l.prefix + ":block:" + keyFor(policy, key)

	if policy.Block > 0 {
		ttl, err := l.client.PTTL(ctx, blockKey).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("failed to read block: %w", err)
		}
		if ttl > 0 {
			return Decision{RetryAfter: retrySeconds(ttl)}, nil
		}
	}

	count, err := l.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count request: %w", err)
	}
	// Fixed window: the first hit starts the window.
	if count == 1 {
		if err := l.client.PExpire(ctx, counterKey, policy.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("failed to start window: %w", err)
		}
	}

	if count <= int64(policy.Limit) {
		return Decision{Allowed: true, Remaining: policy.Limit - int(count)}, nil
	}

	if policy.Block > 0 {
		if err := l.client.Set(ctx, blockKey, 1, policy.Block).Err(); err != nil {
			return Decision{}, fmt.Errorf("failed to block key: %w", err)
		}
		return Decision{RetryAfter: retrySeconds(policy.Block)}, nil
	}

	ttl, err := l.client.PTTL(ctx, counterKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read window: %w", err)
	}
	return Decision{RetryAfter: retrySeconds(ttl)}, nil
}
