// Package ratelimit throttles per-session chat actions. RedisLimiter uses the
// INCR + EXPIRE fixed window algorithm and can be shared by several server
// processes; LocalLimiter keeps token buckets in memory for single-node runs.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:msg:", "rl:react:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RetryAfter is the number of whole seconds a limited client should wait.
func (r Rule) RetryAfter() int {
	secs := int(r.Window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Default rules.
var (
	// RuleMessage allows 20 global or private messages per 10 seconds per session.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 20, Window: 10 * time.Second}

	// RuleReaction allows 30 reactions per 10 seconds per session.
	RuleReaction = Rule{Key: "rl:react:", Limit: 30, Window: 10 * time.Second}
)

// Limiter decides whether an action may proceed.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
}

// RedisLimiter performs rate limiting checks against Redis.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a limiter backed by the given Redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		zap.L().Warn("ratelimit: redis INCR failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	// The first increment opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			zap.L().Warn("ratelimit: redis EXPIRE failed, failing open", zap.String("key", key), zap.Error(err))
			// A key without a TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *RedisLimiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		zap.L().Warn("ratelimit: redis GET failed, failing open", zap.String("key", key), zap.Error(err))
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}
