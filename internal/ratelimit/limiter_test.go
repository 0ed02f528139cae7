package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterBurstThenDeny(t *testing.T) {
	l := NewLocalLimiter(time.Minute)
	start := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return start }
	rule := Rule{Key: "t:", Limit: 3, Window: 3 * time.Second}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(context.Background(), "s1", rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := l.Allow(context.Background(), "s1", rule)
	assert.False(t, ok, "fourth request in the window is limited")

	ok, _ = l.Allow(context.Background(), "s2", rule)
	assert.True(t, ok, "identifiers are independent")

	l.now = func() time.Time { return start.Add(time.Second) }
	ok, _ = l.Allow(context.Background(), "s1", rule)
	assert.True(t, ok, "one token refills per second")
}

func TestLocalLimiterSweepAndForget(t *testing.T) {
	l := NewLocalLimiter(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	_, _ = l.Allow(context.Background(), "a", RuleMessage)
	_, _ = l.Allow(context.Background(), "a", RuleReaction)
	_, _ = l.Allow(context.Background(), "b", RuleMessage)

	l.Forget("a", RuleMessage, RuleReaction)
	assert.Len(t, l.buckets, 1)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, l.Sweep())
	assert.Empty(t, l.buckets)
}

func TestRuleRetryAfter(t *testing.T) {
	assert.Equal(t, 10, RuleMessage.RetryAfter())
	assert.Equal(t, 1, Rule{Window: 100 * time.Millisecond}.RetryAfter())
}

// redisClient returns a client for REDIS_ADDR or skips the test.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLimiterWindow(t *testing.T) {
	client := redisClient(t)
	l := NewRedisLimiter(client)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 2, Window: 5 * time.Second}
	id := uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, rule.Key+id) })

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, id, rule)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, id, rule)
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := l.Remaining(ctx, id, rule)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	ttl, err := client.TTL(ctx, rule.Key+id).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	ok, err := NewRedisLimiter(client).Allow(context.Background(), "x", RuleMessage)
	assert.True(t, ok)
	assert.Error(t, err)
}
