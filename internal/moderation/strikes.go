package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StrikePrefix is the Redis key prefix for per-session strike counters.
const StrikePrefix = "mod:strikes:"

// Strikes counts flagged messages per session in Redis so that every
// moderator replica sees the same totals. Counters expire after ttl of
// inactivity.
type Strikes struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStrikes creates a counter backed by client.
func NewStrikes(client *redis.Client, ttl time.Duration) *Strikes {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Strikes{client: client, ttl: ttl}
}

// Add records a strike for sessionID and returns the new total.
func (s *Strikes) Add(ctx context.Context, sessionID string) (int64, error) {
	key := StrikePrefix + sessionID
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("moderation: strike %s: %w", sessionID, err)
	}
	return incr.Val(), nil
}

// Count returns the current total for sessionID.
func (s *Strikes) Count(ctx context.Context, sessionID string) (int64, error) {
	n, err := s.client.Get(ctx, StrikePrefix+sessionID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("moderation: strike count %s: %w", sessionID, err)
	}
	return n, nil
}
