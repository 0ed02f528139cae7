package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MutePrefix is the Redis key prefix for mute records:
//
//	Key:   mod:mute:<session id>
//	Value: <reason>
//	TTL:   mute duration
const MutePrefix = "mod:mute:"

// MuteThreshold is the strike count that triggers the first mute.
const MuteThreshold = 3

// MuteDuration returns how long a session with the given strike count is
// muted. Below MuteThreshold it is zero; each further strike escalates.
//
//	3 strikes  -> 5 minutes
//	4 strikes  -> 1 hour
//	5+ strikes -> 24 hours
func MuteDuration(strikes int64) time.Duration {
	switch {
	case strikes < MuteThreshold:
		return 0
	case strikes == MuteThreshold:
		return 5 * time.Minute
	case strikes == MuteThreshold+1:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Mutes stores temporary send bans in Redis. The moderator writes them and
// every chat server replica reads them.
type Mutes struct {
	client *redis.Client
}

// NewMutes creates a mute store backed by client.
func NewMutes(client *redis.Client) *Mutes {
	return &Mutes{client: client}
}

// Mute silences sessionID for d.
func (m *Mutes) Mute(ctx context.Context, sessionID string, d time.Duration, reason string) error {
	if err := m.client.Set(ctx, MutePrefix+sessionID, reason, d).Err(); err != nil {
		return fmt.Errorf("moderation: mute %s: %w", sessionID, err)
	}
	return nil
}

// Unmute lifts a mute immediately.
func (m *Mutes) Unmute(ctx context.Context, sessionID string) error {
	return m.client.Del(ctx, MutePrefix+sessionID).Err()
}

// Muted returns the remaining mute time for sessionID, or zero. Redis errors
// are returned so the caller can choose to fail open.
func (m *Mutes) Muted(ctx context.Context, sessionID string) (time.Duration, error) {
	ttl, err := m.client.PTTL(ctx, MutePrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	// -2: no key. -1: no expiry, which Mute never sets.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Escalate records a strike for sessionID and mutes it when the total calls
// for it. It returns the new strike count and the mute applied, if any.
func Escalate(ctx context.Context, s *Strikes, m *Mutes, sessionID, reason string) (int64, time.Duration, error) {
	n, err := s.Add(ctx, sessionID)
	if err != nil {
		return 0, 0, err
	}
	d := MuteDuration(n)
	if d == 0 || m == nil {
		return n, 0, nil
	}
	if err := m.Mute(ctx, sessionID, d, reason); err != nil {
		return n, 0, err
	}
	return n, d, nil
}
