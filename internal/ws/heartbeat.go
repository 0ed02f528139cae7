package ws

import (
	"time"

	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/metrics"
)

// HeartbeatConfig holds heartbeat tuning parameters. A zero Interval
// disables the heartbeat.
type HeartbeatConfig struct {
	Interval time.Duration // sweep period
	Timeout  time.Duration // grace after a missed interval
}

// DefaultHeartbeatConfig returns 30s sweeps with a 10s grace.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// sweepResult counts what one heartbeat sweep did.
type sweepResult struct {
	pinged, skipped, expired int
}

func (s *Server) startHeartbeat(config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case now := <-ticker.C:
				r := s.sweep(now, config)
				if r.expired > 0 {
					zap.L().Info("ws: heartbeat sweep",
						zap.Int("pinged", r.pinged),
						zap.Int("skipped", r.skipped),
						zap.Int("expired", r.expired),
					)
				}
			}
		}
	}()
}

// sweep drops connections silent for longer than Interval + Timeout and
// pings the rest. A connection that sent a frame within the last half
// Interval is known to be alive and is not pinged.
func (s *Server) sweep(now time.Time, config HeartbeatConfig) sweepResult {
	var r sweepResult
	deadline := config.Interval + config.Timeout

	for _, c := range s.conns.All() {
		idle := now.Sub(c.LastActive())
		switch {
		case idle > deadline:
			zap.L().Debug("ws: heartbeat timeout",
				zap.String("session", c.ID),
				zap.Duration("idle", idle.Round(time.Second)),
			)
			metrics.HeartbeatTimeouts.Inc()
			s.RemoveConnection(c)
			r.expired++
		case idle < config.Interval/2:
			r.skipped++
		default:
			// Browsers answer protocol pings without script involvement.
			if err := c.WritePing(); err != nil {
				zap.L().Debug("ws: heartbeat ping failed", zap.String("session", c.ID), zap.Error(err))
				s.RemoveConnection(c)
				r.expired++
				continue
			}
			r.pinged++
		}
	}
	return r
}
