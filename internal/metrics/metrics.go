// Package metrics provides Prometheus instrumentation for the chat server. It
// exposes gauges for connection and session counts, counters for message,
// reaction and moderation throughput, and a histogram for fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// SessionsJoined tracks the number of connections that have joined.
	SessionsJoined = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_sessions_joined",
		Help: "Current number of joined sessions",
	})

	// MessagesTotal counts created messages, labeled by kind: "global",
	// "private" or "system".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of messages created",
	}, []string{"kind"})

	// ReactionsTotal counts applied reactions, labeled by scope: "global" or
	// "private".
	ReactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_reactions_total",
		Help: "Total number of reactions applied",
	}, []string{"scope"})

	// DeletionsTotal counts removed messages, labeled by reason: "sender" or
	// "moderation".
	DeletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_deletions_total",
		Help: "Total number of removed messages",
	}, []string{"reason"})

	// FanoutDuration records how long a broadcast takes to enqueue to every
	// live connection.
	FanoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_fanout_duration_seconds",
		Help:    "Time spent enqueueing a broadcast to all connections",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	})

	// SlowConsumers counts connections dropped because their outbound queue
	// filled up.
	SlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_slow_consumers_total",
		Help: "Connections closed because their outbound queue was full",
	})

	// RateLimitedTotal counts rejected actions, labeled by action.
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rate_limited_total",
		Help: "Total number of actions rejected by the rate limiter",
	}, []string{"action"})

	// ModerationFlagsTotal counts messages retracted by moderation, labeled by
	// reason.
	ModerationFlagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_moderation_flags_total",
		Help: "Total number of messages flagged by moderation",
	}, []string{"reason"})

	// HeartbeatTimeouts counts connections closed for missing heartbeats.
	HeartbeatTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_heartbeat_timeouts_total",
		Help: "Connections closed after missing heartbeats",
	})

	// ArchiveDropsTotal counts archive records dropped because the write-behind
	// queue was full or the write failed.
	ArchiveDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_archive_drops_total",
		Help: "Archive records dropped",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		SessionsJoined,
		MessagesTotal,
		ReactionsTotal,
		DeletionsTotal,
		FanoutDuration,
		SlowConsumers,
		RateLimitedTotal,
		ModerationFlagsTotal,
		HeartbeatTimeouts,
		ArchiveDropsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
