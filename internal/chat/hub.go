// Package chat is the realtime messaging core: presence, the global log,
// private routing, typing state, reactions and deletion. All shared state
// lives behind the Hub's mutex; outbound events are handed to per-connection
// Sinks that must never block.
package chat

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/metrics"
	"github.com/starapp/chat-server/internal/session"
)

// Sink receives events for one connection. Deliver is called with the hub
// lock held and must only enqueue. It returns false when the event could not
// be queued; the connection is then expected to close itself.
type Sink interface {
	Deliver(ev Event) bool
}

// Observer is notified of changes to the global log. Methods are called with
// the hub lock held and must not block or call back into the hub.
type Observer interface {
	MessagePublished(msg Message)
	MessageRemoved(id MessageID, reason string)
}

// Config sizes the hub.
type Config struct {
	HistorySize    int
	RouteIndexSize int
	Limits         Limits
}

// DefaultConfig returns a 100 message log and a 1024 entry route index.
func DefaultConfig() Config {
	return Config{
		HistorySize:    100,
		RouteIndexSize: 1024,
		Limits:         DefaultLimits(),
	}
}

// Hub owns every piece of shared chat state.
type Hub struct {
	mu sync.Mutex

	cfg       Config
	seq       *Sequence
	systemSeq *Sequence
	now       func() time.Time

	conns     map[string]Sink
	sessions  *session.Store
	history   *History
	routes    *RouteIndex
	typing    map[string]string // session id -> display name
	observers []Observer
	closed    bool
}

// NewHub constructs a hub. It is ready to use immediately; call Close on
// shutdown.
func NewHub(cfg Config, observers ...Observer) *Hub {
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	return &Hub{
		cfg:       cfg,
		seq:       NewSequence(0),
		systemSeq: NewSequence(systemIDBase),
		now:       func() time.Time { return time.Now().UTC() },
		conns:     make(map[string]Sink),
		sessions:  session.NewStore(),
		history:   NewHistory(cfg.HistorySize),
		routes:    NewRouteIndex(cfg.RouteIndexSize),
		typing:    make(map[string]string),
		observers: observers,
	}
}

// AddObserver registers o for subsequent log changes.
func (h *Hub) AddObserver(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

// Connect attaches a live connection. Events start flowing to sink once the
// connection joins, except for direct replies.
func (h *Hub) Connect(connID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.conns[connID] = sink
}

// Disconnect detaches a connection and, if it had joined, performs the leave
// sequence. Safe to call more than once.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connID)
	h.leaveLocked(connID)
}

// History returns a snapshot of the global log, oldest first.
func (h *Hub) History() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.Snapshot()
}

// Presence returns the joined sessions ordered by join time.
func (h *Hub) Presence() []session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions.List()
}

// Session looks up a joined session.
func (h *Hub) Session(connID string) (session.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions.Get(connID)
}

// TypingNames returns the display names currently typing in the global room.
func (h *Hub) TypingNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.typingNamesLocked()
}

// Connections returns the number of attached connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close detaches every connection and drops all state. Later calls are
// no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	clear(h.conns)
	clear(h.typing)
	h.sessions.Clear()
	h.history.Reset()
	h.routes.Reset()
	metrics.SessionsJoined.Set(0)
}

// broadcastLocked delivers ev to every attached connection that has joined.
// All recipients share one encoding of ev.
func (h *Hub) broadcastLocked(ev Event) {
	start := time.Now()
	ev = ev.shared()
	for id, sink := range h.conns {
		if _, joined := h.sessions.Get(id); !joined {
			continue
		}
		h.deliverLocked(id, sink, ev)
	}
	metrics.FanoutDuration.Observe(time.Since(start).Seconds())
}

// sendLocked delivers ev to a single connection, if attached. It reports
// whether the connection was attached.
func (h *Hub) sendLocked(connID string, ev Event) bool {
	sink, ok := h.conns[connID]
	if !ok {
		return false
	}
	h.deliverLocked(connID, sink, ev)
	return true
}

func (h *Hub) deliverLocked(connID string, sink Sink, ev Event) {
	if !sink.Deliver(ev) {
		zap.L().Warn("chat: event dropped",
			zap.String("conn", connID),
			zap.String("event", ev.Type),
		)
	}
}

// liveLocked reports whether id is joined and attached.
func (h *Hub) liveLocked(id string) bool {
	if _, ok := h.sessions.Get(id); !ok {
		return false
	}
	_, ok := h.conns[id]
	return ok
}

func (h *Hub) typingNamesLocked() []string {
	names := make([]string, 0, len(h.typing))
	for _, name := range h.typing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Hub) notifyPublishedLocked(msg Message) {
	for _, o := range h.observers {
		o.MessagePublished(msg.Clone())
	}
}

func (h *Hub) notifyRemovedLocked(id MessageID, reason string) {
	for _, o := range h.observers {
		o.MessageRemoved(id, reason)
	}
}
