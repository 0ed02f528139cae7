package chat

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/metrics"
	"github.com/starapp/chat-server/internal/session"
)

// Join registers connID under displayName. A first join broadcasts the
// presence list and a "<name> joined" announcement; joining again only
// renames and rebroadcasts presence.
func (h *Hub) Join(connID, displayName string) (session.Session, error) {
	name, err := session.NormalizeName(displayName, h.cfg.Limits.MaxNameLength)
	if err != nil {
		return session.Session{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return session.Session{}, ErrUnknownConnection
	}

	sess, first := h.sessions.Join(connID, name)
	prev, typing := h.typing[connID]
	renamed := typing && prev != name
	if renamed {
		h.typing[connID] = name
	}
	h.broadcastPresenceLocked()
	if renamed {
		h.broadcastLocked(Event{Type: EventTypingGlobalList, Payload: TypingListPayload{Names: h.typingNamesLocked()}})
	}

	if first {
		metrics.SessionsJoined.Inc()
		h.announceLocked(fmt.Sprintf("%s joined", name))
		zap.L().Info("chat: joined", zap.String("session", connID), zap.String("name", name))
	}
	return sess, nil
}

// Leave removes connID from presence while keeping the connection attached.
// It is idempotent.
func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID)
}

// leaveLocked clears typing, removes the session, rebroadcasts presence (and
// the typing list when it changed) and appends the "left" announcement.
func (h *Hub) leaveLocked(connID string) {
	sess, ok := h.sessions.Leave(connID)
	if !ok {
		return
	}
	metrics.SessionsJoined.Dec()

	_, wasTyping := h.typing[connID]
	delete(h.typing, connID)

	h.broadcastPresenceLocked()
	if wasTyping {
		h.broadcastLocked(Event{Type: EventTypingGlobalList, Payload: TypingListPayload{Names: h.typingNamesLocked()}})
	}
	h.announceLocked(fmt.Sprintf("%s left", sess.DisplayName))
	zap.L().Info("chat: left", zap.String("session", connID), zap.String("name", sess.DisplayName))
}

func (h *Hub) broadcastPresenceLocked() {
	h.broadcastLocked(Event{Type: EventPresenceList, Payload: PresencePayload{Sessions: h.sessions.List()}})
}
