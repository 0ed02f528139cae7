package chat

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/starapp/chat-server/internal/metrics"
)

// Removal reasons carried on message_removed and reported to observers.
const (
	ReasonSender     = "sender"
	ReasonModeration = "moderation"
)

// newMessageLocked stamps a fresh id and timestamp.
func (h *Hub) newMessageLocked(kind Kind, senderID, senderName string, body Body) Message {
	seq := h.seq
	if kind == KindSystem {
		seq = h.systemSeq
	}
	metrics.MessagesTotal.WithLabelValues(string(kind)).Inc()
	return Message{
		ID:         seq.Next(),
		Kind:       kind,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
		Reactions:  Reactions{},
		CreatedAt:  h.now(),
	}
}

// appendGlobalLocked stores msg in the log, notifies observers and fans it
// out to every joined connection.
func (h *Hub) appendGlobalLocked(msg Message) {
	h.history.Append(msg)
	h.notifyPublishedLocked(msg)
	h.broadcastLocked(Event{Type: EventGlobalMessage, Payload: MessagePayload{Message: msg.Clone()}})
}

// announceLocked appends a system message to the global log.
func (h *Hub) announceLocked(text string) {
	msg := h.newMessageLocked(KindSystem, SystemSender, SystemSender, PlainText{Text: text})
	h.appendGlobalLocked(msg)
}

// Delete removes a message sent by requesterID. Global messages are dropped
// from the log and the removal is broadcast to everyone; private messages
// are looked up in the route index and the removal goes to both parties.
// Unknown ids are ignored.
func (h *Hub) Delete(id MessageID, requesterID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions.Get(requesterID); !ok {
		return ErrNotJoined
	}

	if msg, ok := h.history.Get(id); ok {
		if msg.SenderID != requesterID {
			return fmt.Errorf("delete %d: %w", id, ErrNotOwner)
		}
		h.removeGlobalLocked(id, ReasonSender)
		return nil
	}

	if route, ok := h.routes.Get(id); ok {
		if route.SenderID != requesterID {
			return fmt.Errorf("delete %d: %w", id, ErrNotOwner)
		}
		h.routes.Remove(id)
		ev := Event{Type: EventMessageRemoved, Payload: RemovedPayload{MessageID: id, Reason: ReasonSender}}
		h.sendLocked(route.SenderID, ev)
		if route.RecipientID != route.SenderID {
			h.sendLocked(route.RecipientID, ev)
		}
		metrics.DeletionsTotal.WithLabelValues(ReasonSender).Inc()
		return nil
	}

	zap.L().Debug("chat: delete of unknown message", zap.Uint64("message_id", uint64(id)))
	return nil
}

// Retract removes a global message without an ownership check. It reports
// whether the message was still in the log.
func (h *Hub) Retract(id MessageID, reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if reason == "" {
		reason = ReasonModeration
	}
	return h.removeGlobalLocked(id, reason)
}

func (h *Hub) removeGlobalLocked(id MessageID, reason string) bool {
	if _, ok := h.history.Remove(id); !ok {
		return false
	}
	metrics.DeletionsTotal.WithLabelValues(reason).Inc()
	h.notifyRemovedLocked(id, reason)
	h.broadcastLocked(Event{Type: EventMessageRemoved, Payload: RemovedPayload{MessageID: id, Reason: reason}})
	zap.L().Info("chat: message removed", zap.Uint64("message_id", uint64(id)), zap.String("reason", reason))
	return true
}
