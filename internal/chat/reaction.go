package chat

import "github.com/starapp/chat-server/internal/metrics"

// React adds actorID's emoji to a message. Without a peer the message must be
// in the global log: the reaction is added at most once per actor and emoji
// and the full aggregate is broadcast, all under the hub lock. With a peer the
// delta is forwarded to the peer and echoed to the actor, since the server
// keeps no private copies. Unknown actors and messages are ignored.
func (h *Hub) React(id MessageID, emoji, actorID, peerID string) error {
	if err := ValidateEmoji(emoji, h.cfg.Limits); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions.Get(actorID); !ok {
		return nil
	}

	if peerID != "" {
		if peerID == actorID {
			return ErrInvalidRecipient
		}
		ev := Event{Type: EventReactionUpdatePrivate, Payload: PrivateReactionPayload{
			MessageID: id,
			Emoji:     emoji,
			ReactorID: actorID,
			PeerID:    peerID,
		}}
		if h.liveLocked(peerID) {
			h.sendLocked(peerID, ev)
		}
		h.sendLocked(actorID, ev)
		metrics.ReactionsTotal.WithLabelValues("private").Inc()
		return nil
	}

	msg := h.history.find(id)
	if msg == nil {
		return nil
	}
	msg.Reactions.Add(emoji, actorID)
	metrics.ReactionsTotal.WithLabelValues("global").Inc()
	h.broadcastLocked(Event{Type: EventReactionUpdateGlobal, Payload: GlobalReactionPayload{
		MessageID: id,
		Reactions: msg.Reactions.Clone(),
	}})
	return nil
}
