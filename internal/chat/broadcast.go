package chat

import "go.uber.org/zap"

// PublishGlobal appends a message to the global log and fans it out to every
// joined connection, the sender included. When replyTo names a message still
// in the log, the reference is rebuilt from the log; otherwise the
// client-supplied snapshot is kept if it carries a body.
func (h *Hub) PublishGlobal(senderID string, body Body, replyTo *ReplyRef) (Message, error) {
	if err := ValidateBody(body, h.cfg.Limits); err != nil {
		return Message{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sender, ok := h.sessions.Get(senderID)
	if !ok {
		return Message{}, ErrNotJoined
	}

	msg := h.newMessageLocked(KindGlobal, senderID, sender.DisplayName, body)
	msg.ReplyTo = h.resolveReplyLocked(replyTo)
	h.appendGlobalLocked(msg)

	zap.L().Debug("chat: global message",
		zap.String("session", senderID),
		zap.Uint64("message_id", uint64(msg.ID)),
	)
	return msg.Clone(), nil
}

// resolveReplyLocked prefers the log's copy of the referenced message.
func (h *Hub) resolveReplyLocked(ref *ReplyRef) *ReplyRef {
	if ref == nil {
		return nil
	}
	if target, ok := h.history.Get(ref.MessageID); ok {
		return &ReplyRef{MessageID: target.ID, SenderName: target.SenderName, Body: target.Body}
	}
	if ref.Body == nil {
		return nil
	}
	if err := ValidateBody(ref.Body, h.cfg.Limits); err != nil {
		return nil
	}
	snapshot := *ref
	return &snapshot
}
