package chat

import (
	"fmt"

	"go.uber.org/zap"
)

// RoutePrivate sends a message from senderID to recipientID. A live recipient
// gets the message with Delivered set and the sender gets a delivery_ack.
// The sender always gets an echo of its own copy. Nothing is queued for an
// offline recipient and no body is kept after routing.
func (h *Hub) RoutePrivate(senderID, recipientID string, body Body, replyTo *ReplyRef) (Message, error) {
	if recipientID == "" || recipientID == senderID {
		return Message{}, ErrInvalidRecipient
	}
	if err := ValidateBody(body, h.cfg.Limits); err != nil {
		return Message{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sender, ok := h.sessions.Get(senderID)
	if !ok {
		return Message{}, ErrNotJoined
	}

	msg := h.newMessageLocked(KindPrivate, senderID, sender.DisplayName, body)
	msg.RecipientID = recipientID
	if replyTo != nil && replyTo.Body != nil && ValidateBody(replyTo.Body, h.cfg.Limits) == nil {
		ref := *replyTo
		msg.ReplyTo = &ref
	}

	h.routes.Add(Route{MessageID: msg.ID, SenderID: senderID, RecipientID: recipientID})

	if h.liveLocked(recipientID) {
		msg.Delivered = true
		h.sendLocked(recipientID, Event{Type: EventPrivateMessage, Payload: MessagePayload{Message: msg.Clone()}})
		h.sendLocked(senderID, Event{Type: EventDeliveryAck, Payload: DeliveryAckPayload{MessageID: msg.ID}})
	}
	h.sendLocked(senderID, Event{Type: EventPrivateMessage, Payload: MessagePayload{Message: msg.Clone()}})

	zap.L().Debug("chat: private message",
		zap.String("session", senderID),
		zap.String("recipient", recipientID),
		zap.Uint64("message_id", uint64(msg.ID)),
		zap.Bool("delivered", msg.Delivered),
	)
	return msg.Clone(), nil
}

// MarkRead tells peerID that readerID has read their conversation up to and
// including upTo. The receipt is forwarded to a live peer and echoed to the
// reader. Unknown readers are ignored.
func (h *Hub) MarkRead(readerID, peerID string, upTo MessageID) error {
	if peerID == "" || peerID == readerID {
		return fmt.Errorf("mark read: %w", ErrInvalidRecipient)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions.Get(readerID); !ok {
		return nil
	}
	ev := Event{Type: EventReadReceipt, Payload: ReadReceiptPayload{From: readerID, PeerID: peerID, MessageID: upTo}}
	if h.liveLocked(peerID) {
		h.sendLocked(peerID, ev)
	}
	h.sendLocked(readerID, ev)
	return nil
}
