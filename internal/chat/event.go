package chat

import (
	"sync"

	"github.com/starapp/chat-server/internal/session"
)

// Server-to-client event types produced by the hub.
const (
	EventPresenceList          = "presence_list"
	EventGlobalMessage         = "global_message"
	EventPrivateMessage        = "private_message"
	EventDeliveryAck           = "delivery_ack"
	EventTypingGlobalList      = "typing_global_list"
	EventTypingPrivateNotice   = "typing_private_notice"
	EventReactionUpdateGlobal  = "reaction_update_global"
	EventReactionUpdatePrivate = "reaction_update_private"
	EventMessageRemoved        = "message_removed"
	EventReadReceipt           = "read_receipt"
)

// Event is one outbound notification. Payload is JSON-encodable; the
// transport flattens it next to the type field.
type Event struct {
	Type    string
	Payload any

	frame *frameCache
}

// frameCache holds the single encoding of a fanned-out event.
type frameCache struct {
	once sync.Once
	data []byte
	err  error
}

// shared returns a copy of ev whose encoding is computed at most once, no
// matter how many sinks ask for it.
func (ev Event) shared() Event {
	if ev.frame == nil {
		ev.frame = &frameCache{}
	}
	return ev
}

// Frame encodes ev with encode. For events fanned out by the hub the result
// is computed once and the same bytes are returned to every caller; callers
// must not modify them.
func (ev Event) Frame(encode func(Event) ([]byte, error)) ([]byte, error) {
	if ev.frame == nil {
		return encode(ev)
	}
	ev.frame.once.Do(func() {
		ev.frame.data, ev.frame.err = encode(ev)
	})
	return ev.frame.data, ev.frame.err
}

// PresencePayload carries the full presence list.
type PresencePayload struct {
	Sessions []session.Session `json:"sessions"`
}

// MessagePayload wraps a global or private message.
type MessagePayload struct {
	Message Message `json:"message"`
}

// DeliveryAckPayload tells a sender its private message reached a live peer.
type DeliveryAckPayload struct {
	MessageID MessageID `json:"message_id"`
}

// TypingListPayload carries the full set of typing display names.
type TypingListPayload struct {
	Names []string `json:"names"`
}

// TypingNoticePayload is a private typing signal.
type TypingNoticePayload struct {
	From     string `json:"from"`
	PeerID   string `json:"peer_id"`
	IsTyping bool   `json:"is_typing"`
}

// GlobalReactionPayload carries the full aggregate of a global message.
type GlobalReactionPayload struct {
	MessageID MessageID `json:"message_id"`
	Reactions Reactions `json:"reactions"`
}

// PrivateReactionPayload is a reaction delta for a private message.
type PrivateReactionPayload struct {
	MessageID MessageID `json:"message_id"`
	Emoji     string    `json:"emoji"`
	ReactorID string    `json:"reactor_id"`
	PeerID    string    `json:"peer_id"`
}

// RemovedPayload announces a hard delete.
type RemovedPayload struct {
	MessageID MessageID `json:"message_id"`
	Reason    string    `json:"reason,omitempty"`
}

// ReadReceiptPayload says From has read the conversation up to MessageID.
type ReadReceiptPayload struct {
	From      string    `json:"from"`
	PeerID    string    `json:"peer_id"`
	MessageID MessageID `json:"message_id"`
}
