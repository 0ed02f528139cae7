// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/starapp/chat-server/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin             = "join"
	TypeSendGlobal       = "send_global"
	TypeSendPrivate      = "send_private"
	TypeSetTypingGlobal  = "set_typing_global"
	TypeSetTypingPrivate = "set_typing_private"
	TypeReact            = "react"
	TypeDeleteMessage    = "delete_message"
	TypeMarkRead         = "mark_read"
	TypePing             = "ping"
)

// Server -> Client message types. Chat events use the names in package chat.
const (
	TypeSessionCreated        = "session_created"
	TypePresenceList          = chat.EventPresenceList
	TypeGlobalMessage         = chat.EventGlobalMessage
	TypePrivateMessage        = chat.EventPrivateMessage
	TypeDeliveryAck           = chat.EventDeliveryAck
	TypeTypingGlobalList      = chat.EventTypingGlobalList
	TypeTypingPrivateNotice   = chat.EventTypingPrivateNotice
	TypeReactionUpdateGlobal  = chat.EventReactionUpdateGlobal
	TypeReactionUpdatePrivate = chat.EventReactionUpdatePrivate
	TypeMessageRemoved        = chat.EventMessageRemoved
	TypeReadReceipt           = chat.EventReadReceipt
	TypeRateLimited           = "rate_limited"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// Error codes carried by ErrorMsg.
const (
	CodeInvalidPayload   = "invalid_payload"
	CodeUnknownType      = "unknown_type"
	CodeNotJoined        = "not_joined"
	CodeInvalidName      = "invalid_name"
	CodeInvalidBody      = "invalid_body"
	CodeInvalidRecipient = "invalid_recipient"
	CodeInvalidReaction  = "invalid_reaction"
	CodeNotOwner         = "not_owner"
	CodeMuted            = "muted"
	CodeInternal         = "internal_error"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMsg registers the connection under a display name.
type JoinMsg struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name" validate:"required,max=128"`
}

// SendGlobalMsg publishes to the global room.
type SendGlobalMsg struct {
	Type    string         `json:"type"`
	Body    *chat.WireBody `json:"body" validate:"required"`
	ReplyTo *chat.ReplyRef `json:"reply_to,omitempty"`
}

// SendPrivateMsg routes a message to one peer. Body is usually encrypted.
type SendPrivateMsg struct {
	Type        string         `json:"type"`
	RecipientID string         `json:"recipient_id" validate:"required"`
	Body        *chat.WireBody `json:"body" validate:"required"`
	ReplyTo     *chat.ReplyRef `json:"reply_to,omitempty"`
}

// SetTypingGlobalMsg toggles the sender in the global typing list.
type SetTypingGlobalMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// SetTypingPrivateMsg sends a typing notice to one peer.
type SetTypingPrivateMsg struct {
	Type     string `json:"type"`
	PeerID   string `json:"peer_id" validate:"required"`
	IsTyping bool   `json:"is_typing"`
}

// ReactMsg adds a reaction. PeerID is set for private messages.
type ReactMsg struct {
	Type      string         `json:"type"`
	MessageID chat.MessageID `json:"message_id" validate:"required"`
	Emoji     string         `json:"emoji" validate:"required,max=32"`
	PeerID    string         `json:"peer_id,omitempty"`
}

// DeleteMessageMsg removes one of the sender's own messages.
type DeleteMessageMsg struct {
	Type      string         `json:"type"`
	MessageID chat.MessageID `json:"message_id" validate:"required"`
}

// MarkReadMsg acknowledges a private conversation up to MessageID.
type MarkReadMsg struct {
	Type      string         `json:"type"`
	PeerID    string         `json:"peer_id" validate:"required"`
	MessageID chat.MessageID `json:"message_id" validate:"required"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs not owned by package chat
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new connection is accepted.
// Server structs carry no type field; NewServerMessage adds it.
type SessionCreatedMsg struct {
	SessionID string `json:"session_id"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Action     string `json:"action"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeInto unmarshals raw into a new T and validates it.
func decodeInto[T any](raw json.RawMessage) (T, error) {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, err
	}
	if err := validate.Struct(m); err != nil {
		return m, err
	}
	return m, nil
}

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing or validation. An error wrapping
// ErrUnknownType is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		msg, err = decodeInto[JoinMsg](env.Raw)
	case TypeSendGlobal:
		msg, err = decodeInto[SendGlobalMsg](env.Raw)
	case TypeSendPrivate:
		msg, err = decodeInto[SendPrivateMsg](env.Raw)
	case TypeSetTypingGlobal:
		msg, err = decodeInto[SetTypingGlobalMsg](env.Raw)
	case TypeSetTypingPrivate:
		msg, err = decodeInto[SetTypingPrivateMsg](env.Raw)
	case TypeReact:
		msg, err = decodeInto[ReactMsg](env.Raw)
	case TypeDeleteMessage:
		msg, err = decodeInto[DeleteMessageMsg](env.Raw)
	case TypeMarkRead:
		msg, err = decodeInto[MarkReadMsg](env.Raw)
	case TypePing:
		msg, err = decodeInto[PingMsg](env.Raw)
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded server message. The payload must
// encode as a JSON object (or null); its fields are emitted after the "type"
// key in a single pass, so large payloads are never re-encoded.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}
	body = bytes.TrimSpace(body)
	if bytes.Equal(body, []byte("null")) {
		body = []byte("{}")
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("protocol: %s payload is not a JSON object", msgType)
	}
	typ, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal type: %w", err)
	}

	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(bytes.TrimSpace(body[1:len(body)-1])) > 0 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}

// EncodeEvent renders a hub event as a server message.
func EncodeEvent(ev chat.Event) ([]byte, error) {
	return NewServerMessage(ev.Type, ev.Payload)
}

// EventFrame returns the encoded frame for ev. Events fanned out by the hub
// share one encoding across every recipient.
func EventFrame(ev chat.Event) ([]byte, error) {
	return ev.Frame(EncodeEvent)
}
