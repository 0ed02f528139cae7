package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starapp/chat-server/internal/chat"
)

// ErrUnknownType is returned for a message type the receiver does not handle.
var ErrUnknownType = errors.New("protocol: unknown message type")

// ParseServerMessage decodes a frame sent by the server into the matching
// payload type. It is the client-side counterpart of ParseClientMessage.
func ParseServerMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)
	switch env.Type {
	case TypeSessionCreated:
		msg, err = decodePlain[SessionCreatedMsg](env.Raw)
	case TypePresenceList:
		msg, err = decodePlain[chat.PresencePayload](env.Raw)
	case TypeGlobalMessage, TypePrivateMessage:
		msg, err = decodePlain[chat.MessagePayload](env.Raw)
	case TypeDeliveryAck:
		msg, err = decodePlain[chat.DeliveryAckPayload](env.Raw)
	case TypeTypingGlobalList:
		msg, err = decodePlain[chat.TypingListPayload](env.Raw)
	case TypeTypingPrivateNotice:
		msg, err = decodePlain[chat.TypingNoticePayload](env.Raw)
	case TypeReactionUpdateGlobal:
		msg, err = decodePlain[chat.GlobalReactionPayload](env.Raw)
	case TypeReactionUpdatePrivate:
		msg, err = decodePlain[chat.PrivateReactionPayload](env.Raw)
	case TypeMessageRemoved:
		msg, err = decodePlain[chat.RemovedPayload](env.Raw)
	case TypeReadReceipt:
		msg, err = decodePlain[chat.ReadReceiptPayload](env.Raw)
	case TypeRateLimited:
		msg, err = decodePlain[RateLimitedMsg](env.Raw)
	case TypeError:
		msg, err = decodePlain[ErrorMsg](env.Raw)
	case TypePong:
		msg, err = decodePlain[PongMsg](env.Raw)
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

func decodePlain[T any](raw json.RawMessage) (T, error) {
	var m T
	err := json.Unmarshal(raw, &m)
	return m, err
}
