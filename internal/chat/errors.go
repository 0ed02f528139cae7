package chat

import "errors"

var (
	// ErrNotJoined is returned when a connection acts before joining.
	ErrNotJoined = errors.New("chat: not joined")

	// ErrUnknownConnection is returned when joining from a connection the
	// hub has no sink for.
	ErrUnknownConnection = errors.New("chat: unknown connection")

	// ErrNotOwner is returned when a session deletes a message it did not send.
	ErrNotOwner = errors.New("chat: not the message owner")

	// ErrInvalidBody is returned for empty, oversized or malformed bodies.
	ErrInvalidBody = errors.New("chat: invalid message body")

	// ErrInvalidRecipient is returned for a missing or self-addressed private
	// recipient.
	ErrInvalidRecipient = errors.New("chat: invalid recipient")

	// ErrInvalidReaction is returned for an empty or oversized emoji.
	ErrInvalidReaction = errors.New("chat: invalid reaction")
)
