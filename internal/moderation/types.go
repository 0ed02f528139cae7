package moderation

// ModerationRequest is published to moderation.check by the chat server
// after a global text message has been fanned out.
type ModerationRequest struct {
	SessionID string `json:"session_id"`
	MessageID uint64 `json:"message_id"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// ModerationResult is published back to the chat server when a message is
// flagged.
type ModerationResult struct {
	SessionID string `json:"session_id"`
	MessageID uint64 `json:"message_id"`
	Blocked   bool   `json:"blocked"`
	Reason    string `json:"reason"`
	Term      string `json:"term"`
	Strikes   int64  `json:"strikes,omitempty"`
	MutedFor  int64  `json:"muted_for,omitempty"` // seconds, 0 when not muted
}
