package chat

import (
	"encoding/json"
	"slices"
	"time"
)

// Kind distinguishes where a message lives.
type Kind string

const (
	KindGlobal  Kind = "global"
	KindPrivate Kind = "private"
	KindSystem  Kind = "system"
)

// SystemSender is the sender id and name on join/leave announcements.
const SystemSender = "system"

// ReplyRef is a snapshot of the message being replied to, taken at send time.
type ReplyRef struct {
	MessageID  MessageID
	SenderName string
	Body       Body
}

// Reactions maps an emoji to the ids of the sessions that reacted with it.
type Reactions map[string][]string

// Message is a single chat message. Values handed to callers are copies;
// mutating them never affects hub state.
type Message struct {
	ID          MessageID
	Kind        Kind
	SenderID    string
	SenderName  string
	RecipientID string
	Body        Body
	ReplyTo     *ReplyRef
	Reactions   Reactions
	Delivered   bool
	Read        bool
	CreatedAt   time.Time
}

// Add records reactor under emoji. It returns false when reactor was already
// present, leaving r unchanged.
func (r *Reactions) Add(emoji, reactor string) bool {
	if *r == nil {
		*r = make(Reactions)
	}
	if slices.Contains((*r)[emoji], reactor) {
		return false
	}
	(*r)[emoji] = append((*r)[emoji], reactor)
	return true
}

// Merge applies a delta received for a private message. It is Add under the
// name clients use when folding reaction_update_private into a held copy.
func (r *Reactions) Merge(emoji, reactor string) bool {
	return r.Add(emoji, reactor)
}

// Clone returns a deep copy.
func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for emoji, ids := range r {
		out[emoji] = slices.Clone(ids)
	}
	return out
}

// Clone returns a copy that shares nothing mutable with m.
func (m Message) Clone() Message {
	m.Reactions = m.Reactions.Clone()
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		m.ReplyTo = &ref
	}
	return m
}

type wireReplyRef struct {
	MessageID  MessageID `json:"message_id"`
	SenderName string    `json:"sender_name"`
	Body       WireBody  `json:"body"`
}

type wireMessage struct {
	ID          MessageID     `json:"id"`
	Kind        Kind          `json:"kind"`
	SenderID    string        `json:"sender_id"`
	SenderName  string        `json:"sender_name"`
	RecipientID string        `json:"recipient_id,omitempty"`
	Body        WireBody      `json:"body"`
	ReplyTo     *wireReplyRef `json:"reply_to,omitempty"`
	Reactions   Reactions     `json:"reactions"`
	Delivered   bool          `json:"delivered"`
	Read        bool          `json:"read"`
	CreatedAt   time.Time     `json:"timestamp"`
}

// MarshalJSON encodes the body as a tagged object.
func (r ReplyRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireReplyRef{MessageID: r.MessageID, SenderName: r.SenderName, Body: EncodeBody(r.Body)})
}

// UnmarshalJSON decodes the tagged body form.
func (r *ReplyRef) UnmarshalJSON(data []byte) error {
	var w wireReplyRef
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.MessageID = w.MessageID
	r.SenderName = w.SenderName
	r.Body = nil
	if w.Body.Kind != "" {
		body, err := w.Body.Decode()
		if err != nil {
			return err
		}
		r.Body = body
	}
	return nil
}

// MarshalJSON encodes the message in its wire form.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:          m.ID,
		Kind:        m.Kind,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		RecipientID: m.RecipientID,
		Body:        EncodeBody(m.Body),
		Reactions:   m.Reactions,
		Delivered:   m.Delivered,
		Read:        m.Read,
		CreatedAt:   m.CreatedAt,
	}
	if w.Reactions == nil {
		w.Reactions = Reactions{}
	}
	if m.ReplyTo != nil {
		w.ReplyTo = &wireReplyRef{
			MessageID:  m.ReplyTo.MessageID,
			SenderName: m.ReplyTo.SenderName,
			Body:       EncodeBody(m.ReplyTo.Body),
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	body, err := w.Body.Decode()
	if err != nil {
		return err
	}
	*m = Message{
		ID:          w.ID,
		Kind:        w.Kind,
		SenderID:    w.SenderID,
		SenderName:  w.SenderName,
		RecipientID: w.RecipientID,
		Body:        body,
		Reactions:   w.Reactions,
		Delivered:   w.Delivered,
		Read:        w.Read,
		CreatedAt:   w.CreatedAt,
	}
	if w.ReplyTo != nil {
		ref := &ReplyRef{MessageID: w.ReplyTo.MessageID, SenderName: w.ReplyTo.SenderName}
		if w.ReplyTo.Body.Kind != "" {
			if ref.Body, err = w.ReplyTo.Body.Decode(); err != nil {
				return err
			}
		}
		m.ReplyTo = ref
	}
	return nil
}
