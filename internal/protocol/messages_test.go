package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/starapp/chat-server/internal/chat"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Join(t *testing.T) {
	input := []byte(`{"type":"join","display_name":"alice"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoin {
		t.Fatalf("expected type %q, got %q", TypeJoin, msgType)
	}
	jm, ok := msg.(JoinMsg)
	if !ok {
		t.Fatalf("expected JoinMsg, got %T", msg)
	}
	if jm.DisplayName != "alice" {
		t.Errorf("expected display_name %q, got %q", "alice", jm.DisplayName)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing send_global with a reply snapshot
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendGlobal(t *testing.T) {
	input := []byte(`{"type":"send_global","body":{"kind":"text","text":"Hello!"},` +
		`"reply_to":{"message_id":3,"sender_name":"bob","body":{"kind":"text","text":"hey"}}}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sg, ok := msg.(SendGlobalMsg)
	if !ok {
		t.Fatalf("expected SendGlobalMsg, got %T", msg)
	}
	body, err := sg.Body.Decode()
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body != (chat.PlainText{Text: "Hello!"}) {
		t.Errorf("unexpected body %#v", body)
	}
	if sg.ReplyTo == nil || sg.ReplyTo.MessageID != 3 || sg.ReplyTo.Body != (chat.PlainText{Text: "hey"}) {
		t.Errorf("unexpected reply_to %#v", sg.ReplyTo)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing send_private with an encrypted and a file body
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendPrivate(t *testing.T) {
	input := []byte(`{"type":"send_private","recipient_id":"c2","body":{"kind":"encrypted","ciphertext":"U2FsdGVk"}}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sp := msg.(SendPrivateMsg)
	if sp.RecipientID != "c2" {
		t.Errorf("expected recipient c2, got %q", sp.RecipientID)
	}
	body, _ := sp.Body.Decode()
	if body != (chat.EncryptedBlob{Ciphertext: "U2FsdGVk"}) {
		t.Errorf("unexpected body %#v", body)
	}

	file := []byte(`{"type":"send_private","recipient_id":"c2","body":{"kind":"file","mime_type":"image/png","name":"a.png","content":"iVA="}}`)
	_, msg, err = ParseClientMessage(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ = msg.(SendPrivateMsg).Body.Decode()
	fa, ok := body.(chat.FileAttachment)
	if !ok || len(fa.Content) != 2 || fa.Content[0] != 0x89 {
		t.Errorf("unexpected file body %#v", body)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing react with a 64-bit message id
// ---------------------------------------------------------------------------

func TestParseClientMessage_ReactLargeID(t *testing.T) {
	input := []byte(`{"type":"react","message_id":4503599627370497,"emoji":"👍"}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rm := msg.(ReactMsg)
	if rm.MessageID != chat.MessageID(4503599627370497) {
		t.Errorf("message id lost precision: %d", rm.MessageID)
	}
	if rm.PeerID != "" {
		t.Errorf("expected no peer, got %q", rm.PeerID)
	}
}

// ---------------------------------------------------------------------------
// Test: Validation failures
// ---------------------------------------------------------------------------

func TestParseClientMessage_ValidationErrors(t *testing.T) {
	cases := map[string]string{
		"join without name":        `{"type":"join"}`,
		"join name too long":       `{"type":"join","display_name":"` + strings.Repeat("x", 129) + `"}`,
		"send_global without body": `{"type":"send_global"}`,
		"body with bad kind":       `{"type":"send_global","body":{"kind":"video"}}`,
		"private without peer":     `{"type":"send_private","body":{"kind":"text","text":"x"}}`,
		"react without emoji":      `{"type":"react","message_id":1}`,
		"react zero id":            `{"type":"react","message_id":0,"emoji":"👍"}`,
		"delete without id":        `{"type":"delete_message"}`,
		"mark_read without peer":   `{"type":"mark_read","message_id":5}`,
		"typing peer missing":      `{"type":"set_typing_private","is_typing":true}`,
		"wrong field type":         `{"type":"set_typing_global","is_typing":"yes"}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(input)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown type / malformed JSON / missing type
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"find_match"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if msgType != "find_match" {
		t.Errorf("expected type to be reported, got %q", msgType)
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{not json}`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"display_name":"alice"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

// ---------------------------------------------------------------------------
// Test: NewServerMessage
// ---------------------------------------------------------------------------

func TestNewServerMessage_SessionCreated(t *testing.T) {
	data, err := NewServerMessage(TypeSessionCreated, SessionCreatedMsg{SessionID: "sess-abc-123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeSessionCreated {
		t.Errorf("expected type %q, got %v", TypeSessionCreated, result["type"])
	}
	if result["session_id"] != "sess-abc-123" {
		t.Errorf("expected session_id %q, got %v", "sess-abc-123", result["session_id"])
	}
}

func TestNewServerMessage_NilPayload(t *testing.T) {
	data, err := NewServerMessage(TypePong, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("unexpected output %s", data)
	}
}

func TestNewServerMessage_SingleTypeKey(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{Code: CodeMuted, Message: "muted for 5m0s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"type":"error","code":"muted","message":"muted for 5m0s"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	data, err = NewServerMessage(TypePong, PongMsg{})
	if err != nil || string(data) != `{"type":"pong"}` {
		t.Errorf("empty payload: %s, %v", data, err)
	}
}

func TestNewServerMessage_RejectsNonObjects(t *testing.T) {
	for _, payload := range []interface{}{"text", 42, []int{1}} {
		if _, err := NewServerMessage(TypePong, payload); err == nil {
			t.Errorf("payload %v: expected error", payload)
		}
	}
}

func TestEncodeEvent_KeepsLargeIDs(t *testing.T) {
	const id = chat.MessageID(1<<52 + 17)
	data, err := EncodeEvent(chat.Event{Type: chat.EventMessageRemoved, Payload: chat.RemovedPayload{MessageID: id}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"message_id":4503599627370513`) {
		t.Errorf("id not preserved: %s", data)
	}
}

// ---------------------------------------------------------------------------
// Test: server frames decode on the client side
// ---------------------------------------------------------------------------

func TestParseServerMessage_RoundTrip(t *testing.T) {
	msg := chat.Message{ID: 2, Kind: chat.KindGlobal, SenderName: "bob", Body: chat.PlainText{Text: "hello"}}
	data, err := EncodeEvent(chat.Event{Type: chat.EventGlobalMessage, Payload: chat.MessagePayload{Message: msg}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	typ, payload, err := ParseServerMessage(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if typ != TypeGlobalMessage {
		t.Fatalf("expected %q, got %q", TypeGlobalMessage, typ)
	}
	got := payload.(chat.MessagePayload).Message
	if got.ID != 2 || got.Body != (chat.PlainText{Text: "hello"}) {
		t.Errorf("unexpected message %#v", got)
	}

	data, _ = EncodeEvent(chat.Event{Type: chat.EventReactionUpdateGlobal, Payload: chat.GlobalReactionPayload{
		MessageID: 2,
		Reactions: chat.Reactions{"👍": {"alice"}},
	}})
	_, payload, err = ParseServerMessage(data)
	if err != nil {
		t.Fatalf("parse reaction: %v", err)
	}
	if r := payload.(chat.GlobalReactionPayload); len(r.Reactions["👍"]) != 1 {
		t.Errorf("unexpected reactions %#v", r)
	}
}
