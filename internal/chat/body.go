package chat

import "fmt"

// BodyKind tags the variant carried by a Body.
type BodyKind string

const (
	BodyText      BodyKind = "text"
	BodyEncrypted BodyKind = "encrypted"
	BodyFile      BodyKind = "file"
)

// Body is the content of a message: PlainText, EncryptedBlob or
// FileAttachment.
type Body interface {
	Kind() BodyKind
}

// PlainText is readable text.
type PlainText struct {
	Text string
}

// EncryptedBlob is ciphertext produced by the clients' pair key. The server
// relays it without looking inside.
type EncryptedBlob struct {
	Ciphertext string
}

// FileAttachment is a small inline file such as an image or a voice note.
type FileAttachment struct {
	MimeType string
	Name     string
	Content  []byte
}

func (PlainText) Kind() BodyKind      { return BodyText }
func (EncryptedBlob) Kind() BodyKind  { return BodyEncrypted }
func (FileAttachment) Kind() BodyKind { return BodyFile }

// WireBody is the JSON form of a Body. Content is base64 on the wire.
type WireBody struct {
	Kind       BodyKind `json:"kind" validate:"required,oneof=text encrypted file"`
	Text       string   `json:"text,omitempty"`
	Ciphertext string   `json:"ciphertext,omitempty"`
	MimeType   string   `json:"mime_type,omitempty"`
	Name       string   `json:"name,omitempty"`
	Content    []byte   `json:"content,omitempty"`
}

// EncodeBody converts b to its wire form. A nil body encodes as the zero
// WireBody.
func EncodeBody(b Body) WireBody {
	switch v := b.(type) {
	case PlainText:
		return WireBody{Kind: BodyText, Text: v.Text}
	case EncryptedBlob:
		return WireBody{Kind: BodyEncrypted, Ciphertext: v.Ciphertext}
	case FileAttachment:
		return WireBody{Kind: BodyFile, MimeType: v.MimeType, Name: v.Name, Content: v.Content}
	default:
		return WireBody{}
	}
}

// Decode converts the wire form back to a Body. Fields belonging to other
// variants are ignored.
func (w WireBody) Decode() (Body, error) {
	switch w.Kind {
	case BodyText:
		return PlainText{Text: w.Text}, nil
	case BodyEncrypted:
		return EncryptedBlob{Ciphertext: w.Ciphertext}, nil
	case BodyFile:
		return FileAttachment{MimeType: w.MimeType, Name: w.Name, Content: w.Content}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidBody, w.Kind)
	}
}

// Preview returns a short human readable rendering of b for logs and
// terminals.
func Preview(b Body) string {
	switch v := b.(type) {
	case PlainText:
		return v.Text
	case EncryptedBlob:
		return "[encrypted]"
	case FileAttachment:
		return fmt.Sprintf("[file %s %s, %d bytes]", v.Name, v.MimeType, len(v.Content))
	default:
		return ""
	}
}
