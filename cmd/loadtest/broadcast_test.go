package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/starapp/chat-server/internal/chat"
)

func TestStampRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	text := stamp(now, 64)
	assert.Len(t, text, 64)

	got, ok := parseStamp(chat.PlainText{Text: text})
	assert.True(t, ok)
	assert.True(t, now.Equal(got))

	short := stamp(now, 0)
	got, ok = parseStamp(chat.PlainText{Text: short})
	assert.True(t, ok)
	assert.True(t, now.Equal(got))
}

func TestParseStampIgnoresOtherMessages(t *testing.T) {
	for _, b := range []chat.Body{
		chat.PlainText{Text: "hello"},
		chat.PlainText{Text: "lt:notanumber"},
		chat.EncryptedBlob{Ciphertext: "lt:1"},
		nil,
	} {
		_, ok := parseStamp(b)
		assert.False(t, ok)
	}
}
