// Package session tracks which connections have joined the chat and under
// what display name. It is a plain data structure; callers serialize access
// (the chat hub holds it under its own lock).
package session

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxNameLength bounds display names in runes.
const DefaultMaxNameLength = 32

// ErrInvalidName is returned for empty or oversized display names.
var ErrInvalidName = errors.New("session: invalid display name")

// Session is a joined participant. ID is the connection id assigned by the
// transport and is stable only for the life of that connection.
type Session struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// NormalizeName trims surrounding whitespace and checks length.
func NormalizeName(name string, maxLen int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || !utf8.ValidString(name) {
		return "", ErrInvalidName
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}
	if utf8.RuneCountInString(name) > maxLen {
		return "", ErrInvalidName
	}
	return name, nil
}
