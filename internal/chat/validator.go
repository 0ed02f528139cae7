package chat

import (
	"fmt"
	"unicode/utf8"
)

// Limits bounds message content.
type Limits struct {
	MaxTextChars  int // runes per text body
	MaxBlobBytes  int // ciphertext length
	MaxFileBytes  int // decoded attachment size
	MaxNameLength int // display name runes
	MaxEmojiBytes int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxTextChars:  2000,
		MaxBlobBytes:  64 << 10,
		MaxFileBytes:  16 << 20,
		MaxNameLength: 32,
		MaxEmojiBytes: 32,
	}
}

// ValidateBody checks that a body meets content requirements.
func ValidateBody(b Body, l Limits) error {
	switch v := b.(type) {
	case PlainText:
		return validateText(v.Text, l.MaxTextChars)
	case EncryptedBlob:
		if v.Ciphertext == "" {
			return fmt.Errorf("%w: ciphertext is empty", ErrInvalidBody)
		}
		if len(v.Ciphertext) > l.MaxBlobBytes {
			return fmt.Errorf("%w: ciphertext exceeds %d bytes", ErrInvalidBody, l.MaxBlobBytes)
		}
	case FileAttachment:
		if v.MimeType == "" || v.Name == "" {
			return fmt.Errorf("%w: file needs a name and mime type", ErrInvalidBody)
		}
		if len(v.Content) == 0 {
			return fmt.Errorf("%w: file is empty", ErrInvalidBody)
		}
		if len(v.Content) > l.MaxFileBytes {
			return fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidBody, l.MaxFileBytes)
		}
	case nil:
		return fmt.Errorf("%w: missing body", ErrInvalidBody)
	default:
		return fmt.Errorf("%w: unsupported body %T", ErrInvalidBody, b)
	}
	return nil
}

func validateText(text string, maxChars int) error {
	if len(text) == 0 {
		return fmt.Errorf("%w: text is empty", ErrInvalidBody)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: text contains invalid UTF-8", ErrInvalidBody)
	}
	if utf8.RuneCountInString(text) > maxChars {
		return fmt.Errorf("%w: text exceeds %d character limit", ErrInvalidBody, maxChars)
	}
	return nil
}

// ValidateEmoji checks a reaction symbol.
func ValidateEmoji(emoji string, l Limits) error {
	if emoji == "" || !utf8.ValidString(emoji) || len(emoji) > l.MaxEmojiBytes {
		return ErrInvalidReaction
	}
	return nil
}
