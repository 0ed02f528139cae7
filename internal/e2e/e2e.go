// Package e2e implements the client-side confidentiality layer for private
// messages. Both peers derive the same key from their display names, so the
// server only ever relays opaque ciphertext.
package e2e

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/hkdf"
)

// Placeholder is shown in place of a message that cannot be decrypted.
const Placeholder = "[message content unavailable]"

// KeySize is the AES-256 key length.
const KeySize = 32

var info = []byte("chat-server private message v1")

// ErrCiphertext is returned when a blob is malformed or fails authentication.
var ErrCiphertext = errors.New("e2e: invalid ciphertext")

// Key is a symmetric pair key.
type Key [KeySize]byte

// PairKey derives the key shared by a and b. The result does not depend on
// argument order. Each name is length-prefixed so distinct pairs never share
// key material.
func PairKey(a, b string) Key {
	names := []string{a, b}
	sort.Strings(names)
	secret := make([]byte, 0, 8+len(a)+len(b))
	for _, n := range names {
		secret = binary.BigEndian.AppendUint32(secret, uint32(len(n)))
		secret = append(secret, n...)
	}

	var k Key
	r := hkdf.New(sha256.New, secret, nil, info)
	if _, err := io.ReadFull(r, k[:]); err != nil {
		// hkdf only fails past 255 hash lengths of output.
		panic(fmt.Sprintf("e2e: hkdf: %v", err))
	}
	return k
}

func (k Key) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func Seal(k Key, plaintext string) (string, error) {
	gcm, err := k.aead()
	if err != nil {
		return "", fmt.Errorf("e2e: seal: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("e2e: nonce: %w", err)
	}
	out := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func Open(k Key, blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	gcm, err := k.aead()
	if err != nil {
		return "", fmt.Errorf("e2e: open: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrCiphertext
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(pt), nil
}

// OpenOrPlaceholder opens blob, returning Placeholder on any failure.
func OpenOrPlaceholder(k Key, blob string) string {
	if blob == "" {
		return Placeholder
	}
	pt, err := Open(k, blob)
	if err != nil {
		return Placeholder
	}
	return pt
}
