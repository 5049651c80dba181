// Package secret seals upstream API keys at rest. Resources store only the
// sealed form; the gateway opens it just before an upstream call.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSealedFormat is returned when a stored value is not a well-formed
// sealed secret.
var ErrSealedFormat = errors.New("malformed sealed secret")

// ErrOpenFailed is returned when decryption fails, typically because the
// sealing key changed or the ciphertext was altered.
var ErrOpenFailed = errors.New("secret decryption failed")

const sealedPrefix = "sealed:v1:"

// Box seals and opens secrets with XChaCha20-Poly1305. The key material is
// hashed down to the cipher's key size so operators can configure any
// passphrase-like string.
type Box struct {
	key [chacha20poly1305.KeySize]byte
}

// NewBox derives a Box from arbitrary key material.
func NewBox(keyMaterial []byte) *Box {
	b := &Box{}
	b.key = sha256.Sum256(keyMaterial)
	return b
}

// Seal encrypts plaintext and returns the storable string form.
func (b *Box) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key[:])
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed string) (string, error) {
	if len(sealed) <= len(sealedPrefix) || sealed[:len(sealedPrefix)] != sealedPrefix {
		return "", ErrSealedFormat
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed[len(sealedPrefix):])
	if err != nil {
		return "", ErrSealedFormat
	}
	aead, err := chacha20poly1305.NewX(b.key[:])
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrSealedFormat
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plaintext), nil
}

// IsSealed reports whether a stored value carries the sealed prefix. Used by
// migrations that accept plaintext secrets and seal them on first write.
func IsSealed(v string) bool {
	return len(v) > len(sealedPrefix) && v[:len(sealedPrefix)] == sealedPrefix
}
