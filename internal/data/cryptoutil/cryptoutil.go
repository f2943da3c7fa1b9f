// Package cryptoutil seals configuration secrets with AES-256-GCM so they can sit in env files
// and deployment manifests without being readable.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a value produced by Box.Seal. The version allows key or algorithm rotation.
const SealedPrefix = "sealed:v1:"

// ErrNoKey is returned when a sealed value is found but no key is configured.
var ErrNoKey = errors.New("sealed secret found but no secret key is configured")

// Box seals and opens secrets with one AES-256 key.
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a Box from a 32-byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// NewBoxFromString accepts a 64-char hex key, or derives one from a passphrase with SHA-256.
func NewBoxFromString(key string) (*Box, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("secret key is empty")
	}
	if raw, err := hex.DecodeString(key); err == nil && len(raw) == 32 {
		return NewBox(raw)
	}
	sum := sha256.Sum256([]byte(key))
	return NewBox(sum[:])
}

// Seal encrypts plaintext under a random nonce and returns SealedPrefix + base64(nonce||ciphertext).
func (b *Box) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, plaintext, nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed string) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, errors.New("value is not sealed")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode sealed value: %w", err)
	}
	n := b.aead.NonceSize()
	if len(raw) < n+b.aead.Overhead() {
		return nil, errors.New("sealed value too short")
	}
	pt, err := b.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed value: %w", err)
	}
	return pt, nil
}

// IsSealed reports whether v carries the sealed prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, SealedPrefix)
}

// Resolve returns v unchanged when it is plain text and opens it when sealed.
// A nil box only accepts plain values.
func Resolve(b *Box, v string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	if b == nil {
		return "", ErrNoKey
	}
	pt, err := b.Open(v)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
