// Package cryptobox seals and opens opaque byte payloads with AES-256-GCM.
//
// The persisted wire format is an ASCII string
// "base64(nonce):base64(ciphertext):base64(tag)" with a 96-bit nonce drawn
// fresh for every Seal and a 128-bit authentication tag.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	// ErrInvalidKey is returned when the supplied key is not 32 bytes.
	ErrInvalidKey = errors.New("cryptobox: key must be 32 bytes")
	// ErrAuthentication covers both malformed payloads and tag failures so a
	// tampered payload is indistinguishable from a corrupted one.
	ErrAuthentication = errors.New("cryptobox: authentication failed")
)

// Seal encrypts plaintext under key. Non-deterministic: the nonce is random
// per call and never reused for a given key.
func Seal(key, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return "", fmt.Errorf("cryptobox: nonce: %w", err)
	}
	out := gcm.Seal(nil, nonce, plaintext, nil)
	ct, tag := out[:len(out)-TagSize], out[len(out)-TagSize:]
	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(tag),
	}, ":"), nil
}

// Open decrypts a payload produced by Seal. Pure function of (key, payload).
func Open(key []byte, payload string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return nil, ErrAuthentication
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrAuthentication
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrAuthentication
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrAuthentication
	}
	if len(nonce) != NonceSize || len(tag) != TagSize {
		return nil, ErrAuthentication
	}
	plain, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}

// NewKey returns a fresh random 256-bit key.
func NewKey() ([]byte, error) {
	return RandomBytes(KeySize)
}

// RandomBytes reads n bytes from the process CSPRNG. Shared by the
// setup-token issuer so all secret material comes from one source.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return cipher.NewGCM(block)
}
