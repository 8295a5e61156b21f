// Package crypto seals secrets for storage at rest and generates instance
// credentials.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

// ErrMalformedPayload indicates a ciphertext too short to carry a nonce.
var ErrMalformedPayload = errors.New("crypto: malformed payload")

// newAEAD derives a 32-byte AES-GCM key from the configured secret with
// SHA-256.
func newAEAD(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-GCM. The random nonce is prepended to
// the returned ciphertext.
func Encrypt(secret string, plaintext []byte) ([]byte, error) {
	gcm, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func Decrypt(secret string, payload []byte) ([]byte, error) {
	gcm, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}
	if len(payload) < gcm.NonceSize() {
		return nil, ErrMalformedPayload
	}
	nonce, ciphertext := payload[:gcm.NonceSize()], payload[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
