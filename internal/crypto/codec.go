// Package crypto encrypts destination secrets at rest and the workflow
// arguments handed to the workflow engine.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt is returned when ciphertext is malformed, was tampered with, or
// was sealed under a different key.
var ErrDecrypt = errors.New("crypto: unable to decrypt payload")

// Codec seals byte payloads with XChaCha20-Poly1305. Output is the random
// 24-byte nonce followed by the ciphertext and tag.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a Codec from the configured secret. Keys shorter than 32
// bytes are zero-padded and longer keys are truncated, so existing
// deployments keep decrypting after a key-length change in configuration.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("crypto: empty secret key")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	copy(key, secret)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh nonce.
func (c *Codec) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func (c *Codec) Decrypt(payload []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(payload) < n+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: payload too short", ErrDecrypt)
	}
	plaintext, err := c.aead.Open(nil, payload[:n], payload[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
