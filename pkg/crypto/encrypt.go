package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Sealer encrypts gateway payloads at rest with AES-256-GCM. Each ciphertext
// is bound to a context string (the transaction reference) as associated
// data, so a payload copied onto another row fails to open.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key string) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts payload for boundTo and returns base64(nonce || ciphertext).
func (s *Sealer) Seal(payload []byte, boundTo string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, payload, []byte(boundTo))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. boundTo must match the value given to Seal.
func (s *Sealer) Open(encoded, boundTo string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	n := s.gcm.NonceSize()
	if len(raw) < n+s.gcm.Overhead() {
		return nil, fmt.Errorf("sealed payload too short")
	}
	payload, err := s.gcm.Open(nil, raw[:n], raw[n:], []byte(boundTo))
	if err != nil {
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	return payload, nil
}
