package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Suite is the authenticated symmetric cipher bound to one session key:
// XChaCha20-Poly1305 with a random per-message nonce.
//
// String fields travel as base64(nonce || ciphertext) so sealed values stay
// valid UTF-8 inside string payload fields.
type Suite struct {
	aead cipher.AEAD
}

// NewSuite builds a cipher suite over a 32-byte session key.
func NewSuite(key []byte) (*Suite, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating aead: %w", err)
	}
	return &Suite{aead: aead}, nil
}

// Seal encrypts plaintext and returns nonce || ciphertext.
func (s *Suite) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts nonce || ciphertext produced by Seal.
func (s *Suite) Open(sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, fmt.Errorf("sealed message is %d bytes, too short", len(sealed))
	}
	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("opening sealed message: %w", err)
	}
	return plaintext, nil
}

// SealString encrypts a string field for the wire.
func (s *Suite) SealString(plaintext string) (string, error) {
	sealed, err := s.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenString reverses SealString.
func (s *Suite) OpenString(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding sealed field: %w", err)
	}
	plaintext, err := s.Open(sealed)
	if err != nil {
		return "", err
	}
	out := string(plaintext)
	Wipe(plaintext)
	return out, nil
}
