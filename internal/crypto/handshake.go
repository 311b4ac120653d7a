// Package crypto holds the session handshake primitives, the symmetric
// cipher suite, and password hashing. Everything here is deterministic and
// side-effect free apart from reading the system entropy source.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"
)

// KeySize is the size of X25519 keys, shared secrets, and session keys.
const KeySize = 32

// GenerateKeyPair creates an ephemeral X25519 key pair.
func GenerateKeyPair() (priv, pub [KeySize]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("generating private key: %w", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("deriving public key: %w", err)
	}
	copy(pub[:], p)
	return priv, pub, nil
}

// Agree computes the X25519 shared secret. Low-order peer points are
// rejected (all-zero shared secret).
func Agree(priv [KeySize]byte, peerPub []byte) ([KeySize]byte, error) {
	var shared [KeySize]byte
	if len(peerPub) != KeySize {
		return shared, fmt.Errorf("peer public key is %d bytes, want %d", len(peerPub), KeySize)
	}
	s, err := curve25519.X25519(priv[:], peerPub)
	if err != nil {
		return shared, fmt.Errorf("x25519 agreement: %w", err)
	}
	copy(shared[:], s)
	Wipe(s)
	return shared, nil
}

// SessionKey derives the 32-byte symmetric session key from the shared
// secret: legacy Keccak-256, not the NIST SHA-3 padding.
func SessionKey(shared [KeySize]byte) [KeySize]byte {
	var key [KeySize]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(shared[:])
	copy(key[:], h.Sum(nil))
	return key
}

// Wipe zeroes b. Used on private keys, shared secrets, and password
// material on every exit path.
func Wipe(b []byte) {
	clear(b)
}
