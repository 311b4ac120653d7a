package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. Changing the iteration count invalidates stored hashes,
// so it is a constant rather than config.
const (
	SaltSize         = 64
	HashSize         = 64
	pbkdf2Iterations = 120_000
)

// HashPassword derives a PBKDF2-SHA256 hash under a fresh random 64-byte
// salt. The caller owns the returned buffers and must Wipe them after use.
func HashPassword(password []byte) (salt, hash []byte, err error) {
	salt = make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generating salt: %w", err)
	}
	hash = pbkdf2.Key(password, salt, pbkdf2Iterations, HashSize, sha256.New)
	return salt, hash, nil
}

// VerifyPassword recomputes the hash and compares in constant time.
func VerifyPassword(password, salt, hash []byte) bool {
	computed := pbkdf2.Key(password, salt, pbkdf2Iterations, HashSize, sha256.New)
	ok := subtle.ConstantTimeCompare(computed, hash) == 1
	Wipe(computed)
	return ok
}

var fakeSalt = []byte("orion.fake-verify.fixed-salt.not-a-secret.timing-equalizer......")

// FakeVerify burns the same KDF cost as a real verification. Called on
// unknown usernames so login latency does not reveal account existence.
func FakeVerify() {
	h := pbkdf2.Key([]byte("fake-password"), fakeSalt, pbkdf2Iterations, HashSize, sha256.New)
	Wipe(h)
}
