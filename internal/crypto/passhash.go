// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"context"
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// maxConcurrentKDF bounds Argon2id calls in flight at once (spec.md §5's
// "counted permit pool"), so a login/unlock burst cannot starve the
// runtime's cooperative scheduler with CPU-bound KDF work.
const maxConcurrentKDF = 4

var kdfPermits = semaphore.NewWeighted(maxConcurrentKDF)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns Argon2id hash of password using the provided salt.
// Acquires a permit from the package-wide KDF pool first, blocking if
// maxConcurrentKDF calls are already running.
func HashPassword(password, salt []byte) []byte {
	_ = kdfPermits.Acquire(context.Background(), 1)
	defer kdfPermits.Release(1)
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
