// Package envelope implements the AEAD/KDF/hash primitives of the crypto
// envelope model (spec.md §4.1, component C1): key derivation, authenticated
// encryption with associated data, content checksums, and fingerprints.
//
// Keys are opaque 32-byte handles. Callers must not compare them by value
// outside this package; use Fingerprint for stable, non-reversible equality
// checks.
package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyLen is the size in bytes of every symmetric key in the hierarchy (MK, vault key, payload key).
	KeyLen = 32
	// SaltLen is the size in bytes of KDF salts.
	SaltLen = 32

	nonceLen = chacha20poly1305.NonceSizeX
)

// Key is an opaque symmetric key handle.
type Key [KeyLen]byte

// Zero overwrites k's bytes in place. Go cannot guarantee the compiler won't
// have copied the backing array elsewhere, but this covers the common case
// (caller holds the only copy) the same way the teacher's clientcrypto does
// by scoping keys tightly and never logging them.
func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Blob is a self-describing AEAD ciphertext: nonce || ciphertext || tag.
// Its raw bytes are exactly what gets stored as payload_enc / vault_key_enc.
type Blob []byte

// KDFAlgorithm identifies the memory-hard KDF algorithm used by DeriveMasterKey.
const KDFAlgorithm = "argon2id"

// Params is the KDF parameter tuple advertised to clients (spec.md §4.1, §6.1).
type Params struct {
	Algorithm   string
	Iterations  uint32
	MemoryKB    uint32
	Parallelism uint8
}

// DefaultParams returns the server's baseline KDF parameter tuple.
func DefaultParams() Params {
	return Params{Algorithm: KDFAlgorithm, Iterations: 3, MemoryKB: 64 * 1024, Parallelism: 1}
}

// ErrKinds mirror spec.md §4.1's crypto error kinds as sentinel-compatible values.
var (
	ErrInvalidBlob     = fmt.Errorf("invalid_blob")
	ErrInvalidKeyLen   = fmt.Errorf("invalid_key_length")
	ErrInvalidTag      = fmt.Errorf("invalid_tag")
	ErrKDFFailed       = fmt.Errorf("kdf_failed")
)

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("envelope: random bytes: %w", err)
	}
	return b, nil
}

// RandomKey returns a fresh random 32-byte key (vault key / DEK generation).
func RandomKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("envelope: random key: %w", ErrKDFFailed)
	}
	return k, nil
}

// RandomSalt returns a fresh 32-byte KDF salt.
func RandomSalt() ([]byte, error) { return RandomBytes(SaltLen) }

// DeriveMasterKey derives a 32-byte master key from a password and KDF parameters
// using Argon2id (spec.md §4.1's "memory-hard, three-parameter tuple").
func DeriveMasterKey(password, salt []byte, p Params) (Key, error) {
	if len(salt) == 0 {
		return Key{}, ErrKDFFailed
	}
	raw := argon2.IDKey(password, salt, p.Iterations, p.MemoryKB, p.Parallelism, KeyLen)
	var k Key
	copy(k[:], raw)
	return k, nil
}

// Encrypt seals plaintext under key with associated data aad, returning a
// self-describing blob (nonce || ciphertext || tag).
func Encrypt(key Key, plaintext, aad []byte) (Blob, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: new aead: %w", ErrInvalidKeyLen)
	}
	nonce, err := RandomBytes(nonceLen)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, nonceLen+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, aad)
	return Blob(out), nil
}

// Decrypt opens blob under key with associated data aad. A mismatched aad,
// key, or corrupted blob returns ErrInvalidTag (never retried with alternate
// keys — see spec.md §7's "never silently retried" propagation policy).
func Decrypt(key Key, blob Blob, aad []byte) ([]byte, error) {
	if len(blob) < nonceLen {
		return nil, ErrInvalidBlob
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: new aead: %w", ErrInvalidKeyLen)
	}
	nonce, ct := blob[:nonceLen], blob[nonceLen:]
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrInvalidTag
	}
	return pt, nil
}

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// Checksum returns the deterministic hex content hash stored alongside payload_enc
// (spec.md §3.3: "checksum = H(payload_enc)").
func Checksum(payloadEnc []byte) string {
	return hex.EncodeToString(Hash(payloadEnc))
}

// FingerprintLen is the number of hex characters kept from a fingerprint hash (spec.md GLOSSARY).
const FingerprintLen = 12

// Fingerprint returns the 12-hex-char prefix of H(data), used to compare keys
// or salts for equality without exposing their raw bytes.
func Fingerprint(data []byte) string {
	full := hex.EncodeToString(Hash(data))
	if len(full) < FingerprintLen {
		return full
	}
	return full[:FingerprintLen]
}

// KeyFingerprint is Fingerprint(key.bytes) — the master_key_fp / cache_key_fp of spec.md §4.2/§6.5.
func KeyFingerprint(k Key) string { return Fingerprint(k[:]) }
