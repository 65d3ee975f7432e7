package envelope

import (
	"bytes"
	"testing"
)

func TestRandomBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()
	a, err := RandomBytes(32)
	if err != nil || len(a) != 32 {
		t.Fatalf("RandomBytes len/err: %d %v", len(a), err)
	}
	b, _ := RandomBytes(32)
	if bytes.Equal(a, b) {
		t.Fatalf("RandomBytes should not repeat")
	}
}

func TestDeriveMasterKey_DeterministicAndSaltDependent(t *testing.T) {
	t.Parallel()
	p := Params{Algorithm: KDFAlgorithm, Iterations: 1, MemoryKB: 8 * 1024, Parallelism: 1}
	pw := []byte("correct horse battery staple")
	s1 := []byte("salt-one-salt-one-salt-one-salt")
	s2 := []byte("salt-two-salt-two-salt-two-salt")

	k1, err := DeriveMasterKey(pw, s1, p)
	if err != nil {
		t.Fatalf("DeriveMasterKey: %v", err)
	}
	k2, err := DeriveMasterKey(pw, s1, p)
	if err != nil {
		t.Fatalf("DeriveMasterKey: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("DeriveMasterKey must be deterministic for same password+salt+params")
	}
	k3, _ := DeriveMasterKey(pw, s2, p)
	if k1 == k3 {
		t.Fatalf("DeriveMasterKey must change with salt")
	}
	k4, _ := DeriveMasterKey([]byte("different password"), s1, p)
	if k1 == k4 {
		t.Fatalf("DeriveMasterKey must change with password")
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	t.Parallel()
	key, err := RandomKey()
	if err != nil {
		t.Fatalf("RandomKey: %v", err)
	}
	aad := []byte("zann-payload:v1|vault-1|item-1")
	pt := []byte(`{"password":"hunter2"}`)

	blob, err := Encrypt(key, pt, aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(blob, pt) {
		t.Fatalf("ciphertext must differ from plaintext")
	}

	got, err := Decrypt(key, blob, aad)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, pt)
	}
}

func TestDecrypt_RejectsAADAndKeyMismatch(t *testing.T) {
	t.Parallel()
	key, _ := RandomKey()
	other, _ := RandomKey()
	aad := []byte("vault-1|item-1")
	blob, _ := Encrypt(key, []byte("secret"), aad)

	if _, err := Decrypt(key, blob, []byte("vault-1|item-2")); err != ErrInvalidTag {
		t.Fatalf("expected ErrInvalidTag on AAD mismatch, got %v", err)
	}
	if _, err := Decrypt(other, blob, aad); err != ErrInvalidTag {
		t.Fatalf("expected ErrInvalidTag on key mismatch, got %v", err)
	}
}

func TestDecrypt_RejectsShortBlob(t *testing.T) {
	t.Parallel()
	key, _ := RandomKey()
	if _, err := Decrypt(key, Blob{1, 2, 3}, nil); err != ErrInvalidBlob {
		t.Fatalf("expected ErrInvalidBlob, got %v", err)
	}
}

func TestChecksum_MatchesHash(t *testing.T) {
	t.Parallel()
	payload := []byte("payload-enc-bytes")
	c1 := Checksum(payload)
	c2 := Checksum(payload)
	if c1 != c2 {
		t.Fatalf("Checksum must be a pure function of its input")
	}
	if Checksum([]byte("different")) == c1 {
		t.Fatalf("Checksum should differ for different inputs")
	}
}

func TestFingerprint_StableAndShort(t *testing.T) {
	t.Parallel()
	k, _ := RandomKey()
	fp1 := KeyFingerprint(k)
	fp2 := KeyFingerprint(k)
	if fp1 != fp2 {
		t.Fatalf("KeyFingerprint must be a pure function of key bytes")
	}
	if len(fp1) != FingerprintLen {
		t.Fatalf("fingerprint length = %d, want %d", len(fp1), FingerprintLen)
	}
}
