// Package keyhierarchy implements the three-layer key hierarchy and AAD
// binding described in spec.md §4.2 (component C2):
//
//	master key (MK) --wrap--> vault key --wrap--> payload
//
// Personal vaults wrap their vault key under the owning user's MK; shared
// vaults wrap it under the server-held Server Master Key (SMK). Every wrap
// step binds an Associated Data string that names the object it protects, so
// moving ciphertext between objects (wrong vault, wrong item) is detected as
// an AEAD tag failure rather than silently accepted.
package keyhierarchy

import (
	"encoding/binary"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/crypto/envelope"
)

const (
	vaultKeyAADPrefix = "zann-vault-key:v1"
	payloadAADPrefix  = "zann-payload:v1"
	rotationAADPrefix = "zann-rotation:v1"
)

func vaultKeyAAD(vaultID uuid.UUID) []byte {
	b := vaultID.Bytes()
	out := make([]byte, 0, len(vaultKeyAADPrefix)+len(b))
	out = append(out, vaultKeyAADPrefix...)
	return append(out, b...)
}

func payloadAAD(vaultID, itemID uuid.UUID) []byte {
	vb, ib := vaultID.Bytes(), itemID.Bytes()
	out := make([]byte, 0, len(payloadAADPrefix)+len(vb)+len(ib))
	out = append(out, payloadAADPrefix...)
	out = append(out, vb...)
	return append(out, ib...)
}

// RotationAAD binds a rotation candidate to (vault_id, item_id, rotation_context)
// per spec.md §3.8. rotationContext distinguishes the candidate from the live payload.
func RotationAAD(vaultID, itemID uuid.UUID, rotationContext string) []byte {
	vb, ib := vaultID.Bytes(), itemID.Bytes()
	out := make([]byte, 0, len(rotationAADPrefix)+len(vb)+len(ib)+len(rotationContext))
	out = append(out, rotationAADPrefix...)
	out = append(out, vb...)
	out = append(out, ib...)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(rotationContext)))
	out = append(out, n[:]...)
	return append(out, rotationContext...)
}

// WrapVaultKeyWithMK wraps a freshly generated vault key under a personal
// vault owner's master key (spec.md §4.2 item 2, Personal case).
func WrapVaultKeyWithMK(mk envelope.Key, vaultID uuid.UUID, vaultKey envelope.Key) (envelope.Blob, error) {
	return envelope.Encrypt(mk, vaultKey[:], vaultKeyAAD(vaultID))
}

// UnwrapVaultKeyWithMK is the inverse of WrapVaultKeyWithMK. A wrong MK, wrong
// vaultID, or corrupted blob returns envelope.ErrInvalidTag.
func UnwrapVaultKeyWithMK(mk envelope.Key, vaultID uuid.UUID, wrapped envelope.Blob) (envelope.Key, error) {
	pt, err := envelope.Decrypt(mk, wrapped, vaultKeyAAD(vaultID))
	if err != nil {
		return envelope.Key{}, err
	}
	return toKey(pt)
}

// WrapVaultKeyWithSMK wraps a freshly generated vault key under the process-level
// Server Master Key for a shared vault (spec.md §4.2 item 2, Shared case).
func WrapVaultKeyWithSMK(smk envelope.Key, vaultID uuid.UUID, vaultKey envelope.Key) (envelope.Blob, error) {
	return envelope.Encrypt(smk, vaultKey[:], vaultKeyAAD(vaultID))
}

// UnwrapVaultKeyWithSMK is the server-side inverse for shared vaults: the
// server always derives the vault key by first decrypting vault_key_enc with
// the SMK (spec.md §4.2's shared-path invariant).
func UnwrapVaultKeyWithSMK(smk envelope.Key, vaultID uuid.UUID, wrapped envelope.Blob) (envelope.Key, error) {
	pt, err := envelope.Decrypt(smk, wrapped, vaultKeyAAD(vaultID))
	if err != nil {
		return envelope.Key{}, err
	}
	return toKey(pt)
}

// WrapPayload encrypts payload bytes under a vault key, binding (vault_id, item_id)
// per spec.md §4.2 item 3. Moving an item between vaults, or changing its id,
// without re-encryption is detected because the AAD no longer matches.
func WrapPayload(vaultKey envelope.Key, vaultID, itemID uuid.UUID, payload []byte) (envelope.Blob, error) {
	return envelope.Encrypt(vaultKey, payload, payloadAAD(vaultID, itemID))
}

// UnwrapPayload is the inverse of WrapPayload.
func UnwrapPayload(vaultKey envelope.Key, vaultID, itemID uuid.UUID, payloadEnc envelope.Blob) ([]byte, error) {
	return envelope.Decrypt(vaultKey, payloadEnc, payloadAAD(vaultID, itemID))
}

func toKey(b []byte) (envelope.Key, error) {
	if len(b) != envelope.KeyLen {
		return envelope.Key{}, envelope.ErrInvalidKeyLen
	}
	var k envelope.Key
	copy(k[:], b)
	return k, nil
}

// ProbeResult is the outcome of attempting to unlock a personal vault with a
// candidate master key (spec.md §4.2 "Master-key probe").
type ProbeResult int

const (
	ProbeOK ProbeResult = iota
	ProbeInvalidPassword
	ProbeOtherError
)

// ProbeMasterKey attempts to decrypt a personal vault's wrapped vault key
// with a candidate MK. A decrypt failure is reported distinctly
// (ProbeInvalidPassword -> "master_password_invalid") from any other error
// (ProbeOtherError -> "vault_get_failed"), matching spec.md §4.2.
func ProbeMasterKey(mk envelope.Key, vaultID uuid.UUID, wrappedVaultKey envelope.Blob) (ProbeResult, error) {
	if len(wrappedVaultKey) == 0 {
		return ProbeOtherError, envelope.ErrInvalidBlob
	}
	if _, err := UnwrapVaultKeyWithMK(mk, vaultID, wrappedVaultKey); err != nil {
		if err == envelope.ErrInvalidTag {
			return ProbeInvalidPassword, nil
		}
		return ProbeOtherError, err
	}
	return ProbeOK, nil
}
