package localcache

import (
	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/crypto/keyhierarchy"
	"github.com/zann-project/zann/internal/errs"
)

func masterKeyFPMetadataKey(storageID string) string {
	return "expected_master_key_fp\x00" + storageID
}

// GuardMasterKey implements spec.md §4.2's expected-fingerprint guard. The
// first call for a storage records mk's fingerprint as the expectation and
// proceeds. On every later call, a fingerprint match proceeds unchanged; on
// a mismatch the guard falls back to probing wrappedVaultKey directly (the
// caller may simply have rotated its own MK and still hold a working key):
// a successful probe adopts the new fingerprint, a failing one returns
// errs.KindVaultLocked so the personal vault is treated as locked for this
// session. Shared vaults never call this: they unwrap server-side under the
// SMK and proceed unaffected by the caller's MK.
func (s *Store) GuardMasterKey(storageID string, vaultID uuid.UUID, mk envelope.Key, wrappedVaultKey envelope.Blob) error {
	key := masterKeyFPMetadataKey(storageID)
	expected, err := s.GetMetadata(key)
	if err != nil {
		return err
	}
	fp := envelope.KeyFingerprint(mk)
	if expected == nil {
		return s.SetMetadata(key, []byte(fp))
	}
	if string(expected) == fp {
		return nil
	}

	result, err := keyhierarchy.ProbeMasterKey(mk, vaultID, wrappedVaultKey)
	if err != nil {
		return err
	}
	if result != keyhierarchy.ProbeOK {
		return errs.New(errs.KindVaultLocked, "master key fingerprint changed: personal vault locked for this session")
	}
	return s.SetMetadata(key, []byte(fp))
}
