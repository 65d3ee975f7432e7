package main

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/crypto/keyhierarchy"
)

// resolveVaultKey fetches the vault's wrapped key and unwraps it with the
// locally cached Master Key. Only meaningful for a Personal vault: a Shared
// vault's vault_key_enc is wrapped under the SMK, which this process never
// holds, so item payloads in a shared vault are decrypted by the server
// (see the server's `representation=plain` file download and the secrets commands).
//
// Before unwrapping, it runs the expected-fingerprint guard (spec.md §4.2):
// the cached Master Key's fingerprint is compared against whatever this
// storage last saw, and a mismatch that also fails to decrypt the vault key
// locks the vault for this session (errs.KindVaultLocked) rather than
// producing a confusing AEAD failure downstream.
func resolveVaultKey(ctx context.Context, c *client, sess session, vaultID string) (envelope.Key, error) {
	id, err := uuid.FromString(vaultID)
	if err != nil {
		return envelope.Key{}, err
	}
	var v vaultDTO
	if err := c.get(ctx, "/v1/vaults/"+vaultID+"/", &v); err != nil {
		return envelope.Key{}, err
	}
	if v.Kind == "shared" {
		return envelope.Key{}, fmt.Errorf("vault %s is shared: its key is only ever unwrapped server-side", vaultID)
	}
	mk, err := loadMasterKey()
	if err != nil {
		return envelope.Key{}, err
	}

	cache, err := openLocalCache()
	if err != nil {
		return envelope.Key{}, err
	}
	defer cache.Close()
	if err := cache.GuardMasterKey(sess.UserID, id, mk, v.VaultKeyEnc); err != nil {
		return envelope.Key{}, err
	}

	return keyhierarchy.UnwrapVaultKeyWithMK(mk, id, v.VaultKeyEnc)
}
