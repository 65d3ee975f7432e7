package keyhierarchy

import (
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/crypto/envelope"
)

func TestWrapUnwrapVaultKey_WithMK(t *testing.T) {
	t.Parallel()
	mk, _ := envelope.RandomKey()
	vaultID := uuid.Must(uuid.NewV4())
	vaultKey, _ := envelope.RandomKey()

	wrapped, err := WrapVaultKeyWithMK(mk, vaultID, vaultKey)
	if err != nil {
		t.Fatalf("WrapVaultKeyWithMK: %v", err)
	}
	got, err := UnwrapVaultKeyWithMK(mk, vaultID, wrapped)
	if err != nil {
		t.Fatalf("UnwrapVaultKeyWithMK: %v", err)
	}
	if got != vaultKey {
		t.Fatalf("unwrapped vault key mismatch")
	}

	otherVault := uuid.Must(uuid.NewV4())
	if _, err := UnwrapVaultKeyWithMK(mk, otherVault, wrapped); err != envelope.ErrInvalidTag {
		t.Fatalf("expected ErrInvalidTag for wrong vault id, got %v", err)
	}
	otherMK, _ := envelope.RandomKey()
	if _, err := UnwrapVaultKeyWithMK(otherMK, vaultID, wrapped); err != envelope.ErrInvalidTag {
		t.Fatalf("expected ErrInvalidTag for wrong MK, got %v", err)
	}
}

func TestWrapUnwrapVaultKey_WithSMK(t *testing.T) {
	t.Parallel()
	smk, _ := envelope.RandomKey()
	vaultID := uuid.Must(uuid.NewV4())
	vaultKey, _ := envelope.RandomKey()

	wrapped, err := WrapVaultKeyWithSMK(smk, vaultID, vaultKey)
	if err != nil {
		t.Fatalf("WrapVaultKeyWithSMK: %v", err)
	}
	got, err := UnwrapVaultKeyWithSMK(smk, vaultID, wrapped)
	if err != nil {
		t.Fatalf("UnwrapVaultKeyWithSMK: %v", err)
	}
	if got != vaultKey {
		t.Fatalf("unwrapped vault key mismatch")
	}
}

func TestWrapUnwrapPayload_BindsVaultAndItem(t *testing.T) {
	t.Parallel()
	vaultKey, _ := envelope.RandomKey()
	vaultID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())
	payload := []byte(`{"password":"pw-1"}`)

	enc, err := WrapPayload(vaultKey, vaultID, itemID, payload)
	if err != nil {
		t.Fatalf("WrapPayload: %v", err)
	}
	got, err := UnwrapPayload(vaultKey, vaultID, itemID, enc)
	if err != nil {
		t.Fatalf("UnwrapPayload: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload roundtrip mismatch")
	}

	otherItem := uuid.Must(uuid.NewV4())
	if _, err := UnwrapPayload(vaultKey, vaultID, otherItem, enc); err != envelope.ErrInvalidTag {
		t.Fatalf("moving item between ids must be detected, got %v", err)
	}
	otherVault := uuid.Must(uuid.NewV4())
	if _, err := UnwrapPayload(vaultKey, otherVault, itemID, enc); err != envelope.ErrInvalidTag {
		t.Fatalf("moving item between vaults must be detected, got %v", err)
	}
}

func TestProbeMasterKey(t *testing.T) {
	t.Parallel()
	mk, _ := envelope.RandomKey()
	vaultID := uuid.Must(uuid.NewV4())
	vaultKey, _ := envelope.RandomKey()
	wrapped, _ := WrapVaultKeyWithMK(mk, vaultID, vaultKey)

	res, err := ProbeMasterKey(mk, vaultID, wrapped)
	if err != nil || res != ProbeOK {
		t.Fatalf("ProbeMasterKey(correct) = %v, %v", res, err)
	}

	wrongMK, _ := envelope.RandomKey()
	res, err = ProbeMasterKey(wrongMK, vaultID, wrapped)
	if err != nil || res != ProbeInvalidPassword {
		t.Fatalf("ProbeMasterKey(wrong) = %v, %v, want ProbeInvalidPassword/nil", res, err)
	}

	res, err = ProbeMasterKey(mk, vaultID, nil)
	if res != ProbeOtherError || err == nil {
		t.Fatalf("ProbeMasterKey(empty blob) = %v, %v, want ProbeOtherError/err", res, err)
	}
}

func TestRotationAAD_DistinguishesContext(t *testing.T) {
	t.Parallel()
	vaultKey, _ := envelope.RandomKey()
	vaultID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())

	blob, err := envelope.Encrypt(vaultKey, []byte("candidate-password"), RotationAAD(vaultID, itemID, "candidate"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := envelope.Decrypt(vaultKey, blob, RotationAAD(vaultID, itemID, "live")); err != envelope.ErrInvalidTag {
		t.Fatalf("different rotation contexts must not decrypt each other, got %v", err)
	}
	pt, err := envelope.Decrypt(vaultKey, blob, RotationAAD(vaultID, itemID, "candidate"))
	if err != nil || string(pt) != "candidate-password" {
		t.Fatalf("Decrypt with matching context failed: %q %v", pt, err)
	}
}
