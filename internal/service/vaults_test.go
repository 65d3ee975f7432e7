package service

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

type fakeVaults struct {
	byID   map[uuid.UUID]model.Vault
	bySlug map[string]uuid.UUID
}

var _ repository.VaultRepository = (*fakeVaults)(nil)

func newFakeVaults() *fakeVaults {
	return &fakeVaults{byID: map[uuid.UUID]model.Vault{}, bySlug: map[string]uuid.UUID{}}
}

func (f *fakeVaults) Create(_ context.Context, v *model.Vault) error {
	if _, exists := f.bySlug[v.Slug]; exists {
		return errs.ErrAlreadyExists
	}
	v.RowVersion = 1
	f.byID[v.ID] = *v
	f.bySlug[v.Slug] = v.ID
	return nil
}

func (f *fakeVaults) GetByID(_ context.Context, id uuid.UUID) (*model.Vault, error) {
	v, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &v, nil
}

func (f *fakeVaults) GetBySlug(_ context.Context, slug string) (*model.Vault, error) {
	id, ok := f.bySlug[slug]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return f.GetByID(context.Background(), id)
}

func (f *fakeVaults) ListByOwner(_ context.Context, _ uuid.UUID) ([]model.Vault, error) {
	var out []model.Vault
	for _, v := range f.byID {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeVaults) Update(_ context.Context, v *model.Vault) error {
	existing, ok := f.byID[v.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if existing.RowVersion != v.RowVersion {
		return errs.ErrVersionConflict
	}
	v.RowVersion++
	f.byID[v.ID] = *v
	return nil
}

func (f *fakeVaults) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	v, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	v.DeletedAt = &at
	f.byID[id] = v
	return nil
}

func TestVaultService_Create_EnforcesKindEncryptionPairing(t *testing.T) {
	t.Parallel()
	svc := NewVaultService(newFakeVaults())
	_, err := svc.Create(context.Background(), CreateVaultInput{
		Slug: "personal-1", Name: "Personal", Kind: model.VaultPersonal, Encryption: model.EncryptionServer,
		VaultKeyEnc: []byte("wrapped"),
	})
	if kind, ok := errs.KindOf(err); !ok || kind != errs.KindInvalidType {
		t.Fatalf("want invalid_type for mismatched kind/encryption, got kind=%v ok=%v err=%v", kind, ok, err)
	}
}

func TestVaultService_Create_NormalizesSlugAndRoundTrips(t *testing.T) {
	t.Parallel()
	svc := NewVaultService(newFakeVaults())
	v, err := svc.Create(context.Background(), CreateVaultInput{
		Slug: "  My-Vault_1  ", Name: "My Vault", Kind: model.VaultShared, Encryption: model.EncryptionServer,
		VaultKeyEnc: []byte("wrapped"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.Slug != "my-vault_1" {
		t.Fatalf("want normalized slug, got %q", v.Slug)
	}

	got, err := svc.GetBySlug(context.Background(), "My-Vault_1")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if got.ID != v.ID {
		t.Fatalf("slug lookup returned a different vault")
	}
}

func TestVaultService_Update_OptimisticLock(t *testing.T) {
	t.Parallel()
	svc := NewVaultService(newFakeVaults())
	v, err := svc.Create(context.Background(), CreateVaultInput{
		Slug: "v1", Name: "V1", Kind: model.VaultPersonal, Encryption: model.EncryptionClient,
		VaultKeyEnc: []byte("wrapped"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Update(context.Background(), UpdateInput{ID: v.ID, RowVersion: v.RowVersion, Name: "V1 renamed"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := svc.Update(context.Background(), UpdateInput{ID: v.ID, RowVersion: v.RowVersion, Name: "stale write"}); err != errs.ErrVersionConflict {
		t.Fatalf("want ErrVersionConflict on stale row_version, got %v", err)
	}
}

func TestVaultService_Delete_SetsTombstone(t *testing.T) {
	t.Parallel()
	repo := newFakeVaults()
	svc := NewVaultService(repo)
	v, err := svc.Create(context.Background(), CreateVaultInput{
		Slug: "v1", Name: "V1", Kind: model.VaultPersonal, Encryption: model.EncryptionClient,
		VaultKeyEnc: []byte("wrapped"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(context.Background(), v.ID, time.Now()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := svc.Get(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DeletedAt == nil {
		t.Fatalf("want DeletedAt set after Delete")
	}
}
