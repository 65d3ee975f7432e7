package service

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// maxSlugLen mirrors the item path's name-length cap; vaults have no
// dedicated limit in spec.md, so the same bound is reused.
const maxSlugLen = 256

// CreateVaultInput is the validated input to VaultService.Create.
type CreateVaultInput struct {
	// ID, when non-nil, is used as the vault id instead of minting a new
	// one. Shared-vault creation needs the id before the transport layer
	// calls in here, since vault_key_enc for a Shared vault must be wrapped
	// under the Server Master Key and bound to the vault id via AAD before
	// this call is made (see httpapi.VaultKeyIssuer).
	ID          uuid.UUID
	Slug        string
	Name        string
	Kind        model.VaultKind
	Encryption  model.VaultEncryptionType
	VaultKeyEnc []byte
	CachePolicy model.CachePolicy
	Tags        []string
	OwnerID     uuid.UUID
}

// VaultService implements the direct vault CRUD surface:
// `GET|POST /v1/vaults`, `GET|PUT|DELETE /v1/vaults/:id`,
// `PUT /v1/vaults/:id/key` (spec.md §3.2, §6.1). It owns slug normalization
// and the kind/encryption pairing invariant; membership/ownership wiring is
// left to internal/access, which this service does not import.
type VaultService struct {
	vaults repository.VaultRepository
}

// NewVaultService constructs a VaultService.
func NewVaultService(vaults repository.VaultRepository) *VaultService {
	return &VaultService{vaults: vaults}
}

func normalizeSlug(raw string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(raw))
	if slug == "" {
		return "", errs.New(errs.KindInvalidSlug, "slug is empty")
	}
	if len(slug) > maxSlugLen {
		return "", errs.New(errs.KindInvalidSlug, "slug exceeds max length")
	}
	for _, r := range slug {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			continue
		}
		return "", errs.New(errs.KindInvalidSlug, "slug contains an invalid character")
	}
	return slug, nil
}

// Create inserts a new vault after validating the slug and the
// kind/encryption pairing (spec.md §3.2: "kind determines encryption type").
func (s *VaultService) Create(ctx context.Context, in CreateVaultInput) (model.Vault, error) {
	slug, err := normalizeSlug(in.Slug)
	if err != nil {
		return model.Vault{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return model.Vault{}, errs.New(errs.KindInvalidName, "name is empty")
	}
	if !in.Kind.Valid(in.Encryption) {
		return model.Vault{}, errs.New(errs.KindInvalidType, "vault kind/encryption pairing is invalid")
	}
	if len(in.VaultKeyEnc) == 0 {
		return model.Vault{}, errs.New(errs.KindMissingPayload, "vault_key_enc is required")
	}

	id := in.ID
	if id == uuid.Nil {
		var err error
		id, err = uuid.NewV7()
		if err != nil {
			return model.Vault{}, err
		}
	}
	v := &model.Vault{
		ID: id, Slug: slug, Name: in.Name, Kind: in.Kind, Encryption: in.Encryption,
		VaultKeyEnc: in.VaultKeyEnc, CachePolicy: in.CachePolicy, Tags: in.Tags,
	}
	if err := s.vaults.Create(ctx, v); err != nil {
		return model.Vault{}, err
	}
	return *v, nil
}

// Get returns a single vault by id.
func (s *VaultService) Get(ctx context.Context, id uuid.UUID) (*model.Vault, error) {
	if id == uuid.Nil {
		return nil, errs.New(errs.KindInvalidPayload, "empty vault id")
	}
	return s.vaults.GetByID(ctx, id)
}

// GetBySlug returns a single vault by slug.
func (s *VaultService) GetBySlug(ctx context.Context, slug string) (*model.Vault, error) {
	slug, err := normalizeSlug(slug)
	if err != nil {
		return nil, err
	}
	return s.vaults.GetBySlug(ctx, slug)
}

// List lists vaults a user owns or is a member of.
func (s *VaultService) List(ctx context.Context, userID uuid.UUID) ([]model.Vault, error) {
	if userID == uuid.Nil {
		return nil, errs.New(errs.KindInvalidPayload, "empty user id")
	}
	return s.vaults.ListByOwner(ctx, userID)
}

// UpdateInput is the validated input to VaultService.Update: name/tags/cache
// policy are mutable; kind, encryption, and slug are not (spec.md has no
// rename-slug or re-kind operation).
type UpdateInput struct {
	ID          uuid.UUID
	RowVersion  int64
	Name        string
	CachePolicy model.CachePolicy
	Tags        []string
}

// Update applies a vault attribute change under optimistic row_version locking.
func (s *VaultService) Update(ctx context.Context, in UpdateInput) (model.Vault, error) {
	v, err := s.vaults.GetByID(ctx, in.ID)
	if err != nil {
		return model.Vault{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return model.Vault{}, errs.New(errs.KindInvalidName, "name is empty")
	}
	v.Name = in.Name
	v.CachePolicy = in.CachePolicy
	v.Tags = in.Tags
	v.RowVersion = in.RowVersion
	if err := s.vaults.Update(ctx, v); err != nil {
		return model.Vault{}, err
	}
	return *v, nil
}

// RotateKey re-wraps the vault key under a new envelope (spec.md's
// `PUT /v1/vaults/:id/key`: re-wrap after a master-key or SMK rotation).
func (s *VaultService) RotateKey(ctx context.Context, id uuid.UUID, rowVersion int64, vaultKeyEnc []byte) (model.Vault, error) {
	if len(vaultKeyEnc) == 0 {
		return model.Vault{}, errs.New(errs.KindMissingPayload, "vault_key_enc is required")
	}
	v, err := s.vaults.GetByID(ctx, id)
	if err != nil {
		return model.Vault{}, err
	}
	v.VaultKeyEnc = vaultKeyEnc
	v.RowVersion = rowVersion
	if err := s.vaults.Update(ctx, v); err != nil {
		return model.Vault{}, err
	}
	return *v, nil
}

// Delete tombstones a vault.
func (s *VaultService) Delete(ctx context.Context, id uuid.UUID, now time.Time) error {
	if id == uuid.Nil {
		return errs.New(errs.KindInvalidPayload, "empty vault id")
	}
	return s.vaults.SoftDelete(ctx, id, now)
}
