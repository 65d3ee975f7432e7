package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// PutItemInput is the validated input to ItemService.Put (create-or-update
// by path, the direct REST surface distinct from the batch sync push path).
type PutItemInput struct {
	VaultID uuid.UUID
	// ID, when non-nil, is used as the new item's id instead of minting one.
	// A caller that encrypts payload_enc client-side must bind its AAD to
	// the item id before this call (keyhierarchy.WrapPayload), so it needs
	// to choose the id up front rather than learn it from the response.
	// Ignored when the (vault_id, path) pair already exists (that path
	// updates the existing item, whose id is fixed).
	ID         uuid.UUID
	Path       string
	TypeID     string
	Tags       []string
	Favorite   bool
	PayloadEnc []byte
	DeviceID   uuid.NullUUID
	Actor      model.ActorSnapshot
	// RowVersion is required for an update of an existing path, ignored for a create.
	RowVersion int64
	// IsFile selects the distinct 10 MiB file cap (repository.MaxFileBytes)
	// over the 1 MiB general payload cap (repository.MaxPayloadBytes) for
	// spec.md §4.3's size policy. Set by the file-upload route only.
	IsFile bool
}

// ItemService implements the direct (non-sync) item CRUD surface:
// `GET|POST /v1/vaults/:vid/items`, `GET|PUT|DELETE .../items/:iid`,
// `GET .../versions[?limit]`, `GET .../versions/:v`,
// `POST .../versions/:v/restore` (spec.md §6.1). It owns path/size policy
// validation (spec.md §4.3); everything else is delegated to
// repository.ItemRepository so every mutation gets the same
// history/change-log/prune guarantees as a sync push.
type ItemService struct {
	items        repository.ItemRepository
	historyLimit int
}

// NewItemService constructs an ItemService. historyLimit (K) is the
// keep-K retention depth applied on every mutating call.
func NewItemService(items repository.ItemRepository, historyLimit int) *ItemService {
	if historyLimit <= 0 {
		historyLimit = 5
	}
	return &ItemService{items: items, historyLimit: historyLimit}
}

// Get returns a single item by id.
func (s *ItemService) Get(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	if id == uuid.Nil {
		return nil, errs.New(errs.KindInvalidPayload, "empty item id")
	}
	return s.items.GetByID(ctx, id)
}

// List lists items in a vault.
func (s *ItemService) List(ctx context.Context, vaultID uuid.UUID, includeDeleted bool) ([]model.Item, error) {
	if vaultID == uuid.Nil {
		return nil, errs.New(errs.KindInvalidPayload, "empty vault id")
	}
	return s.items.ListByVault(ctx, vaultID, includeDeleted)
}

// Put creates an item at in.Path if none exists there, otherwise updates the
// existing one under the optimistic in.RowVersion check.
func (s *ItemService) Put(ctx context.Context, in PutItemInput) (model.Item, error) {
	path, name, err := repository.NormalizePath(in.Path)
	if err != nil {
		return model.Item{}, err
	}
	if in.IsFile {
		if err := repository.ValidateFileSize(in.PayloadEnc); err != nil {
			return model.Item{}, err
		}
	} else if err := repository.ValidatePayloadSize(in.PayloadEnc); err != nil {
		return model.Item{}, err
	}
	if len(in.PayloadEnc) == 0 {
		return model.Item{}, errs.New(errs.KindMissingPayload, "payload_enc is required")
	}
	checksum := envelope.Checksum(in.PayloadEnc)

	existing, err := s.items.GetByVaultPath(ctx, in.VaultID, path)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Item{}, fmt.Errorf("put: lookup existing: %w", err)
	}
	if existing == nil {
		id := in.ID
		if id == uuid.Nil {
			var uerr error
			id, uerr = uuid.NewV7()
			if uerr != nil {
				return model.Item{}, uerr
			}
		}
		return s.items.Create(ctx, in.VaultID, repository.NewItem{
			Item: model.Item{
				ID: id, VaultID: in.VaultID, Path: path, Name: name, TypeID: in.TypeID,
				Tags: in.Tags, Favorite: in.Favorite, PayloadEnc: in.PayloadEnc, Checksum: checksum,
				DeviceID: in.DeviceID,
			},
			Actor: in.Actor,
		}, s.historyLimit)
	}
	return s.items.Update(ctx, in.VaultID, repository.ItemUpdate{
		ID: existing.ID, RowVersion: in.RowVersion, Path: path, Name: name, TypeID: in.TypeID,
		Tags: in.Tags, Favorite: in.Favorite, PayloadEnc: in.PayloadEnc, Checksum: checksum,
		DeviceID: in.DeviceID, Actor: in.Actor,
	}, s.historyLimit)
}

// Delete soft-deletes an item.
func (s *ItemService) Delete(ctx context.Context, vaultID, itemID uuid.UUID, rowVersion int64, actor model.ActorSnapshot) (model.Item, error) {
	if vaultID == uuid.Nil || itemID == uuid.Nil {
		return model.Item{}, errs.New(errs.KindInvalidPayload, "empty vault/item id")
	}
	return s.items.SoftDelete(ctx, vaultID, itemID, rowVersion, actor, s.historyLimit)
}

// ListVersions returns up to limit history entries for an item, newest first.
func (s *ItemService) ListVersions(ctx context.Context, itemID uuid.UUID, limit int) ([]model.ItemHistory, error) {
	if itemID == uuid.Nil {
		return nil, errs.New(errs.KindInvalidPayload, "empty item id")
	}
	return s.items.ListHistory(ctx, itemID, limit)
}

// GetVersion returns a single history row at the given version.
func (s *ItemService) GetVersion(ctx context.Context, itemID uuid.UUID, version int64) (*model.ItemHistory, error) {
	if itemID == uuid.Nil {
		return nil, errs.New(errs.KindInvalidPayload, "empty item id")
	}
	return s.items.GetHistory(ctx, itemID, version)
}

// RestoreVersion reverses a tombstone (shared vaults only; the caller
// enforces that via internal/access before calling this).
func (s *ItemService) RestoreVersion(ctx context.Context, vaultID, itemID uuid.UUID, rowVersion int64, actor model.ActorSnapshot) (model.Item, error) {
	if vaultID == uuid.Nil || itemID == uuid.Nil {
		return model.Item{}, errs.New(errs.KindInvalidPayload, "empty vault/item id")
	}
	return s.items.Restore(ctx, vaultID, itemID, rowVersion, actor, s.historyLimit)
}
