package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
)

// NewItem is the input to ItemRepository.Create: a fresh item plus the actor
// snapshot that will be denormalized onto its first history entry.
type NewItem struct {
	Item  model.Item
	Actor model.ActorSnapshot
}

// ItemUpdate is the input to ItemRepository.Update: the item's id, the caller's
// view of row_version (optimistic lock), and the new attributes.
type ItemUpdate struct {
	ID         uuid.UUID
	RowVersion int64
	Path       string
	Name       string
	TypeID     string
	Tags       []string
	Favorite   bool
	PayloadEnc []byte
	Checksum   string
	DeviceID   uuid.NullUUID
	Actor      model.ActorSnapshot
}

// ItemRepository provides versioned, history-tracked access to items within one
// vault (spec.md §3.3, §4.3 — component C3). Create, SoftDelete and Restore
// each append exactly one history row and one change-log row and prune
// history to keep; Update always appends one change-log row but appends and
// prunes history only when the payload changed. All of it happens within the
// same transaction as the item write (spec.md §4.10). PurgeTrash writes no
// history or change-log rows.
type ItemRepository interface {
	// GetByID returns a single item by id, regardless of vault.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Item, error)
	// GetByVaultPath returns the live (non-tombstoned) item at path within a vault.
	GetByVaultPath(ctx context.Context, vaultID uuid.UUID, path string) (*model.Item, error)
	// ListByVault lists items in a vault, optionally including tombstones.
	ListByVault(ctx context.Context, vaultID uuid.UUID, includeDeleted bool) ([]model.Item, error)

	// Create inserts a new item at version 1 and appends its Create history entry.
	Create(ctx context.Context, vaultID uuid.UUID, in NewItem, keep int) (model.Item, error)
	// Update applies an edit under an optimistic row_version check, appending an
	// Update history entry of the *previous* snapshot when the payload changed.
	Update(ctx context.Context, vaultID uuid.UUID, in ItemUpdate, keep int) (model.Item, error)
	// SoftDelete tombstones an item (does not physically remove it) and appends
	// a Delete history entry of the pre-delete snapshot.
	SoftDelete(ctx context.Context, vaultID, itemID uuid.UUID, rowVersion int64, actor model.ActorSnapshot, keep int) (model.Item, error)
	// Restore reverses a tombstone (shared vaults only; enforced by the caller)
	// and appends a Restore history entry of the pre-restore snapshot.
	Restore(ctx context.Context, vaultID, itemID uuid.UUID, rowVersion int64, actor model.ActorSnapshot, keep int) (model.Item, error)
	// PurgeTrash physically removes tombstoned items deleted before cutoff.
	PurgeTrash(ctx context.Context, vaultID uuid.UUID, cutoffUnixSeconds int64) (int, error)

	// ListHistory returns up to limit most-recent history rows for an item, newest first.
	ListHistory(ctx context.Context, itemID uuid.UUID, limit int) ([]model.ItemHistory, error)
	// GetHistory returns a single history row at the given version.
	GetHistory(ctx context.Context, itemID uuid.UUID, version int64) (*model.ItemHistory, error)

	// LastSeqForVault returns the current maximum change-log seq for a vault (0 if empty).
	LastSeqForVault(ctx context.Context, vaultID uuid.UUID) (int64, error)
	// ChangesSince returns up to limit changes with seq > sinceSeq, ordered by seq ascending.
	ChangesSince(ctx context.Context, vaultID uuid.UUID, sinceSeq int64, limit int) ([]model.Change, error)
}
