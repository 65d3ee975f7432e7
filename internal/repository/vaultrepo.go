// Package repository defines storage interfaces implemented by concrete backends.
//
// The package deliberately does not prescribe a storage engine (spec.md §1
// treats "concrete storage engines" as a collaborator); internal/repository/postgres
// provides the one concrete implementation this repository ships.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
)

// VaultRepository provides CRUD access to vaults (spec.md §3.2, §4.3).
type VaultRepository interface {
	// Create inserts a new vault.
	Create(ctx context.Context, v *model.Vault) error
	// GetByID loads a vault by id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Vault, error)
	// GetBySlug loads a vault by slug.
	GetBySlug(ctx context.Context, slug string) (*model.Vault, error)
	// ListByOwner lists vaults a user owns or is a member of.
	ListByOwner(ctx context.Context, userID uuid.UUID) ([]model.Vault, error)
	// Update applies a vault attribute change with optimistic row_version locking.
	Update(ctx context.Context, v *model.Vault) error
	// SoftDelete tombstones a vault.
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}
