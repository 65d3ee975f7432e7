package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// VaultRepo implements VaultRepository using PostgreSQL.
type VaultRepo struct{ db *DB }

// NewVaultRepo constructs a vault repository.
func NewVaultRepo(db *DB) *VaultRepo { return &VaultRepo{db: db} }

const vaultCols = `id, slug, name, kind, encryption_type, vault_key_enc, cache_policy, tags, row_version, deleted_at, created_at, updated_at`

func scanVault(row pgx.Row) (*model.Vault, error) {
	var v model.Vault
	err := row.Scan(&v.ID, &v.Slug, &v.Name, &v.Kind, &v.Encryption, &v.VaultKeyEnc, &v.CachePolicy,
		&v.Tags, &v.RowVersion, &v.DeletedAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &v, nil
}

// Create inserts a new vault. kind/encryption_type must already satisfy
// VaultKind.Valid (enforced by the service layer, spec.md §3.2's invariant).
func (r *VaultRepo) Create(ctx context.Context, v *model.Vault) error {
	const q = `
INSERT INTO vaults (id, slug, name, kind, encryption_type, vault_key_enc, cache_policy, tags, row_version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1)`
	_, err := r.db.Pool.Exec(ctx, q, v.ID, v.Slug, v.Name, v.Kind, v.Encryption, v.VaultKeyEnc, v.CachePolicy, v.Tags)
	if isUniqueViolation(err) {
		return errs.New(errs.KindSlugTaken, "vault slug already in use")
	}
	return err
}

// GetByID loads a vault by id.
func (r *VaultRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Vault, error) {
	const q = `SELECT ` + vaultCols + ` FROM vaults WHERE id=$1`
	return scanVault(r.db.Pool.QueryRow(ctx, q, id))
}

// GetBySlug loads a vault by slug.
func (r *VaultRepo) GetBySlug(ctx context.Context, slug string) (*model.Vault, error) {
	const q = `SELECT ` + vaultCols + ` FROM vaults WHERE slug=$1`
	return scanVault(r.db.Pool.QueryRow(ctx, q, slug))
}

// ListByOwner lists the live vaults in which the user has a vault_members row.
func (r *VaultRepo) ListByOwner(ctx context.Context, userID uuid.UUID) ([]model.Vault, error) {
	const q = `
SELECT ` + vaultCols + `
FROM vaults v
WHERE v.deleted_at IS NULL
  AND (
    EXISTS (SELECT 1 FROM vault_members m WHERE m.vault_id = v.id AND m.user_id = $1)
  )
ORDER BY v.created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// Update applies a vault attribute change with optimistic row_version locking.
func (r *VaultRepo) Update(ctx context.Context, v *model.Vault) error {
	const q = `
UPDATE vaults
SET name=$3, cache_policy=$4, tags=$5, row_version=row_version+1, updated_at=now()
WHERE id=$1 AND row_version=$2`
	tag, err := r.db.Pool.Exec(ctx, q, v.ID, v.RowVersion, v.Name, v.CachePolicy, v.Tags)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindRowVersionConflict, "vault row_version conflict")
	}
	return nil
}

// SoftDelete tombstones a vault.
func (r *VaultRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE vaults SET deleted_at=$2, row_version=row_version+1 WHERE id=$1 AND deleted_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

var _ repository.VaultRepository = (*VaultRepo)(nil)
