package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

var vaultColNames = []string{"id", "slug", "name", "kind", "encryption_type", "vault_key_enc",
	"cache_policy", "tags", "row_version", "deleted_at", "created_at", "updated_at"}

func vaultRow(v model.Vault) *pgxmock.Rows {
	return pgxmock.NewRows(vaultColNames).
		AddRow(v.ID, v.Slug, v.Name, v.Kind, v.Encryption, v.VaultKeyEnc, v.CachePolicy, v.Tags,
			v.RowVersion, v.DeletedAt, v.CreatedAt, v.UpdatedAt)
}

func TestVaultRepo_Create_OK_and_SlugTaken(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVaultRepo(db)
	ctx := context.Background()
	v := &model.Vault{ID: uuid.Must(uuid.NewV4()), Slug: "team-a", Name: "Team A",
		Kind: model.VaultShared, Encryption: model.EncryptionServer, CachePolicy: model.CacheDeny}

	mock.ExpectExec(`INSERT INTO vaults`).
		WithArgs(v.ID, v.Slug, v.Name, v.Kind, v.Encryption, v.VaultKeyEnc, v.CachePolicy, v.Tags).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, v))

	mock.ExpectExec(`INSERT INTO vaults`).
		WithArgs(v.ID, v.Slug, v.Name, v.Kind, v.Encryption, v.VaultKeyEnc, v.CachePolicy, v.Tags).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	err := r.Create(ctx, v)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindSlugTaken, kind)
}

func TestVaultRepo_GetBySlug_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVaultRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT ` + vaultCols + ` FROM vaults WHERE slug=\$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err := r.GetBySlug(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestVaultRepo_ListByOwner(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVaultRepo(db)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	vaultID := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT ` + vaultCols).
		WithArgs(userID).
		WillReturnRows(vaultRow(model.Vault{ID: vaultID, Slug: "me", Kind: model.VaultPersonal,
			Encryption: model.EncryptionClient, CreatedAt: time.Now(), UpdatedAt: time.Now()}))

	out, err := r.ListByOwner(ctx, userID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, vaultID, out[0].ID)
}

func TestVaultRepo_Update_RowVersionConflict(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVaultRepo(db)
	ctx := context.Background()
	v := &model.Vault{ID: uuid.Must(uuid.NewV4()), RowVersion: 1, Name: "new"}

	mock.ExpectExec(`UPDATE vaults`).
		WithArgs(v.ID, v.RowVersion, v.Name, v.CachePolicy, v.Tags).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := r.Update(ctx, v)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindRowVersionConflict, kind)
}

func TestVaultRepo_SoftDelete_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVaultRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	at := time.Now()

	mock.ExpectExec(`UPDATE vaults SET deleted_at=\$2`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := r.SoftDelete(ctx, id, at)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
