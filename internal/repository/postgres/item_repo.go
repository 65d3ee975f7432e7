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

// ItemRepo implements ItemRepository using PostgreSQL: items, their
// append-only history, and the per-vault change log all live behind one
// repository because every mutation must write all three atomically
// (spec.md §4.3's guarantee that history/change-log append share the item
// mutation's transaction).
type ItemRepo struct{ db *DB }

// NewItemRepo constructs an item repository.
func NewItemRepo(db *DB) *ItemRepo { return &ItemRepo{db: db} }

const itemCols = `id, vault_id, path, name, type_id, tags, favorite, payload_enc, checksum,
	version, row_version, device_id, sync_status, deleted_at, deleted_by_user_id, deleted_by_device_id,
	created_at, updated_at`

func scanItem(row pgx.Row) (*model.Item, error) {
	var it model.Item
	err := row.Scan(&it.ID, &it.VaultID, &it.Path, &it.Name, &it.TypeID, &it.Tags, &it.Favorite,
		&it.PayloadEnc, &it.Checksum, &it.Version, &it.RowVersion, &it.DeviceID, &it.SyncStatus,
		&it.DeletedAt, &it.DeletedByUser, &it.DeletedByDev, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &it, nil
}

// GetByID returns a single item by id.
func (r *ItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	const q = `SELECT ` + itemCols + ` FROM items WHERE id=$1`
	return scanItem(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByVaultPath returns the live item at path within a vault.
func (r *ItemRepo) GetByVaultPath(ctx context.Context, vaultID uuid.UUID, path string) (*model.Item, error) {
	const q = `SELECT ` + itemCols + ` FROM items WHERE vault_id=$1 AND path=$2 AND deleted_at IS NULL`
	return scanItem(r.db.Pool.QueryRow(ctx, q, vaultID, path))
}

// ListByVault lists items in a vault.
func (r *ItemRepo) ListByVault(ctx context.Context, vaultID uuid.UUID, includeDeleted bool) ([]model.Item, error) {
	q := `SELECT ` + itemCols + ` FROM items WHERE vault_id=$1`
	if !includeDeleted {
		q += ` AND deleted_at IS NULL`
	}
	q += ` ORDER BY path ASC`
	rows, err := r.db.Pool.Query(ctx, q, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// appendChange assigns the next strictly increasing seq for vaultID and
// records one change-log row, all inside tx (spec.md §3.5).
func appendChange(ctx context.Context, tx pgx.Tx, vaultID, itemID uuid.UUID, op model.ChangeOp, version int64, deviceID uuid.NullUUID) (int64, error) {
	const seqQ = `
INSERT INTO vault_seq_counters (vault_id, last_seq) VALUES ($1, 1)
ON CONFLICT (vault_id) DO UPDATE SET last_seq = vault_seq_counters.last_seq + 1
RETURNING last_seq`
	var seq int64
	if err := tx.QueryRow(ctx, seqQ, vaultID).Scan(&seq); err != nil {
		return 0, err
	}
	const insQ = `INSERT INTO changes (seq, vault_id, item_id, op, version, device_id) VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := tx.Exec(ctx, insQ, seq, vaultID, itemID, op, version, nullUUIDArg(deviceID)); err != nil {
		return 0, err
	}
	return seq, nil
}

// insertHistory appends one append-only snapshot row (spec.md §3.4).
func insertHistory(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, version int64, payloadEnc []byte, checksum string, ct model.ChangeType, fieldsChanged []string, actor model.ActorSnapshot) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	const q = `
INSERT INTO item_history (id, item_id, version, payload_enc, checksum, change_type, fields_changed,
	actor_user_id, actor_email, actor_name, actor_device_id, actor_device_name)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = tx.Exec(ctx, q, id, itemID, version, payloadEnc, checksum, ct, fieldsChanged,
		actor.UserID, actor.Email, actor.Name, nullUUIDArg(actor.DeviceID), actor.DeviceName)
	return err
}

// pruneHistory keeps only the keep most-recent versions, deleting the oldest (spec.md §3.4, C10).
func pruneHistory(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, keep int) error {
	if keep <= 0 {
		return nil
	}
	const q = `
DELETE FROM item_history
WHERE item_id=$1 AND version NOT IN (
	SELECT version FROM item_history WHERE item_id=$1 ORDER BY version DESC LIMIT $2
)`
	_, err := tx.Exec(ctx, q, itemID, keep)
	return err
}

func nullUUIDArg(n uuid.NullUUID) any {
	if !n.Valid {
		return nil
	}
	return n.UUID
}

// Create inserts a new item at version 1 (spec.md §4.3/§4.4.2 "Create").
func (r *ItemRepo) Create(ctx context.Context, vaultID uuid.UUID, in repository.NewItem, keep int) (result model.Item, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Item{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	it := in.Item
	it.VaultID = vaultID
	it.Version = 1
	it.RowVersion = 1
	it.SyncStatus = model.StatusActive

	const insQ = `
INSERT INTO items (id, vault_id, path, name, type_id, tags, favorite, payload_enc, checksum,
	version, row_version, device_id, sync_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1,1,$10,$11)`
	_, err = tx.Exec(ctx, insQ, it.ID, it.VaultID, it.Path, it.Name, it.TypeID, it.Tags, it.Favorite,
		it.PayloadEnc, it.Checksum, nullUUIDArg(it.DeviceID), it.SyncStatus)
	if err != nil {
		if isUniqueViolation(err) {
			err = errs.New(errs.KindAlreadyExists, "item id or vault path already exists")
		}
		return model.Item{}, err
	}

	if err = insertHistory(ctx, tx, it.ID, 1, it.PayloadEnc, it.Checksum, model.ChangeCreate, nil, in.Actor); err != nil {
		return model.Item{}, err
	}
	if _, err = appendChange(ctx, tx, vaultID, it.ID, model.OpCreate, 1, it.DeviceID); err != nil {
		return model.Item{}, err
	}
	if err = pruneHistory(ctx, tx, it.ID, keep); err != nil {
		return model.Item{}, err
	}

	got, serr := scanItem(tx.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, it.ID))
	if serr != nil {
		err = serr
		return model.Item{}, err
	}
	return *got, nil
}

// Update applies an edit under an optimistic row_version check (spec.md §4.3/§4.4.2 "Update").
func (r *ItemRepo) Update(ctx context.Context, vaultID uuid.UUID, in repository.ItemUpdate, keep int) (result model.Item, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Item{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	const selQ = `SELECT ` + itemCols + ` FROM items WHERE id=$1 AND vault_id=$2 FOR UPDATE`
	cur, serr := scanItem(tx.QueryRow(ctx, selQ, in.ID, vaultID))
	if serr != nil {
		if errors.Is(serr, errs.ErrNotFound) {
			err = errs.New(errs.KindMissingItem, "item not found")
		} else {
			err = serr
		}
		return model.Item{}, err
	}
	if cur.DeletedAt != nil {
		err = errs.New(errs.KindMissingItem, "item is tombstoned")
		return model.Item{}, err
	}
	if cur.RowVersion != in.RowVersion {
		err = errs.New(errs.KindRowVersionConflict, "item row_version conflict")
		return model.Item{}, err
	}

	if in.Path != cur.Path {
		const collQ = `SELECT 1 FROM items WHERE vault_id=$1 AND path=$2 AND deleted_at IS NULL AND id<>$3 FOR UPDATE`
		var one int
		cerr := tx.QueryRow(ctx, collQ, vaultID, in.Path, in.ID).Scan(&one)
		if cerr == nil {
			err = errs.New(errs.KindAlreadyExists, "path already in use")
			return model.Item{}, err
		} else if !errors.Is(cerr, pgx.ErrNoRows) {
			err = cerr
			return model.Item{}, err
		}
	}

	payloadChanged := in.Checksum != cur.Checksum
	newVersion := cur.Version + 1
	newRowVersion := cur.RowVersion + 1

	if payloadChanged {
		if err = insertHistory(ctx, tx, in.ID, cur.Version, cur.PayloadEnc, cur.Checksum, model.ChangeUpdate, nil, in.Actor); err != nil {
			return model.Item{}, err
		}
	}

	const updQ = `
UPDATE items
SET path=$3, name=$4, type_id=$5, tags=$6, favorite=$7, payload_enc=$8, checksum=$9,
	version=$10, row_version=$11, device_id=$12, sync_status=$13, updated_at=now()
WHERE id=$1 AND vault_id=$2`
	_, err = tx.Exec(ctx, updQ, in.ID, vaultID, in.Path, in.Name, in.TypeID, in.Tags, in.Favorite,
		in.PayloadEnc, in.Checksum, newVersion, newRowVersion, nullUUIDArg(in.DeviceID), model.StatusActive)
	if err != nil {
		return model.Item{}, err
	}

	if _, err = appendChange(ctx, tx, vaultID, in.ID, model.OpUpdate, newVersion, in.DeviceID); err != nil {
		return model.Item{}, err
	}
	if payloadChanged {
		if err = pruneHistory(ctx, tx, in.ID, keep); err != nil {
			return model.Item{}, err
		}
	}

	got, serr := scanItem(tx.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, in.ID))
	if serr != nil {
		err = serr
		return model.Item{}, err
	}
	return *got, nil
}

// SoftDelete tombstones an item and appends a Delete history entry of the pre-delete snapshot.
func (r *ItemRepo) SoftDelete(ctx context.Context, vaultID, itemID uuid.UUID, rowVersion int64, actor model.ActorSnapshot, keep int) (result model.Item, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Item{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	const selQ = `SELECT ` + itemCols + ` FROM items WHERE id=$1 AND vault_id=$2 FOR UPDATE`
	cur, serr := scanItem(tx.QueryRow(ctx, selQ, itemID, vaultID))
	if serr != nil {
		if errors.Is(serr, errs.ErrNotFound) {
			err = errs.New(errs.KindMissingItem, "item not found")
		} else {
			err = serr
		}
		return model.Item{}, err
	}
	if cur.DeletedAt != nil {
		err = errs.New(errs.KindMissingItem, "item already deleted")
		return model.Item{}, err
	}
	if cur.RowVersion != rowVersion {
		err = errs.New(errs.KindRowVersionConflict, "item row_version conflict")
		return model.Item{}, err
	}

	if err = insertHistory(ctx, tx, itemID, cur.Version, cur.PayloadEnc, cur.Checksum, model.ChangeDelete, nil, actor); err != nil {
		return model.Item{}, err
	}

	newVersion := cur.Version + 1
	const updQ = `
UPDATE items
SET deleted_at=now(), deleted_by_user_id=$3, deleted_by_device_id=$4,
	version=$5, row_version=row_version+1, sync_status=$6
WHERE id=$1 AND vault_id=$2`
	_, err = tx.Exec(ctx, updQ, itemID, vaultID, actor.UserID, nullUUIDArg(actor.DeviceID), newVersion, model.StatusTombstone)
	if err != nil {
		return model.Item{}, err
	}
	if _, err = appendChange(ctx, tx, vaultID, itemID, model.OpDelete, newVersion, actor.DeviceID); err != nil {
		return model.Item{}, err
	}
	if err = pruneHistory(ctx, tx, itemID, keep); err != nil {
		return model.Item{}, err
	}

	got, serr := scanItem(tx.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, itemID))
	if serr != nil {
		err = serr
		return model.Item{}, err
	}
	return *got, nil
}

// Restore reverses a tombstone (shared vaults only; enforced by the caller).
func (r *ItemRepo) Restore(ctx context.Context, vaultID, itemID uuid.UUID, rowVersion int64, actor model.ActorSnapshot, keep int) (result model.Item, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Item{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	const selQ = `SELECT ` + itemCols + ` FROM items WHERE id=$1 AND vault_id=$2 FOR UPDATE`
	cur, serr := scanItem(tx.QueryRow(ctx, selQ, itemID, vaultID))
	if serr != nil {
		if errors.Is(serr, errs.ErrNotFound) {
			err = errs.New(errs.KindMissingItem, "item not found")
		} else {
			err = serr
		}
		return model.Item{}, err
	}
	if cur.DeletedAt == nil {
		err = errs.New(errs.KindMissingItem, "item is not tombstoned")
		return model.Item{}, err
	}
	if cur.RowVersion != rowVersion {
		err = errs.New(errs.KindRowVersionConflict, "item row_version conflict")
		return model.Item{}, err
	}

	if err = insertHistory(ctx, tx, itemID, cur.Version, cur.PayloadEnc, cur.Checksum, model.ChangeRestore, nil, actor); err != nil {
		return model.Item{}, err
	}

	newVersion := cur.Version + 1
	const updQ = `
UPDATE items
SET deleted_at=NULL, deleted_by_user_id=NULL, deleted_by_device_id=NULL,
	version=$3, row_version=row_version+1, sync_status=$4
WHERE id=$1 AND vault_id=$2`
	_, err = tx.Exec(ctx, updQ, itemID, vaultID, newVersion, model.StatusActive)
	if err != nil {
		return model.Item{}, err
	}
	// ChangeOp has no Restore variant (spec.md §3.5); restores surface on the
	// change log as an Update, while the finer distinction lives in history.
	if _, err = appendChange(ctx, tx, vaultID, itemID, model.OpUpdate, newVersion, actor.DeviceID); err != nil {
		return model.Item{}, err
	}
	if err = pruneHistory(ctx, tx, itemID, keep); err != nil {
		return model.Item{}, err
	}

	got, serr := scanItem(tx.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, itemID))
	if serr != nil {
		err = serr
		return model.Item{}, err
	}
	return *got, nil
}

// PurgeTrash physically removes tombstoned items deleted before cutoff.
func (r *ItemRepo) PurgeTrash(ctx context.Context, vaultID uuid.UUID, cutoffUnixSeconds int64) (int, error) {
	cutoff := time.Unix(cutoffUnixSeconds, 0).UTC()
	const q = `DELETE FROM items WHERE vault_id=$1 AND deleted_at IS NOT NULL AND deleted_at < $2`
	tag, err := r.db.Pool.Exec(ctx, q, vaultID, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (model.ItemHistory, error) {
	var h model.ItemHistory
	err := row.Scan(&h.ID, &h.ItemID, &h.Version, &h.PayloadEnc, &h.Checksum, &h.ChangeType, &h.FieldsChanged,
		&h.Actor.UserID, &h.Actor.Email, &h.Actor.Name, &h.Actor.DeviceID, &h.Actor.DeviceName, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return model.ItemHistory{}, err
		}
		return model.ItemHistory{}, errs.ErrNotFound
	}
	return h, nil
}

// ListHistory returns up to limit most-recent history rows, newest first.
func (r *ItemRepo) ListHistory(ctx context.Context, itemID uuid.UUID, limit int) ([]model.ItemHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, item_id, version, payload_enc, checksum, change_type, fields_changed,
	actor_user_id, actor_email, actor_name, actor_device_id, actor_device_name, created_at
FROM item_history WHERE item_id=$1 ORDER BY version DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ItemHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetHistory returns a single history row at the given version.
func (r *ItemRepo) GetHistory(ctx context.Context, itemID uuid.UUID, version int64) (*model.ItemHistory, error) {
	const q = `
SELECT id, item_id, version, payload_enc, checksum, change_type, fields_changed,
	actor_user_id, actor_email, actor_name, actor_device_id, actor_device_name, created_at
FROM item_history WHERE item_id=$1 AND version=$2`
	h, err := scanHistory(r.db.Pool.QueryRow(ctx, q, itemID, version))
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// LastSeqForVault returns the current maximum change-log seq for a vault (0 if empty).
func (r *ItemRepo) LastSeqForVault(ctx context.Context, vaultID uuid.UUID) (int64, error) {
	const q = `SELECT COALESCE(last_seq, 0) FROM vault_seq_counters WHERE vault_id=$1`
	var seq int64
	err := r.db.Pool.QueryRow(ctx, q, vaultID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// ChangesSince returns up to limit changes with seq > sinceSeq, ordered ascending.
func (r *ItemRepo) ChangesSince(ctx context.Context, vaultID uuid.UUID, sinceSeq int64, limit int) ([]model.Change, error) {
	const q = `
SELECT seq, vault_id, item_id, op, version, device_id, created_at
FROM changes WHERE vault_id=$1 AND seq>$2 ORDER BY seq ASC LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, vaultID, sinceSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Change
	for rows.Next() {
		var c model.Change
		if err := rows.Scan(&c.Seq, &c.VaultID, &c.ItemID, &c.Op, &c.Version, &c.DeviceID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ repository.ItemRepository = (*ItemRepo)(nil)
