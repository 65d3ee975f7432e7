package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// SyncRepo implements SyncRepository using PostgreSQL. It reuses ItemRepo's
// unexported transaction helpers so a pushed change appends history/change-log
// rows exactly like a direct item mutation (spec.md §4.4.2).
type SyncRepo struct{ db *DB }

// NewSyncRepo constructs a sync repository.
func NewSyncRepo(db *DB) *SyncRepo { return &SyncRepo{db: db} }

func lastSeqForItem(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (int64, error) {
	const q = `SELECT COALESCE(MAX(seq), 0) FROM changes WHERE item_id=$1`
	var seq int64
	err := tx.QueryRow(ctx, q, itemID).Scan(&seq)
	return seq, err
}

// ApplyPush runs the whole batch under serializable isolation (spec.md
// §4.4.2: "inside a single serializable transaction for the whole batch").
func (r *SyncRepo) ApplyPush(ctx context.Context, vaultID uuid.UUID, changes []repository.PushChange, actor model.ActorSnapshot, keep int) (applied []model.Item, conflicts []repository.PushConflict, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, nil, err
	}
	// txErr gates rollback-vs-commit; err (the named return) is what callers
	// see, and stays nil when the only reason to roll back is a reported
	// conflict rather than an infrastructure failure.
	var txErr error
	defer func() {
		if txErr != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	for _, ch := range changes {
		serverLastSeq, lerr := lastSeqForItem(ctx, tx, ch.ItemID)
		if lerr != nil {
			txErr, err = lerr, lerr
			return nil, nil, err
		}
		if ch.BaseSeq != nil && *ch.BaseSeq > 0 && serverLastSeq > *ch.BaseSeq {
			cur, _ := scanItem(tx.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, ch.ItemID))
			conflict := repository.PushConflict{ItemID: ch.ItemID, Reason: errs.KindConcurrentModifica}
			if cur != nil {
				conflict.ServerUpdatedAt = cur.UpdatedAt
			}
			conflicts = append(conflicts, conflict)
			continue
		}

		var (
			item model.Item
			aerr error
		)
		switch ch.Operation {
		case model.PendingCreate:
			item, aerr = applyCreate(ctx, tx, vaultID, ch, actor, keep)
		case model.PendingUpdate:
			item, aerr = applyUpdate(ctx, tx, vaultID, ch, actor, keep)
		case model.PendingDelete:
			item, aerr = applyDelete(ctx, tx, vaultID, ch, actor, keep)
		case model.PendingRestore:
			item, aerr = applyRestore(ctx, tx, vaultID, ch, actor, keep)
		}
		if aerr != nil {
			if kind, ok := errs.KindOf(aerr); ok {
				conflicts = append(conflicts, repository.PushConflict{ItemID: ch.ItemID, Reason: kind})
				continue
			}
			txErr, err = aerr, aerr
			return nil, nil, err
		}
		applied = append(applied, item)
	}

	if len(conflicts) > 0 {
		txErr = errs.New(errs.KindConcurrentModifica, "push batch has conflicts")
		return nil, conflicts, nil
	}
	return applied, nil, nil
}

func applyCreate(ctx context.Context, tx pgx.Tx, vaultID uuid.UUID, ch repository.PushChange, actor model.ActorSnapshot, keep int) (model.Item, error) {
	const insQ = `
INSERT INTO items (id, vault_id, path, name, type_id, tags, favorite, payload_enc, checksum, version, row_version, device_id, sync_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1,1,$10,$11)`
	_, err := tx.Exec(ctx, insQ, ch.ItemID, vaultID, ch.Path, ch.Name, ch.TypeID, ch.Tags, ch.Favorite,
		ch.PayloadEnc, ch.Checksum, nullUUIDArg(ch.DeviceID), model.StatusActive)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Item{}, errs.New(errs.KindAlreadyExists, "item id or vault path already exists")
		}
		return model.Item{}, err
	}
	if err := insertHistory(ctx, tx, ch.ItemID, 1, ch.PayloadEnc, ch.Checksum, model.ChangeCreate, nil, actor); err != nil {
		return model.Item{}, err
	}
	if _, err := appendChange(ctx, tx, vaultID, ch.ItemID, model.OpCreate, 1, ch.DeviceID); err != nil {
		return model.Item{}, err
	}
	if err := pruneHistory(ctx, tx, ch.ItemID, keep); err != nil {
		return model.Item{}, err
	}
	got, err := scanItem(tx.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, ch.ItemID))
	if err != nil {
		return model.Item{}, err
	}
	return *got, nil
}

func applyUpdate(ctx context.Context, tx pgx.Tx, vaultID uuid.UUID, ch repository.PushChange, actor model.ActorSnapshot, keep int) (model.Item, error) {
	const selQ = `SELECT ` + itemCols + ` FROM items WHERE id=$1 AND vault_id=$2`
	cur, err := scanItem(tx.QueryRow(ctx, selQ, ch.ItemID, vaultID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Item{}, errs.New(errs.KindMissingItem, "item not found")
		}
		return model.Item{}, err
	}
	if cur.DeletedAt != nil {
		return model.Item{}, errs.New(errs.KindMissingItem, "item is tombstoned")
	}
	if ch.Path != cur.Path {
		const collQ = `SELECT 1 FROM items WHERE vault_id=$1 AND path=$2 AND deleted_at IS NULL AND id<>$3`
		var one int
		cerr := tx.QueryRow(ctx, collQ, vaultID, ch.Path, ch.ItemID).Scan(&one)
		if cerr == nil {
			return model.Item{}, errs.New(errs.KindAlreadyExists, "path already in use")
		} else if !errors.Is(cerr, pgx.ErrNoRows) {
			return model.Item{}, cerr
		}
	}

	payloadChanged := ch.Checksum != cur.Checksum
	newVersion := cur.Version + 1
	if payloadChanged {
		if err := insertHistory(ctx, tx, ch.ItemID, cur.Version, cur.PayloadEnc, cur.Checksum, model.ChangeUpdate, nil, actor); err != nil {
			return model.Item{}, err
		}
	}

	const updQ = `
UPDATE items
SET path=$3, name=$4, type_id=$5, tags=$6, favorite=$7, payload_enc=$8, checksum=$9,
	version=$10, row_version=row_version+1, device_id=$11, sync_status=$12, updated_at=now()
WHERE id=$1 AND vault_id=$2`
	if _, err := tx.Exec(ctx, updQ, ch.ItemID, vaultID, ch.Path, ch.Name, ch.TypeID, ch.Tags, ch.Favorite,
		ch.PayloadEnc, ch.Checksum, newVersion, nullUUIDArg(ch.DeviceID), model.StatusActive); err != nil {
		return model.Item{}, err
	}
	if _, err := appendChange(ctx, tx, vaultID, ch.ItemID, model.OpUpdate, newVersion, ch.DeviceID); err != nil {
		return model.Item{}, err
	}
	if payloadChanged {
		if err := pruneHistory(ctx, tx, ch.ItemID, keep); err != nil {
			return model.Item{}, err
		}
	}
	got, err := scanItem(tx.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, ch.ItemID))
	if err != nil {
		return model.Item{}, err
	}
	return *got, nil
}

func applyDelete(ctx context.Context, tx pgx.Tx, vaultID uuid.UUID, ch repository.PushChange, actor model.ActorSnapshot, keep int) (model.Item, error) {
	const selQ = `SELECT ` + itemCols + ` FROM items WHERE id=$1 AND vault_id=$2`
	cur, err := scanItem(tx.QueryRow(ctx, selQ, ch.ItemID, vaultID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Item{}, errs.New(errs.KindMissingItem, "item not found")
		}
		return model.Item{}, err
	}
	if cur.DeletedAt != nil {
		return model.Item{}, errs.New(errs.KindMissingItem, "item already deleted")
	}
	if err := insertHistory(ctx, tx, ch.ItemID, cur.Version, cur.PayloadEnc, cur.Checksum, model.ChangeDelete, nil, actor); err != nil {
		return model.Item{}, err
	}
	newVersion := cur.Version + 1
	const updQ = `
UPDATE items
SET deleted_at=now(), deleted_by_user_id=$3, deleted_by_device_id=$4, version=$5, row_version=row_version+1, sync_status=$6
WHERE id=$1 AND vault_id=$2`
	if _, err := tx.Exec(ctx, updQ, ch.ItemID, vaultID, actor.UserID, nullUUIDArg(actor.DeviceID), newVersion, model.StatusTombstone); err != nil {
		return model.Item{}, err
	}
	if _, err := appendChange(ctx, tx, vaultID, ch.ItemID, model.OpDelete, newVersion, ch.DeviceID); err != nil {
		return model.Item{}, err
	}
	if err := pruneHistory(ctx, tx, ch.ItemID, keep); err != nil {
		return model.Item{}, err
	}
	got, err := scanItem(tx.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, ch.ItemID))
	if err != nil {
		return model.Item{}, err
	}
	return *got, nil
}

func applyRestore(ctx context.Context, tx pgx.Tx, vaultID uuid.UUID, ch repository.PushChange, actor model.ActorSnapshot, keep int) (model.Item, error) {
	const selQ = `SELECT ` + itemCols + ` FROM items WHERE id=$1 AND vault_id=$2`
	cur, err := scanItem(tx.QueryRow(ctx, selQ, ch.ItemID, vaultID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Item{}, errs.New(errs.KindMissingItem, "item not found")
		}
		return model.Item{}, err
	}
	if cur.DeletedAt == nil {
		return model.Item{}, errs.New(errs.KindMissingItem, "item is not tombstoned")
	}
	if err := insertHistory(ctx, tx, ch.ItemID, cur.Version, cur.PayloadEnc, cur.Checksum, model.ChangeRestore, nil, actor); err != nil {
		return model.Item{}, err
	}
	newVersion := cur.Version + 1
	const updQ = `
UPDATE items
SET deleted_at=NULL, deleted_by_user_id=NULL, deleted_by_device_id=NULL, version=$3, row_version=row_version+1, sync_status=$4
WHERE id=$1 AND vault_id=$2`
	if _, err := tx.Exec(ctx, updQ, ch.ItemID, vaultID, newVersion, model.StatusActive); err != nil {
		return model.Item{}, err
	}
	if _, err := appendChange(ctx, tx, vaultID, ch.ItemID, model.OpUpdate, newVersion, ch.DeviceID); err != nil {
		return model.Item{}, err
	}
	if err := pruneHistory(ctx, tx, ch.ItemID, keep); err != nil {
		return model.Item{}, err
	}
	got, err := scanItem(tx.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, ch.ItemID))
	if err != nil {
		return model.Item{}, err
	}
	return *got, nil
}

var _ repository.SyncRepository = (*SyncRepo)(nil)
