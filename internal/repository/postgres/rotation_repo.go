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

// RotationRepo implements RotationRepository using PostgreSQL (spec.md §3.8, §4.6, C6).
// Commit reuses the item-history/change-log helpers so a rotation commit
// appends exactly like an ordinary item update.
type RotationRepo struct{ db *DB }

// NewRotationRepo constructs a rotation repository.
func NewRotationRepo(db *DB) *RotationRepo { return &RotationRepo{db: db} }

const rotationCols = `item_id, state, candidate_enc, started_at, started_by, expires_at, recover_until, aborted_reason`

func scanRotation(row pgx.Row) (*model.Rotation, error) {
	var rot model.Rotation
	err := row.Scan(&rot.ItemID, &rot.State, &rot.CandidateEnc, &rot.StartedAt, &rot.StartedBy,
		&rot.ExpiresAt, &rot.RecoverUntil, &rot.AbortedReason)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &rot, nil
}

// Get returns the rotation row for an item, or nil if state is absent.
func (r *RotationRepo) Get(ctx context.Context, itemID uuid.UUID) (*model.Rotation, error) {
	const q = `SELECT ` + rotationCols + ` FROM item_rotations WHERE item_id=$1`
	rot, err := scanRotation(r.db.Pool.QueryRow(ctx, q, itemID))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rot, nil
}

// Start installs a candidate and moves state to Rotating.
func (r *RotationRepo) Start(ctx context.Context, rot model.Rotation, force bool) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	const selQ = `SELECT state FROM item_rotations WHERE item_id=$1 FOR UPDATE`
	var existing model.RotationState
	selErr := tx.QueryRow(ctx, selQ, rot.ItemID).Scan(&existing)
	switch {
	case selErr == nil:
		if existing == model.RotationRotating && !force {
			err = errs.New(errs.KindRotationInProgress, "rotation already in progress")
			return err
		}
		const updQ = `
UPDATE item_rotations
SET state=$2, candidate_enc=$3, started_at=$4, started_by=$5, expires_at=$6, recover_until=$7, aborted_reason=''
WHERE item_id=$1`
		_, err = tx.Exec(ctx, updQ, rot.ItemID, model.RotationRotating, rot.CandidateEnc,
			rot.StartedAt, rot.StartedBy, rot.ExpiresAt, rot.RecoverUntil)
	case errors.Is(selErr, pgx.ErrNoRows):
		const insQ = `
INSERT INTO item_rotations (item_id, state, candidate_enc, started_at, started_by, expires_at, recover_until, aborted_reason)
VALUES ($1,$2,$3,$4,$5,$6,$7,'')`
		_, err = tx.Exec(ctx, insQ, rot.ItemID, model.RotationRotating, rot.CandidateEnc,
			rot.StartedAt, rot.StartedBy, rot.ExpiresAt, rot.RecoverUntil)
	default:
		err = selErr
	}
	return err
}

// Abort clears the rotation row unconditionally, recording reason.
func (r *RotationRepo) Abort(ctx context.Context, itemID uuid.UUID, reason string) error {
	const q = `UPDATE item_rotations SET state=$2, aborted_reason=$3 WHERE item_id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, itemID, model.RotationAbsent, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Commit locks the rotation row and the item row FOR UPDATE in one
// transaction, invokes transform to compute the new payload, appends a
// pre-commit history entry, bumps item.version under the rowVersion
// optimistic check, prunes history to keep, and clears the rotation row.
func (r *RotationRepo) Commit(ctx context.Context, itemID uuid.UUID, rowVersion int64, actor model.ActorSnapshot, keep int, transform repository.CommitTransform) (result model.Item, err error) {
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

	const selRotQ = `SELECT ` + rotationCols + ` FROM item_rotations WHERE item_id=$1 FOR UPDATE`
	rot, serr := scanRotation(tx.QueryRow(ctx, selRotQ, itemID))
	if serr != nil {
		if errors.Is(serr, errs.ErrNotFound) {
			err = errs.New(errs.KindRotationMissing, "no rotation in progress")
		} else {
			err = serr
		}
		return model.Item{}, err
	}
	if rot.State != model.RotationRotating {
		err = errs.New(errs.KindRotationMissing, "rotation is not active")
		return model.Item{}, err
	}

	const selItemQ = `SELECT ` + itemCols + ` FROM items WHERE id=$1 FOR UPDATE`
	item, serr := scanItem(tx.QueryRow(ctx, selItemQ, itemID))
	if serr != nil {
		err = serr
		return model.Item{}, err
	}
	if item.RowVersion != rowVersion {
		err = errs.New(errs.KindRowVersionConflict, "item row_version conflict")
		return model.Item{}, err
	}

	newPayloadEnc, checksum, terr := transform(rot.CandidateEnc, item.PayloadEnc)
	if terr != nil {
		err = terr
		return model.Item{}, err
	}

	if err = insertHistory(ctx, tx, itemID, item.Version, item.PayloadEnc, item.Checksum, model.ChangeUpdate, []string{"payload"}, actor); err != nil {
		return model.Item{}, err
	}

	newVersion := item.Version + 1
	const updQ = `
UPDATE items
SET payload_enc=$3, checksum=$4, version=$5, row_version=row_version+1, sync_status=$6, updated_at=now()
WHERE id=$1 AND vault_id=$2`
	_, err = tx.Exec(ctx, updQ, itemID, item.VaultID, newPayloadEnc, checksum, newVersion, model.StatusActive)
	if err != nil {
		return model.Item{}, err
	}
	if _, err = appendChange(ctx, tx, item.VaultID, itemID, model.OpUpdate, newVersion, actor.DeviceID); err != nil {
		return model.Item{}, err
	}
	if err = pruneHistory(ctx, tx, itemID, keep); err != nil {
		return model.Item{}, err
	}

	const clearQ = `UPDATE item_rotations SET state=$2, aborted_reason='' WHERE item_id=$1`
	if _, err = tx.Exec(ctx, clearQ, itemID, model.RotationAbsent); err != nil {
		return model.Item{}, err
	}

	got, serr := scanItem(tx.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, itemID))
	if serr != nil {
		err = serr
		return model.Item{}, err
	}
	return *got, nil
}

// Now returns the current time.
func (r *RotationRepo) Now() time.Time { return time.Now().UTC() }

var _ repository.RotationRepository = (*RotationRepo)(nil)
