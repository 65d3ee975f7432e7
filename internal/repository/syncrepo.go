package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// PushChange is one change in a push batch, mirroring a client's pending
// change (spec.md §3.6) once it reaches the server.
type PushChange struct {
	ItemID     uuid.UUID
	Operation  model.PendingOp
	BaseSeq    *int64
	Path       string
	Name       string
	TypeID     string
	Tags       []string
	Favorite   bool
	PayloadEnc []byte
	Checksum   string
	DeviceID   uuid.NullUUID
}

// PushConflict reports why one change in a push batch could not be applied (spec.md §4.4.2).
type PushConflict struct {
	ItemID          uuid.UUID
	Reason          errs.Kind // concurrent_modification | already_exists | missing_item
	ServerUpdatedAt time.Time
}

// SyncRepository applies a push batch atomically: either every change lands
// or none do (spec.md §4.4.2, "intentional all-or-nothing push").
type SyncRepository interface {
	// ApplyPush runs the whole batch in one serializable transaction. On any
	// conflict the transaction is rolled back, conflicts is non-empty, and
	// err is nil: conflicts are a normal response, not a failure. err is
	// only non-nil on a genuine infrastructure failure, in which case
	// applied and conflicts are both meaningless.
	ApplyPush(ctx context.Context, vaultID uuid.UUID, changes []PushChange, actor model.ActorSnapshot, keep int) (applied []model.Item, conflicts []PushConflict, err error)
}
