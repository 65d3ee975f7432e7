package sync

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// PushChangeInput is one change in a caller-submitted push batch, already
// translated from wire/client shape into the repository's domain types. For
// a server-encrypted (shared) vault, the caller must encrypt PayloadEnc
// before building this (sync never decrypts on the push path: pushed
// payloads are opaque to it either way).
type PushChangeInput struct {
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

// PushResult mirrors spec.md §4.4.2's response shape: conflicts is a normal,
// non-error outcome ("all-or-nothing push; clients must resolve and retry"),
// not a Go error.
type PushResult struct {
	Applied   []model.Item
	Conflicts []repository.PushConflict
	NewCursor Cursor
}

// Push applies a batch of changes to one vault inside a single serializable
// transaction (spec.md §4.4.2). Any conflict rolls back the whole batch;
// NewCursor is always last_seq_for_vault after the attempt, per spec.
func Push(ctx context.Context, sr repository.SyncRepository, items repository.ItemRepository, vaultID uuid.UUID, changes []PushChangeInput, actor model.ActorSnapshot, keep int) (PushResult, error) {
	in := make([]repository.PushChange, 0, len(changes))
	for _, c := range changes {
		in = append(in, repository.PushChange{
			ItemID:     c.ItemID,
			Operation:  c.Operation,
			BaseSeq:    c.BaseSeq,
			Path:       c.Path,
			Name:       c.Name,
			TypeID:     c.TypeID,
			Tags:       c.Tags,
			Favorite:   c.Favorite,
			PayloadEnc: c.PayloadEnc,
			Checksum:   c.Checksum,
			DeviceID:   c.DeviceID,
		})
	}

	applied, conflicts, err := sr.ApplyPush(ctx, vaultID, in, actor, keep)
	if err != nil {
		return PushResult{}, fmt.Errorf("push: apply batch: %w", err)
	}

	lastSeq, lerr := items.LastSeqForVault(ctx, vaultID)
	if lerr != nil {
		return PushResult{}, fmt.Errorf("push: last seq for vault: %w", lerr)
	}

	if len(conflicts) > 0 {
		return PushResult{Conflicts: conflicts, NewCursor: Cursor{Seq: lastSeq}}, nil
	}
	return PushResult{Applied: applied, NewCursor: Cursor{Seq: lastSeq}}, nil
}
