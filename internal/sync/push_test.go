package sync

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

func TestPush_AppliedAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	vaultID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())
	items := newFakeItemRepo()
	items.lastSeq[vaultID] = 9

	sr := &fakeSyncRepo{applyFn: func(_ context.Context, _ uuid.UUID, changes []repository.PushChange, _ model.ActorSnapshot, _ int) ([]model.Item, []repository.PushConflict, error) {
		if len(changes) != 1 {
			t.Fatalf("want 1 change forwarded, got %d", len(changes))
		}
		return []model.Item{{ID: itemID, VaultID: vaultID, Version: 1}}, nil, nil
	}}

	res, err := Push(ctx, sr, items, vaultID, []PushChangeInput{{ItemID: itemID, Operation: model.PendingCreate, Path: "/a", Checksum: "c"}}, model.ActorSnapshot{}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Conflicts) != 0 {
		t.Fatalf("want no conflicts, got %v", res.Conflicts)
	}
	if len(res.Applied) != 1 {
		t.Fatalf("want 1 applied item, got %d", len(res.Applied))
	}
	if res.NewCursor.Seq != 9 {
		t.Fatalf("want new_cursor=9, got %d", res.NewCursor.Seq)
	}
}

func TestPush_ConflictIsNotAGoError(t *testing.T) {
	ctx := context.Background()
	vaultID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())
	items := newFakeItemRepo()
	items.lastSeq[vaultID] = 3

	sr := &fakeSyncRepo{applyFn: func(_ context.Context, _ uuid.UUID, _ []repository.PushChange, _ model.ActorSnapshot, _ int) ([]model.Item, []repository.PushConflict, error) {
		return nil, []repository.PushConflict{{ItemID: itemID, Reason: errs.KindConcurrentModifica, ServerUpdatedAt: time.Now()}}, nil
	}}

	base := int64(1)
	res, err := Push(ctx, sr, items, vaultID, []PushChangeInput{{ItemID: itemID, Operation: model.PendingUpdate, BaseSeq: &base}}, model.ActorSnapshot{}, 5)
	if err != nil {
		t.Fatalf("a reported conflict must not surface as a Go error, got: %v", err)
	}
	if len(res.Applied) != 0 {
		t.Fatal("applied must be empty on conflict: all-or-nothing push")
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Reason != errs.KindConcurrentModifica {
		t.Fatalf("want one concurrent_modification conflict, got %+v", res.Conflicts)
	}
	if res.NewCursor.Seq != 3 {
		t.Fatalf("new_cursor must still be last_seq_for_vault after a rolled-back batch, got %d", res.NewCursor.Seq)
	}
}

func TestPush_InfraErrorPropagates(t *testing.T) {
	ctx := context.Background()
	vaultID := uuid.Must(uuid.NewV4())
	items := newFakeItemRepo()

	sr := &fakeSyncRepo{applyFn: func(_ context.Context, _ uuid.UUID, _ []repository.PushChange, _ model.ActorSnapshot, _ int) ([]model.Item, []repository.PushConflict, error) {
		return nil, nil, context.DeadlineExceeded
	}}

	_, err := Push(ctx, sr, items, vaultID, []PushChangeInput{{ItemID: uuid.Must(uuid.NewV4()), Operation: model.PendingCreate}}, model.ActorSnapshot{}, 5)
	if err == nil {
		t.Fatal("want a genuine infrastructure error to propagate")
	}
}
