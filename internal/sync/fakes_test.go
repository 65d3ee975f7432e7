package sync

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

type fakeItemRepo struct {
	byID     map[uuid.UUID]model.Item
	byVault  map[uuid.UUID][]model.Item
	history  map[uuid.UUID][]model.ItemHistory
	changes  map[uuid.UUID][]model.Change
	lastSeq  map[uuid.UUID]int64
	createFn func(ctx context.Context, vaultID uuid.UUID, in repository.NewItem, keep int) (model.Item, error)
	updateFn func(ctx context.Context, vaultID uuid.UUID, in repository.ItemUpdate, keep int) (model.Item, error)
}

var _ repository.ItemRepository = (*fakeItemRepo)(nil)

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{
		byID:    map[uuid.UUID]model.Item{},
		byVault: map[uuid.UUID][]model.Item{},
		history: map[uuid.UUID][]model.ItemHistory{},
		changes: map[uuid.UUID][]model.Change{},
		lastSeq: map[uuid.UUID]int64{},
	}
}

func (f *fakeItemRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Item, error) {
	it, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &it, nil
}

func (f *fakeItemRepo) GetByVaultPath(_ context.Context, vaultID uuid.UUID, path string) (*model.Item, error) {
	for _, it := range f.byVault[vaultID] {
		if it.Path == path && it.DeletedAt == nil {
			out := it
			return &out, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeItemRepo) ListByVault(_ context.Context, vaultID uuid.UUID, includeDeleted bool) ([]model.Item, error) {
	var out []model.Item
	for _, it := range f.byVault[vaultID] {
		if it.DeletedAt != nil && !includeDeleted {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeItemRepo) Create(ctx context.Context, vaultID uuid.UUID, in repository.NewItem, keep int) (model.Item, error) {
	if f.createFn != nil {
		return f.createFn(ctx, vaultID, in, keep)
	}
	return model.Item{}, nil
}

func (f *fakeItemRepo) Update(ctx context.Context, vaultID uuid.UUID, in repository.ItemUpdate, keep int) (model.Item, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, vaultID, in, keep)
	}
	return model.Item{}, nil
}

func (f *fakeItemRepo) SoftDelete(_ context.Context, _ uuid.UUID, _ uuid.UUID, _ int64, _ model.ActorSnapshot, _ int) (model.Item, error) {
	return model.Item{}, nil
}

func (f *fakeItemRepo) Restore(_ context.Context, _ uuid.UUID, _ uuid.UUID, _ int64, _ model.ActorSnapshot, _ int) (model.Item, error) {
	return model.Item{}, nil
}

func (f *fakeItemRepo) PurgeTrash(_ context.Context, _ uuid.UUID, _ int64) (int, error) {
	return 0, nil
}

func (f *fakeItemRepo) ListHistory(_ context.Context, itemID uuid.UUID, limit int) ([]model.ItemHistory, error) {
	h := f.history[itemID]
	if limit > 0 && len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func (f *fakeItemRepo) GetHistory(_ context.Context, itemID uuid.UUID, version int64) (*model.ItemHistory, error) {
	for _, h := range f.history[itemID] {
		if h.Version == version {
			out := h
			return &out, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeItemRepo) LastSeqForVault(_ context.Context, vaultID uuid.UUID) (int64, error) {
	return f.lastSeq[vaultID], nil
}

func (f *fakeItemRepo) ChangesSince(_ context.Context, vaultID uuid.UUID, sinceSeq int64, limit int) ([]model.Change, error) {
	var out []model.Change
	for _, ch := range f.changes[vaultID] {
		if ch.Seq > sinceSeq {
			out = append(out, ch)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeSyncRepo struct {
	applyFn func(ctx context.Context, vaultID uuid.UUID, changes []repository.PushChange, actor model.ActorSnapshot, keep int) ([]model.Item, []repository.PushConflict, error)
}

var _ repository.SyncRepository = (*fakeSyncRepo)(nil)

func (f *fakeSyncRepo) ApplyPush(ctx context.Context, vaultID uuid.UUID, changes []repository.PushChange, actor model.ActorSnapshot, keep int) ([]model.Item, []repository.PushConflict, error) {
	return f.applyFn(ctx, vaultID, changes, actor, keep)
}
