package sync

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
)

func TestPull_BaselineEmission(t *testing.T) {
	ctx := context.Background()
	repo := newFakeItemRepo()
	vaultID := uuid.Must(uuid.NewV4())
	item := model.Item{ID: uuid.Must(uuid.NewV4()), VaultID: vaultID, Path: "/a", Name: "a",
		Checksum: "c1", PayloadEnc: []byte("ct"), UpdatedAt: time.Now()}
	repo.byID[item.ID] = item
	repo.byVault[vaultID] = []model.Item{item}
	repo.lastSeq[vaultID] = 5

	res, err := Pull(ctx, repo, PullInput{VaultID: vaultID, Cursor: ZeroCursor, Limit: 50, HistoryLimit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("want 1 baseline change, got %d", len(res.Changes))
	}
	if res.Changes[0].Seq != 5 {
		t.Fatalf("want baseline seq 5, got %d", res.Changes[0].Seq)
	}
	if res.NextCursor.Seq != 5 {
		t.Fatalf("want next_cursor 5, got %d", res.NextCursor.Seq)
	}
	if res.HasMore {
		t.Fatal("want has_more=false for a single-item baseline")
	}
}

func TestPull_RegularPage_HasMoreAndNextCursor(t *testing.T) {
	ctx := context.Background()
	repo := newFakeItemRepo()
	vaultID := uuid.Must(uuid.NewV4())

	for i := int64(1); i <= 3; i++ {
		id := uuid.Must(uuid.NewV4())
		repo.byID[id] = model.Item{ID: id, VaultID: vaultID, Path: "/x", Checksum: "c", PayloadEnc: []byte("e"), UpdatedAt: time.Now()}
		repo.changes[vaultID] = append(repo.changes[vaultID], model.Change{Seq: i, VaultID: vaultID, ItemID: id, Op: model.OpCreate})
	}

	res, err := Pull(ctx, repo, PullInput{VaultID: vaultID, Cursor: ZeroCursor, Limit: 2, HistoryLimit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Changes) != 2 {
		t.Fatalf("want 2 changes for limit=2, got %d", len(res.Changes))
	}
	if !res.HasMore {
		t.Fatal("want has_more=true: 3 rows exist for limit=2")
	}
	if res.NextCursor.Seq != 2 {
		t.Fatalf("want next_cursor=2 (seq of last returned row), got %d", res.NextCursor.Seq)
	}
}

func TestPull_IdempotentOnSameCursor(t *testing.T) {
	ctx := context.Background()
	repo := newFakeItemRepo()
	vaultID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())
	repo.byID[id] = model.Item{ID: id, VaultID: vaultID, Path: "/x", Checksum: "c", PayloadEnc: []byte("e"), UpdatedAt: time.Now()}
	repo.changes[vaultID] = []model.Change{{Seq: 1, VaultID: vaultID, ItemID: id, Op: model.OpCreate}}

	in := PullInput{VaultID: vaultID, Cursor: ZeroCursor, Limit: 50, HistoryLimit: 5}
	first, err := Pull(ctx, repo, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Pull(ctx, repo, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.Changes) != len(second.Changes) || first.NextCursor != second.NextCursor {
		t.Fatal("repeating a pull with the same cursor must yield the same prefix")
	}
}

func TestPull_DeletedItemSourcesNoPayload(t *testing.T) {
	ctx := context.Background()
	repo := newFakeItemRepo()
	vaultID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())
	now := time.Now()
	repo.byID[id] = model.Item{ID: id, VaultID: vaultID, Path: "/x", Checksum: "c", DeletedAt: &now, UpdatedAt: now}
	repo.changes[vaultID] = []model.Change{{Seq: 1, VaultID: vaultID, ItemID: id, Op: model.OpDelete}}

	res, err := Pull(ctx, repo, PullInput{VaultID: vaultID, Cursor: ZeroCursor, Limit: 50, HistoryLimit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("want 1 change, got %d", len(res.Changes))
	}
	entry := res.Changes[0]
	if entry.Operation != model.OpDelete {
		t.Fatalf("want OpDelete, got %v", entry.Operation)
	}
	if entry.PayloadEnc != nil || entry.Payload != nil {
		t.Fatal("a Delete entry must carry no payload")
	}
}

func TestPull_ServerEncryptedVariantDecrypts(t *testing.T) {
	ctx := context.Background()
	repo := newFakeItemRepo()
	vaultID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())
	repo.byID[id] = model.Item{ID: id, VaultID: vaultID, Path: "/x", Checksum: "c", PayloadEnc: []byte("ct"), UpdatedAt: time.Now()}
	repo.changes[vaultID] = []model.Change{{Seq: 1, VaultID: vaultID, ItemID: id, Op: model.OpCreate}}

	decrypt := func(_ uuid.UUID, payloadEnc []byte) ([]byte, error) {
		return []byte("plain:" + string(payloadEnc)), nil
	}
	res, err := Pull(ctx, repo, PullInput{VaultID: vaultID, Cursor: ZeroCursor, Limit: 50, HistoryLimit: 5, Decrypt: decrypt})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Changes[0].Payload) != "plain:ct" {
		t.Fatalf("want decrypted payload, got %q", res.Changes[0].Payload)
	}
	if res.Changes[0].PayloadEnc != nil {
		t.Fatal("server-encrypted variant must not also carry payload_enc")
	}
}

func TestPull_ClampsLimit(t *testing.T) {
	ctx := context.Background()
	repo := newFakeItemRepo()
	vaultID := uuid.Must(uuid.NewV4())
	repo.lastSeq[vaultID] = 0

	res, err := Pull(ctx, repo, PullInput{VaultID: vaultID, Cursor: ZeroCursor, Limit: 10000, HistoryLimit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasMore {
		t.Fatal("empty vault must not report has_more")
	}
}
