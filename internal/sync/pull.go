package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// maxPullLimit and minPullLimit bound the requested page size (spec.md
// §4.4.1: "limit ∈ [1, 500]").
const (
	minPullLimit = 1
	maxPullLimit = 500
)

// Decrypt converts a stored payload_enc into plaintext for the
// server-encrypted (shared vault) pull variant. Callers for client-encrypted
// vaults pass a nil Decrypt, in which case payload_enc is returned as-is.
type Decrypt func(itemID uuid.UUID, payloadEnc []byte) ([]byte, error)

// HistoryEntry is one row of a change's history_tail (spec.md §4.4.1).
type HistoryEntry struct {
	Version    int64
	ChangeType model.ChangeType
	PayloadEnc []byte // set when Decrypt is nil
	Payload    []byte // set when Decrypt is non-nil
	Checksum   string
	CreatedAt  time.Time
}

// PullEntry is one change row returned by Pull (spec.md §4.4.1). PayloadEnc
// is populated for client-encrypted vaults, Payload for server-encrypted
// ones; both are absent for Delete.
type PullEntry struct {
	ItemID      uuid.UUID
	Operation   model.ChangeOp
	Seq         int64
	UpdatedAt   time.Time
	Checksum    string
	PayloadEnc  []byte
	Payload     []byte
	Path        string
	Name        string
	TypeID      string
	HistoryTail []HistoryEntry
}

// PullResult is the full response shape of a pull call (spec.md §4.4.1, §4.4.3).
type PullResult struct {
	Changes       []PullEntry
	NextCursor    Cursor
	HasMore       bool
	PushAvailable bool
}

// PullInput parameterizes Pull. HistoryLimit is K, the per-item history_tail
// depth. Decrypt is non-nil only for the server-encrypted (shared vault)
// variant; PushAvailable reflects the caller's already-resolved access/lock
// decision (spec.md §4.7, §7's vault_locked) and is passed through verbatim.
type PullInput struct {
	VaultID       uuid.UUID
	Cursor        Cursor
	Limit         int
	HistoryLimit  int
	Decrypt       Decrypt
	PushAvailable bool
}

// Pull returns a cursor-bounded prefix of a vault's change log, emitting a
// synthetic baseline when the log is empty and the caller starts from
// since_seq=0 (spec.md §4.4.1, "Baseline emission"). Pull is idempotent: two
// calls with the same cursor return the same prefix, since it never mutates
// state.
func Pull(ctx context.Context, items repository.ItemRepository, in PullInput) (PullResult, error) {
	limit := in.Limit
	if limit < minPullLimit {
		limit = minPullLimit
	}
	if limit > maxPullLimit {
		limit = maxPullLimit
	}

	changes, err := items.ChangesSince(ctx, in.VaultID, in.Cursor.Seq, limit+1)
	if err != nil {
		return PullResult{}, fmt.Errorf("pull: load changes: %w", err)
	}

	if len(changes) == 0 && in.Cursor.Seq == 0 {
		return baselinePull(ctx, items, in)
	}

	hasMore := len(changes) > limit
	if hasMore {
		changes = changes[:limit]
	}

	out := make([]PullEntry, 0, len(changes))
	for _, ch := range changes {
		entry, err := buildEntry(ctx, items, in, ch.ItemID, ch.Op, ch.Seq)
		if err != nil {
			return PullResult{}, err
		}
		out = append(out, entry)
	}

	nextSeq := in.Cursor.Seq
	if len(changes) > 0 {
		nextSeq = changes[len(changes)-1].Seq
	}
	return PullResult{
		Changes:       out,
		NextCursor:    Cursor{Seq: nextSeq},
		HasMore:       hasMore,
		PushAvailable: in.PushAvailable,
	}, nil
}

// baselinePull emits one synthetic entry per live item, all stamped with the
// vault's current last_seq, so a client starting from a reset server
// converges to the live state in one page (spec.md §4.4.1).
func baselinePull(ctx context.Context, items repository.ItemRepository, in PullInput) (PullResult, error) {
	lastSeq, err := items.LastSeqForVault(ctx, in.VaultID)
	if err != nil {
		return PullResult{}, fmt.Errorf("pull: baseline last seq: %w", err)
	}
	live, err := items.ListByVault(ctx, in.VaultID, false)
	if err != nil {
		return PullResult{}, fmt.Errorf("pull: baseline list: %w", err)
	}

	limit := in.Limit
	if limit < minPullLimit {
		limit = minPullLimit
	}
	if limit > maxPullLimit {
		limit = maxPullLimit
	}
	hasMore := len(live) > limit
	if hasMore {
		live = live[:limit]
	}

	out := make([]PullEntry, 0, len(live))
	for _, it := range live {
		entry, err := buildEntry(ctx, items, in, it.ID, model.OpCreate, lastSeq)
		if err != nil {
			return PullResult{}, err
		}
		out = append(out, entry)
	}
	return PullResult{
		Changes:       out,
		NextCursor:    Cursor{Seq: lastSeq},
		HasMore:       hasMore,
		PushAvailable: in.PushAvailable,
	}, nil
}

// buildEntry sources a change row's payload/checksum from the item's
// *current* snapshot rather than attempting to reconstruct a true
// point-in-time intermediate payload: history rows record the pre-change
// state being overwritten, not the post-change result, so there is no
// recoverable "payload as of seq N" for an item with multiple queued
// changes. Clients apply changes idempotently by item_id, so serving the
// current snapshot for every same-item row in a page still converges.
func buildEntry(ctx context.Context, items repository.ItemRepository, in PullInput, itemID uuid.UUID, op model.ChangeOp, seq int64) (PullEntry, error) {
	item, err := items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// Item was purged from trash after this change was logged; the
			// client still needs the tombstone op to reconcile its cache.
			return PullEntry{ItemID: itemID, Operation: model.OpDelete, Seq: seq}, nil
		}
		return PullEntry{}, fmt.Errorf("pull: load item %s: %w", itemID, err)
	}

	entry := PullEntry{
		ItemID:    itemID,
		Operation: op,
		Seq:       seq,
		UpdatedAt: item.UpdatedAt,
		Checksum:  item.Checksum,
		Path:      item.Path,
		Name:      item.Name,
		TypeID:    item.TypeID,
	}
	if item.DeletedAt != nil {
		entry.Operation = model.OpDelete
	} else if err := attachPayload(&entry, in.Decrypt, itemID, item.PayloadEnc); err != nil {
		return PullEntry{}, err
	}

	hist, err := items.ListHistory(ctx, itemID, in.HistoryLimit)
	if err != nil {
		return PullEntry{}, fmt.Errorf("pull: load history %s: %w", itemID, err)
	}
	entry.HistoryTail = make([]HistoryEntry, 0, len(hist))
	for _, h := range hist {
		he := HistoryEntry{Version: h.Version, ChangeType: h.ChangeType, Checksum: h.Checksum, CreatedAt: h.CreatedAt}
		if in.Decrypt != nil {
			pt, err := in.Decrypt(itemID, h.PayloadEnc)
			if err != nil {
				return PullEntry{}, fmt.Errorf("pull: decrypt history %s v%d: %w", itemID, h.Version, err)
			}
			he.Payload = pt
		} else {
			he.PayloadEnc = h.PayloadEnc
		}
		entry.HistoryTail = append(entry.HistoryTail, he)
	}
	return entry, nil
}

func attachPayload(entry *PullEntry, decrypt Decrypt, itemID uuid.UUID, payloadEnc []byte) error {
	if decrypt == nil {
		entry.PayloadEnc = payloadEnc
		return nil
	}
	pt, err := decrypt(itemID, payloadEnc)
	if err != nil {
		return fmt.Errorf("pull: decrypt payload %s: %w", itemID, err)
	}
	entry.Payload = pt
	return nil
}
