package localcache

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/sync"
)

// ApplyPulled writes one pull response into the local cache: every changed
// item lands in Active state (a pull response always reflects the server's
// accepted state, never a local edit in flight), tombstones are removed
// from local_items, and the cursor advances to the page's next_cursor.
// keyFP is the fingerprint to stamp on cached items for the cache-key
// fingerprint guard (spec.md §4.5); pass "" for server-encrypted (shared
// vault) pulls, where the client never holds a key to check against.
func (s *Store) ApplyPulled(storageID string, vaultID uuid.UUID, result sync.PullResult, keyFP string, now time.Time) error {
	for _, entry := range result.Changes {
		if entry.Operation == model.OpDelete {
			if err := s.DeleteItem(storageID, vaultID, entry.ItemID); err != nil {
				return err
			}
			continue
		}

		payloadEnc := entry.PayloadEnc
		if payloadEnc == nil {
			payloadEnc = entry.Payload
		}
		item := CachedItem{
			Item: model.Item{
				ID:         entry.ItemID,
				VaultID:    vaultID,
				Path:       entry.Path,
				Name:       entry.Name,
				TypeID:     entry.TypeID,
				PayloadEnc: payloadEnc,
				Checksum:   entry.Checksum,
				SyncStatus: model.StatusActive,
				UpdatedAt:  entry.UpdatedAt,
			},
			CacheKeyFP: keyFP,
		}
		if err := s.PutItem(storageID, vaultID, item); err != nil {
			return err
		}

		for _, h := range entry.HistoryTail {
			hEnc := h.PayloadEnc
			if hEnc == nil {
				hEnc = h.Payload
			}
			hist := model.ItemHistory{
				ItemID:     entry.ItemID,
				Version:    h.Version,
				ChangeType: h.ChangeType,
				PayloadEnc: hEnc,
				Checksum:   h.Checksum,
				CreatedAt:  h.CreatedAt,
			}
			if err := s.PutHistory(storageID, vaultID, entry.ItemID, hist); err != nil {
				return err
			}
		}
	}

	return s.SetCursor(storageID, vaultID, CursorRecord{Seq: result.NextCursor.Seq, LastSyncAt: now})
}

func fingerprintMetadataKey(storageID string) string {
	return "server_fingerprint\x00" + storageID
}

// ReconcileServerFingerprint implements spec.md §4.4.4's reset-protection
// check: on a fingerprint mismatch with no pending local changes for
// vaultID, the cache is discarded and the new fingerprint adopted; with
// pending changes present, it refuses with server_fingerprint_changed so a
// client never silently loses unpushed edits against a re-initialized
// server.
func (s *Store) ReconcileServerFingerprint(storageID string, vaultID uuid.UUID, serverFingerprint string) error {
	key := fingerprintMetadataKey(storageID)
	stored, err := s.GetMetadata(key)
	if err != nil {
		return err
	}
	if stored == nil || string(stored) == serverFingerprint {
		return s.SetMetadata(key, []byte(serverFingerprint))
	}

	pending, err := s.ListPending(storageID, vaultID)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return errs.New(errs.KindServerFingerprintChanged, "server fingerprint changed with pending local changes")
	}

	if err := s.DiscardVault(storageID, vaultID); err != nil {
		return fmt.Errorf("localcache: discard vault on fingerprint reset: %w", err)
	}
	return s.SetMetadata(key, []byte(serverFingerprint))
}
