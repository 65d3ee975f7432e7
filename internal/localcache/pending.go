package localcache

import (
	"bytes"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
)

func pendingKey(storageID string, vaultID, itemID uuid.UUID) []byte {
	return itemKey(storageID, vaultID, itemID)
}

// Coalesce folds a new local edit into the existing pending change for the
// same item, per spec.md §3.6/§4.5. existing is nil if there is no pending
// change yet. drop is true when the fold is a net no-op that must remove any
// stored pending change entirely (a Delete arriving while a Create is still
// pending: the item never reached the server, so there is nothing to send).
func Coalesce(existing *model.PendingChange, edit model.PendingChange) (result *model.PendingChange, drop bool) {
	if existing == nil {
		e := edit
		return &e, false
	}

	if edit.Operation == model.PendingDelete {
		if existing.Operation == model.PendingCreate {
			return nil, true
		}
		out := edit
		out.ID = existing.ID
		out.BaseSeq = existing.BaseSeq
		out.CreatedAt = existing.CreatedAt
		return &out, false
	}

	// A further create/update/restore folds into whatever operation is
	// already pending: Create stays Create (no base_seq ever attaches to a
	// row the server has never seen), Update/Restore keep the first
	// observed base_seq so a conflict check still compares against the
	// version the client actually started editing from.
	out := *existing
	out.PayloadEnc = edit.PayloadEnc
	out.Checksum = edit.Checksum
	out.Path = edit.Path
	out.Name = edit.Name
	out.TypeID = edit.TypeID
	return &out, false
}

// getPending returns the stored pending change for an item, or nil if none.
func (s *Store) getPending(storageID string, vaultID, itemID uuid.UUID) (*model.PendingChange, error) {
	var pc model.PendingChange
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPending).Get(pendingKey(storageID, vaultID, itemID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &pc)
	})
	if err != nil {
		return nil, fmt.Errorf("localcache: get pending: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &pc, nil
}

// ApplyLocalEdit records a new local mutation against an item, coalescing it
// with any already-pending change, and returns the resulting stored state
// (nil if the fold dropped the pending change entirely).
func (s *Store) ApplyLocalEdit(storageID string, vaultID uuid.UUID, edit model.PendingChange) (*model.PendingChange, error) {
	existing, err := s.getPending(storageID, vaultID, edit.ItemID)
	if err != nil {
		return nil, err
	}
	result, drop := Coalesce(existing, edit)

	key := pendingKey(storageID, vaultID, edit.ItemID)
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		if drop {
			return b.Delete(key)
		}
		data, merr := json.Marshal(result)
		if merr != nil {
			return fmt.Errorf("marshal pending change: %w", merr)
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, fmt.Errorf("localcache: apply local edit: %w", err)
	}
	if drop {
		return nil, nil
	}
	return result, nil
}

// ClearPending removes the pending change for an item, called once the
// server has acknowledged its application (spec.md §3.6: "pending changes
// are consumed only after server acknowledges application").
func (s *Store) ClearPending(storageID string, vaultID, itemID uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Delete(pendingKey(storageID, vaultID, itemID))
	})
}

// ListPending returns every pending change for one (storage, vault) pair,
// the input to the next push batch.
func (s *Store) ListPending(storageID string, vaultID uuid.UUID) ([]model.PendingChange, error) {
	var out []model.PendingChange
	prefix := vaultPrefix(storageID, vaultID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPending).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var pc model.PendingChange
			if err := json.Unmarshal(v, &pc); err != nil {
				return err
			}
			out = append(out, pc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localcache: list pending: %w", err)
	}
	return out, nil
}
