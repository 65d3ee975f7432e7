// Package localcache implements the client-local embedded cache (spec.md
// §4.5, §6.4, component C5): the sync_status state machine, pending-change
// coalescing, cache-key fingerprint discipline, and conflict materialization
// that sit between the sync protocol and whatever UI a client presents.
// Storage is an embedded bbolt database, one file per client profile,
// grounded on cuemby-warren's pkg/storage/boltdb.go bucket-per-entity layout.
package localcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

var (
	bucketItems    = []byte("local_items")
	bucketHistory  = []byte("local_item_history")
	bucketPending  = []byte("local_pending_changes")
	bucketCursors  = []byte("local_sync_cursors")
	bucketMetadata = []byte("local_metadata")
)

// Store wraps an embedded bbolt database holding one client profile's cache.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the cache file at path, ensuring every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("localcache: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketItems, bucketHistory, bucketPending, bucketCursors, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CachedItem is the client-local record of one item: the server's Item
// attributes plus the fingerprint of the key that produced PayloadEnc
// (spec.md §4.5, "Cache decrypt discipline").
type CachedItem struct {
	model.Item
	CacheKeyFP string
}

func itemKey(storageID string, vaultID, itemID uuid.UUID) []byte {
	return []byte(storageID + "\x00" + vaultID.String() + "\x00" + itemID.String())
}

func vaultPrefix(storageID string, vaultID uuid.UUID) []byte {
	return []byte(storageID + "\x00" + vaultID.String() + "\x00")
}

// PutItem upserts a cached item under its storage/vault/item key.
func (s *Store) PutItem(storageID string, vaultID uuid.UUID, item CachedItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("localcache: marshal item: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).Put(itemKey(storageID, vaultID, item.ID), data)
	})
}

// GetItem returns a cached item's plaintext-eligible record. currentKeyFP is
// the fingerprint of the key the caller intends to decrypt with; if it
// differs from the fingerprint recorded at write time, the read fails
// deterministically rather than attempting decryption with the wrong key
// (spec.md §4.5: "payload_decrypt_failed rather than silently trying
// alternate keys").
func (s *Store) GetItem(storageID string, vaultID, itemID uuid.UUID, currentKeyFP string) (*CachedItem, error) {
	var item CachedItem
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketItems).Get(itemKey(storageID, vaultID, itemID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, fmt.Errorf("localcache: get item: %w", err)
	}
	if !found {
		return nil, errs.ErrNotFound
	}
	if item.CacheKeyFP != "" && currentKeyFP != "" && item.CacheKeyFP != currentKeyFP {
		return nil, errs.New(errs.KindPayloadDecryptFailed, "cached item key fingerprint mismatch")
	}
	return &item, nil
}

// DeleteItem removes a cached item (used when a pulled change tombstones it
// past the point the client wants to keep a local shell record, or on a
// full cache discard).
func (s *Store) DeleteItem(storageID string, vaultID, itemID uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).Delete(itemKey(storageID, vaultID, itemID))
	})
}

// ListItems returns every cached item for one (storage, vault) pair.
func (s *Store) ListItems(storageID string, vaultID uuid.UUID) ([]CachedItem, error) {
	var out []CachedItem
	prefix := vaultPrefix(storageID, vaultID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketItems).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var item CachedItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localcache: list items: %w", err)
	}
	return out, nil
}

// DiscardVault removes every cached item, history row, pending change and
// cursor for one (storage, vault) pair (spec.md §4.4.4: "discards local
// cache for that storage and resyncs from scratch").
func (s *Store) DiscardVault(storageID string, vaultID uuid.UUID) error {
	prefix := vaultPrefix(storageID, vaultID)
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketItems, bucketHistory, bucketPending} {
			b := tx.Bucket(name)
			c := b.Cursor()
			var keys [][]byte
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				keys = append(keys, append([]byte(nil), k...))
			}
			for _, k := range keys {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return tx.Bucket(bucketCursors).Delete(cursorKey(storageID, vaultID))
	})
}

func historyKey(storageID string, vaultID, itemID uuid.UUID, version int64) []byte {
	return []byte(fmt.Sprintf("%s\x00%s\x00%s\x00%020d", storageID, vaultID, itemID, version))
}

// PutHistory stores one history_tail row pulled for an item.
func (s *Store) PutHistory(storageID string, vaultID, itemID uuid.UUID, h model.ItemHistory) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("localcache: marshal history: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).Put(historyKey(storageID, vaultID, itemID, h.Version), data)
	})
}

// ListHistory returns the cached history_tail for one item, oldest first.
func (s *Store) ListHistory(storageID string, vaultID, itemID uuid.UUID) ([]model.ItemHistory, error) {
	var out []model.ItemHistory
	prefix := []byte(storageID + "\x00" + vaultID.String() + "\x00" + itemID.String() + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var h model.ItemHistory
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			out = append(out, h)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localcache: list history: %w", err)
	}
	return out, nil
}

func cursorKey(storageID string, vaultID uuid.UUID) []byte {
	return []byte(storageID + "\x00" + vaultID.String())
}

// CursorRecord is the client-local (storage_id, vault_id) -> cursor mapping
// (spec.md §3.7).
type CursorRecord struct {
	Seq        int64
	LastSyncAt time.Time
}

// GetCursor returns the stored cursor for (storageID, vaultID), or the zero
// cursor if none has been recorded yet.
func (s *Store) GetCursor(storageID string, vaultID uuid.UUID) (CursorRecord, error) {
	var rec CursorRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCursors).Get(cursorKey(storageID, vaultID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return CursorRecord{}, fmt.Errorf("localcache: get cursor: %w", err)
	}
	return rec, nil
}

// SetCursor advances the stored cursor for (storageID, vaultID). Cursors are
// monotonic by construction of the sync protocol (each call passes the
// server's next_cursor), so this never needs a compare-and-swap.
func (s *Store) SetCursor(storageID string, vaultID uuid.UUID, rec CursorRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("localcache: marshal cursor: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).Put(cursorKey(storageID, vaultID), data)
	})
}

// ResetCursor clears the stored cursor, forcing a full resync on the next
// pull (spec.md §3.7: "a reset clears it and forces a full resync").
func (s *Store) ResetCursor(storageID string, vaultID uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).Delete(cursorKey(storageID, vaultID))
	})
}

// GetMetadata reads a single opaque client-local metadata value, e.g. the
// server_fingerprint or expected_master_key_fp configured for a storage
// (spec.md §6.4).
func (s *Store) GetMetadata(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMetadata).Get([]byte(key))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localcache: get metadata %s: %w", key, err)
	}
	return data, nil
}

// SetMetadata writes a single opaque client-local metadata value.
func (s *Store) SetMetadata(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put([]byte(key), value)
	})
}
