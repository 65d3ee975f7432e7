package localcache

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

const conflictTimeLayout = "20060102-150405"

const maxConflictAttempts = 5

// MaterializeConflict writes a renamed sibling of original in Conflict
// state when a push returns a conflict for an item with a local pending
// create/update (spec.md §4.5, "Conflict materialization"). The sibling's
// path is suffixed with " (conflict YYYYMMDD-HHMMSS)"; if that candidate
// path is already taken, an attempt counter "-1".."-5" is appended. The
// original pending change is removed regardless of outcome, matching
// spec's "the original pending change is removed".
func (s *Store) MaterializeConflict(storageID string, vaultID uuid.UUID, original CachedItem, now time.Time) (CachedItem, error) {
	defer s.ClearPending(storageID, vaultID, original.ID)

	suffix := " (conflict " + now.Format(conflictTimeLayout) + ")"
	basePath := original.Path + suffix
	baseName := original.Name + suffix

	existing, err := s.ListItems(storageID, vaultID)
	if err != nil {
		return CachedItem{}, err
	}
	taken := make(map[string]bool, len(existing))
	for _, it := range existing {
		if it.DeletedAt == nil {
			taken[it.Path] = true
		}
	}

	path, name, err := firstFreePath(basePath, baseName, taken)
	if err != nil {
		return CachedItem{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return CachedItem{}, fmt.Errorf("localcache: new conflict item id: %w", err)
	}
	sibling := CachedItem{
		Item: model.Item{
			ID:         id,
			VaultID:    vaultID,
			Path:       path,
			Name:       name,
			TypeID:     original.TypeID,
			Tags:       original.Tags,
			Favorite:   original.Favorite,
			PayloadEnc: original.PayloadEnc,
			Checksum:   original.Checksum,
			Version:    original.Version,
			RowVersion: 1,
			SyncStatus: model.StatusConflict,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		CacheKeyFP: original.CacheKeyFP,
	}
	if err := s.PutItem(storageID, vaultID, sibling); err != nil {
		return CachedItem{}, err
	}
	return sibling, nil
}

func firstFreePath(basePath, baseName string, taken map[string]bool) (path, name string, err error) {
	if !taken[basePath] {
		return basePath, baseName, nil
	}
	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		candidatePath := fmt.Sprintf("%s-%d", basePath, attempt)
		if !taken[candidatePath] {
			return candidatePath, fmt.Sprintf("%s-%d", baseName, attempt), nil
		}
	}
	return "", "", errs.New(errs.KindAlreadyExists, "conflict sibling path exhausted after 5 attempts")
}
