package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
)

// CommitTransform is injected by the rotation service into
// RotationRepository.Commit: given the item's current payload_enc, it must
// decrypt the rotation candidate, splice it into the payload's password
// field, and return the new payload_enc/checksum. It runs inside the same
// database transaction as the row lock and version bump, so any error aborts
// the whole commit (spec.md §4.6: "reload FOR UPDATE ... re-encrypt the item
// payload ... bump item.version with optimistic row_version check").
type CommitTransform func(candidateEnc, currentPayloadEnc []byte) (newPayloadEnc []byte, checksum string, err error)

// RotationRepository manages the server-side rotation-in-flight row on shared
// items (spec.md §3.8, §4.6 — component C6).
type RotationRepository interface {
	// Get returns the rotation row for an item, or nil if state is absent.
	Get(ctx context.Context, itemID uuid.UUID) (*model.Rotation, error)
	// Start installs a candidate and moves state to Rotating. Returns an
	// errs.KindRotationInProgress error if a row is already Rotating and
	// force is false.
	Start(ctx context.Context, r model.Rotation, force bool) error
	// Abort clears the rotation row unconditionally, recording reason.
	Abort(ctx context.Context, itemID uuid.UUID, reason string) error
	// Commit locks the rotation row and the item row FOR UPDATE in one
	// transaction, invokes transform to compute the new payload, appends a
	// pre-commit history entry, bumps item.version under the rowVersion
	// optimistic check, prunes history to keep, and clears the rotation row.
	Commit(ctx context.Context, itemID uuid.UUID, rowVersion int64, actor model.ActorSnapshot, keep int, transform CommitTransform) (model.Item, error)
	// Now returns the current time; overridable in tests.
	Now() time.Time
}
