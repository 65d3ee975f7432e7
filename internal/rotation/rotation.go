// Package rotation implements the server-side password rotation state
// machine for shared, server-encrypted items (spec.md §3.8, §4.6,
// component C6): absent -> Rotating -> {Stale, absent}. It sits on top of
// repository.RotationRepository, which owns the row lock and the
// transactional commit; this package owns policy (TTLs, candidate
// generation, the payload splice) and the implicit-staleness read rule.
package rotation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/crypto/keyhierarchy"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// VaultKeyResolver returns the unwrapped vault key for a shared vault. The
// caller (service wiring) holds the Server Master Key; this package never
// touches SMK material directly.
type VaultKeyResolver func(ctx context.Context, vaultID uuid.UUID) (envelope.Key, error)

// PasswordGenerator produces a fresh candidate secret per the rotation
// policy in effect. internal/secrets' generator satisfies this signature.
type PasswordGenerator func() (string, error)

// Status is the effective rotation state after applying the implicit
// TTL-based transitions spec.md §4.6 describes ("on any read").
type Status struct {
	State model.RotationState
	Row   *model.Rotation // nil when State is RotationAbsent
	// Expired marks the case spec.md §4.6 distinguishes from "never
	// started": a row existed but recover_until has now passed, so it
	// reads as RotationAbsent but recover/commit must answer
	// rotation_expired rather than rotation_missing.
	Expired bool
}

// Service orchestrates the rotation state machine for one vault key/resolver pair.
type Service struct {
	repo      repository.RotationRepository
	vaultKeys VaultKeyResolver
	genPw     PasswordGenerator
	rotTTL    time.Duration
	recoverT  time.Duration
}

// New constructs a Service. rotTTL is T_rot (how long a candidate stays
// Rotating before going Stale); recoverTTL is T_rec (the further window a
// Stale candidate remains recoverable).
func New(repo repository.RotationRepository, vaultKeys VaultKeyResolver, genPw PasswordGenerator, rotTTL, recoverTTL time.Duration) *Service {
	return &Service{repo: repo, vaultKeys: vaultKeys, genPw: genPw, rotTTL: rotTTL, recoverT: recoverTTL}
}

// effective applies the implicit now-vs-expiry transitions to a stored row.
func (s *Service) effective(row *model.Rotation) Status {
	if row == nil {
		return Status{State: model.RotationAbsent}
	}
	now := s.repo.Now()
	switch row.State {
	case model.RotationRotating:
		if now.After(row.ExpiresAt) {
			if now.After(row.RecoverUntil) {
				return Status{State: model.RotationAbsent, Expired: true}
			}
			return Status{State: model.RotationStale, Row: row}
		}
		return Status{State: model.RotationRotating, Row: row}
	case model.RotationStale:
		if now.After(row.RecoverUntil) {
			return Status{State: model.RotationAbsent, Expired: true}
		}
		return Status{State: model.RotationStale, Row: row}
	default:
		return Status{State: model.RotationAbsent}
	}
}

// GetStatus returns the effective rotation status for an item.
func (s *Service) GetStatus(ctx context.Context, itemID uuid.UUID) (Status, error) {
	row, err := s.repo.Get(ctx, itemID)
	if err != nil {
		return Status{}, err
	}
	return s.effective(row), nil
}

// Start stages a fresh candidate and moves the item to Rotating. force
// allows overwriting an already-Rotating candidate (spec.md §4.6's
// `start(force?)`); without force, a Rotating row yields rotation_in_progress.
func (s *Service) Start(ctx context.Context, vaultID, itemID uuid.UUID, startedBy uuid.UUID, force bool) error {
	status, err := s.GetStatus(ctx, itemID)
	if err != nil {
		return err
	}
	if status.State != model.RotationAbsent && !force {
		return errs.New(errs.KindRotationInProgress, "rotation already in flight")
	}

	vaultKey, err := s.vaultKeys(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("rotation start: resolve vault key: %w", err)
	}
	pw, err := s.genPw()
	if err != nil {
		return fmt.Errorf("rotation start: generate candidate: %w", err)
	}
	candidateEnc, err := envelope.Encrypt(vaultKey, []byte(pw), keyhierarchy.RotationAAD(vaultID, itemID, "candidate"))
	if err != nil {
		return errs.New(errs.KindEncryptFailed, "encrypt rotation candidate")
	}

	now := s.repo.Now()
	row := model.Rotation{
		ItemID: itemID, State: model.RotationRotating, CandidateEnc: candidateEnc,
		StartedAt: now, StartedBy: startedBy, ExpiresAt: now.Add(s.rotTTL), RecoverUntil: now.Add(s.rotTTL + s.recoverT),
	}
	return s.repo.Start(ctx, row, force)
}

// Abort clears any in-flight rotation, from any state, recording reason.
// It takes no force flag: the clear is always unconditional.
func (s *Service) Abort(ctx context.Context, itemID uuid.UUID, reason string) error {
	return s.repo.Abort(ctx, itemID, reason)
}

// Recover returns the candidate plaintext while the rotation is effectively
// Stale, so a client that missed the original commit window can still pick
// up the generated password (spec.md §4.6's `recover` transition).
func (s *Service) Recover(ctx context.Context, vaultID, itemID uuid.UUID) (string, error) {
	status, err := s.GetStatus(ctx, itemID)
	if err != nil {
		return "", err
	}
	switch status.State {
	case model.RotationAbsent:
		if status.Expired {
			return "", errs.New(errs.KindRotationExpired, "rotation candidate passed its recover window")
		}
		return "", errs.New(errs.KindRotationMissing, "no rotation in flight")
	case model.RotationRotating:
		return "", errs.New(errs.KindRotationNotActive, "rotation has not gone stale yet")
	}

	vaultKey, err := s.vaultKeys(ctx, vaultID)
	if err != nil {
		return "", fmt.Errorf("rotation recover: resolve vault key: %w", err)
	}
	pt, err := envelope.Decrypt(vaultKey, status.Row.CandidateEnc, keyhierarchy.RotationAAD(vaultID, itemID, "candidate"))
	if err != nil {
		return "", errs.New(errs.KindDecryptFailed, "decrypt rotation candidate")
	}
	return string(pt), nil
}

// passwordField is the JSON key Commit splices the rotated secret into
// (spec.md §4.6: "locate the item's single password field").
const passwordField = "password"

// Commit finalizes an in-flight (Rotating or Stale) rotation: decrypts the
// candidate, splices it into the item's payload, and delegates the
// transactional row-lock/version-bump/history/prune work to the repository.
func (s *Service) Commit(ctx context.Context, vaultID, itemID uuid.UUID, rowVersion int64, actor model.ActorSnapshot, keep int) (model.Item, error) {
	status, err := s.GetStatus(ctx, itemID)
	if err != nil {
		return model.Item{}, err
	}
	if status.State == model.RotationAbsent {
		if status.Expired {
			return model.Item{}, errs.New(errs.KindRotationExpired, "rotation candidate passed its recover window")
		}
		return model.Item{}, errs.New(errs.KindRotationMissing, "no rotation in flight")
	}

	vaultKey, err := s.vaultKeys(ctx, vaultID)
	if err != nil {
		return model.Item{}, fmt.Errorf("rotation commit: resolve vault key: %w", err)
	}

	transform := func(candidateEnc, currentPayloadEnc []byte) ([]byte, string, error) {
		candidatePt, err := envelope.Decrypt(vaultKey, candidateEnc, keyhierarchy.RotationAAD(vaultID, itemID, "candidate"))
		if err != nil {
			return nil, "", errs.New(errs.KindDecryptFailed, "decrypt rotation candidate")
		}
		currentPt, err := keyhierarchy.UnwrapPayload(vaultKey, vaultID, itemID, currentPayloadEnc)
		if err != nil {
			return nil, "", errs.New(errs.KindDecryptFailed, "decrypt current payload")
		}

		var fields map[string]any
		if err := json.Unmarshal(currentPt, &fields); err != nil {
			return nil, "", errs.New(errs.KindPasswordFieldMiss, "payload is not a JSON object")
		}
		if _, ok := fields[passwordField]; !ok {
			return nil, "", errs.New(errs.KindPasswordFieldMiss, "payload has no password field")
		}
		fields[passwordField] = string(candidatePt)

		newPt, err := json.Marshal(fields)
		if err != nil {
			return nil, "", errs.New(errs.KindEncryptFailed, "re-marshal payload")
		}
		newEnc, err := keyhierarchy.WrapPayload(vaultKey, vaultID, itemID, newPt)
		if err != nil {
			return nil, "", errs.New(errs.KindEncryptFailed, "re-encrypt payload")
		}
		return newEnc, envelope.Checksum(newEnc), nil
	}

	return s.repo.Commit(ctx, itemID, rowVersion, actor, keep, transform)
}
