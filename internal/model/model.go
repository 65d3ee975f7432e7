// Package model defines domain entities shared by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// IdentitySource distinguishes how a principal authenticated.
type IdentitySource int

const (
	IdentityInternal IdentitySource = iota
	IdentityOidc
	IdentityServiceAccount
)

// Identity is supplied by the collaborator (auth/session layer); the core trusts it.
type Identity struct {
	UserID           uuid.UUID
	Email            string
	Source           IdentitySource
	DeviceID         uuid.NullUUID
	ServiceAccountID uuid.NullUUID
}

// VaultKind distinguishes personal (client-encrypted) from shared (server-encrypted) vaults.
type VaultKind int

const (
	VaultPersonal VaultKind = iota
	VaultShared
)

// VaultEncryptionType records which key wraps the vault key.
type VaultEncryptionType int

const (
	EncryptionClient VaultEncryptionType = iota
	EncryptionServer
)

// Valid reports whether kind/encryption form one of the two allowed pairs (spec.md §3.2).
func (k VaultKind) Valid(enc VaultEncryptionType) bool {
	switch k {
	case VaultPersonal:
		return enc == EncryptionClient
	case VaultShared:
		return enc == EncryptionServer
	default:
		return false
	}
}

// CachePolicy controls whether a client is allowed to keep an offline mirror of a vault.
type CachePolicy int

const (
	CacheAllow CachePolicy = iota
	CacheDeny
)

// Vault is a named collection of items sharing one wrapped vault key.
type Vault struct {
	ID          uuid.UUID
	Slug        string
	Name        string
	Kind        VaultKind
	Encryption  VaultEncryptionType
	VaultKeyEnc []byte // wrapped under owner MK (personal) or SMK (shared)
	CachePolicy CachePolicy
	Tags        []string
	RowVersion  int64
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SyncStatus is the client-local lifecycle of a cached item (spec.md §4.5).
type SyncStatus int

const (
	StatusActive SyncStatus = iota
	StatusTombstone
	StatusModified
	StatusConflict
)

// Item is a single stored record: encrypted payload plus versioning/path metadata.
type Item struct {
	ID            uuid.UUID
	VaultID       uuid.UUID
	Path          string
	Name          string
	TypeID        string
	Tags          []string
	Favorite      bool
	PayloadEnc    []byte
	Checksum      string
	Version       int64
	RowVersion    int64
	DeviceID      uuid.NullUUID
	SyncStatus    SyncStatus
	DeletedAt     *time.Time
	DeletedByUser uuid.NullUUID
	DeletedByDev  uuid.NullUUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChangeType enumerates the kinds of history entries (spec.md §3.4).
type ChangeType int

const (
	ChangeCreate ChangeType = iota
	ChangeUpdate
	ChangeDelete
	ChangeRestore
)

// ActorSnapshot denormalizes the acting identity onto a history row so history
// remains readable even if the user/device is later removed (see SPEC_FULL.md §5).
type ActorSnapshot struct {
	UserID     uuid.UUID
	Email      string
	Name       string
	DeviceID   uuid.NullUUID
	DeviceName string
}

// ItemHistory is one append-only snapshot of an item at a prior version.
type ItemHistory struct {
	ID            uuid.UUID
	ItemID        uuid.UUID
	Version       int64
	PayloadEnc    []byte
	Checksum      string
	ChangeType    ChangeType
	FieldsChanged []string
	Actor         ActorSnapshot
	CreatedAt     time.Time
}

// ChangeOp enumerates the operations recorded in the per-vault change log.
type ChangeOp int

const (
	OpCreate ChangeOp = iota
	OpUpdate
	OpDelete
)

// Change is one row of the per-vault, strictly increasing change log (spec.md §3.5).
type Change struct {
	Seq       int64
	VaultID   uuid.UUID
	ItemID    uuid.UUID
	Op        ChangeOp
	Version   int64
	DeviceID  uuid.NullUUID
	CreatedAt time.Time
}

// RotationState enumerates the server-side rotation machine states (spec.md §3.8, C6).
type RotationState int

const (
	RotationAbsent RotationState = iota
	RotationRotating
	RotationStale
)

// Rotation holds the server-side rotation-in-flight row for one shared item.
type Rotation struct {
	ItemID        uuid.UUID
	State         RotationState
	CandidateEnc  []byte
	StartedAt     time.Time
	StartedBy     uuid.UUID
	ExpiresAt     time.Time
	RecoverUntil  time.Time
	AbortedReason string
}

// PendingOp enumerates client-local pending-change operations (spec.md §3.6).
type PendingOp int

const (
	PendingCreate PendingOp = iota
	PendingUpdate
	PendingDelete
	PendingRestore
)

// PendingChange is a client-local unpushed mutation, subject to coalescing rules.
type PendingChange struct {
	ID         uuid.UUID
	StorageID  string
	VaultID    uuid.UUID
	ItemID     uuid.UUID
	Operation  PendingOp
	PayloadEnc []byte
	Checksum   string
	Path       string
	Name       string
	TypeID     string
	BaseSeq    *int64
	CreatedAt  time.Time
}

// Tokens collects issued access/refresh tokens.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// KDFParams is the advertised memory-hard KDF parameter tuple (spec.md §4.1).
type KDFParams struct {
	Algorithm   string
	Iterations  uint32
	MemoryKB    uint32
	Parallelism uint8
}

// User represents a server-side account. Sensitive keys are never stored in plaintext.
type User struct {
	ID        uuid.UUID
	Email     string
	PwdHash   []byte
	AuthSalt  []byte
	KdfSalt   []byte
	KdfParams KDFParams
	CreatedAt time.Time
}
