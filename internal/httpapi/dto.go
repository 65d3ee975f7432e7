package httpapi

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
)

type vaultDTO struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Encryption  string   `json:"encryption"`
	VaultKeyEnc []byte   `json:"vault_key_enc"`
	Tags        []string `json:"tags,omitempty"`
	RowVersion  int64    `json:"row_version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toVaultDTO(v model.Vault) vaultDTO {
	return vaultDTO{
		ID: v.ID.String(), Slug: v.Slug, Name: v.Name,
		Kind: vaultKindName(v.Kind), Encryption: vaultEncryptionName(v.Encryption),
		VaultKeyEnc: v.VaultKeyEnc, Tags: v.Tags, RowVersion: v.RowVersion,
		CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt,
	}
}

func vaultKindName(k model.VaultKind) string {
	if k == model.VaultShared {
		return "shared"
	}
	return "personal"
}

func vaultEncryptionName(e model.VaultEncryptionType) string {
	if e == model.EncryptionServer {
		return "server"
	}
	return "client"
}

func parseVaultKind(s string) model.VaultKind {
	if s == "shared" {
		return model.VaultShared
	}
	return model.VaultPersonal
}

func parseVaultEncryption(s string) model.VaultEncryptionType {
	if s == "server" {
		return model.EncryptionServer
	}
	return model.EncryptionClient
}

type itemDTO struct {
	ID         string    `json:"id"`
	VaultID    string    `json:"vault_id"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	TypeID     string    `json:"type_id"`
	Tags       []string  `json:"tags,omitempty"`
	Favorite   bool      `json:"favorite"`
	PayloadEnc []byte    `json:"payload_enc,omitempty"`
	Checksum   string    `json:"checksum"`
	Version    int64     `json:"version"`
	RowVersion int64     `json:"row_version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toItemDTO(it model.Item) itemDTO {
	return itemDTO{
		ID: it.ID.String(), VaultID: it.VaultID.String(), Path: it.Path, Name: it.Name,
		TypeID: it.TypeID, Tags: it.Tags, Favorite: it.Favorite, PayloadEnc: it.PayloadEnc,
		Checksum: it.Checksum, Version: it.Version, RowVersion: it.RowVersion,
		CreatedAt: it.CreatedAt, UpdatedAt: it.UpdatedAt,
	}
}

type historyDTO struct {
	Version    int64     `json:"version"`
	ChangeType string    `json:"change_type"`
	PayloadEnc []byte    `json:"payload_enc,omitempty"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

func toHistoryDTO(h model.ItemHistory) historyDTO {
	var ct string
	switch h.ChangeType {
	case model.ChangeCreate:
		ct = "create"
	case model.ChangeUpdate:
		ct = "update"
	case model.ChangeDelete:
		ct = "delete"
	case model.ChangeRestore:
		ct = "restore"
	}
	return historyDTO{Version: h.Version, ChangeType: ct, PayloadEnc: h.PayloadEnc, Checksum: h.Checksum, CreatedAt: h.CreatedAt}
}

func actorFromRequest(userID uuid.UUID, deviceID uuid.NullUUID) model.ActorSnapshot {
	return model.ActorSnapshot{UserID: userID, DeviceID: deviceID}
}
