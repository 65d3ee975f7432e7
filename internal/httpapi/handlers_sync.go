package httpapi

import (
	"net/http"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/sync"
)

type syncChangeDTO struct {
	ItemID      string          `json:"item_id"`
	Operation   string          `json:"operation"`
	Seq         int64           `json:"seq"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
	Checksum    string          `json:"checksum,omitempty"`
	PayloadEnc  []byte          `json:"payload_enc,omitempty"`
	Payload     []byte          `json:"payload,omitempty"`
	Path        string          `json:"path,omitempty"`
	Name        string          `json:"name,omitempty"`
	TypeID      string          `json:"type_id,omitempty"`
	HistoryTail []syncHistoryDTO `json:"history_tail,omitempty"`
}

type syncHistoryDTO struct {
	Version    int64  `json:"version"`
	ChangeType string `json:"change_type"`
	PayloadEnc []byte `json:"payload_enc,omitempty"`
	Payload    []byte `json:"payload,omitempty"`
	Checksum   string `json:"checksum"`
}

func opName(op model.ChangeOp) string {
	switch op {
	case model.OpCreate:
		return "create"
	case model.OpUpdate:
		return "update"
	default:
		return "delete"
	}
}

func changeTypeName(ct model.ChangeType) string {
	switch ct {
	case model.ChangeCreate:
		return "create"
	case model.ChangeUpdate:
		return "update"
	case model.ChangeDelete:
		return "delete"
	default:
		return "restore"
	}
}

func toPullEntryDTO(e sync.PullEntry) syncChangeDTO {
	out := syncChangeDTO{
		ItemID: e.ItemID.String(), Operation: opName(e.Operation), Seq: e.Seq,
		Checksum: e.Checksum, PayloadEnc: e.PayloadEnc, Payload: e.Payload,
		Path: e.Path, Name: e.Name, TypeID: e.TypeID,
	}
	if !e.UpdatedAt.IsZero() {
		out.UpdatedAt = e.UpdatedAt.Format(timeLayout)
	}
	out.HistoryTail = make([]syncHistoryDTO, len(e.HistoryTail))
	for i, h := range e.HistoryTail {
		out.HistoryTail[i] = syncHistoryDTO{
			Version: h.Version, ChangeType: changeTypeName(h.ChangeType),
			PayloadEnc: h.PayloadEnc, Payload: h.Payload, Checksum: h.Checksum,
		}
	}
	return out
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

type pullRequest struct {
	VaultID string `json:"vault_id"`
	Cursor  string `json:"cursor"`
	Limit   int    `json:"limit"`
}

type pullResponse struct {
	Changes       []syncChangeDTO `json:"changes"`
	NextCursor    string          `json:"next_cursor"`
	HasMore       bool            `json:"has_more"`
	PushAvailable bool            `json:"push_available"`
}

// handlePull returns a handler for /v1/sync/pull (shared=false) or
// /v1/sync/shared/pull (shared=true) (spec.md §4.4.1, §6.1). The shared
// variant decrypts payload/history server-side via the wired VaultKeyResolver
// before responding; the client-encrypted variant returns payload_enc as-is.
func (a *API) handlePull(shared bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pullRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
			return
		}
		vaultID, err := uuid.FromString(req.VaultID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
			return
		}
		cursor, err := sync.DecodeCursor(req.Cursor)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
			return
		}

		if shared {
			v, verr := a.vaults.Get(r.Context(), vaultID)
			if verr != nil {
				writeError(w, verr)
				return
			}
			if v.Encryption != model.EncryptionServer {
				writeError(w, errs.New(errs.KindVaultNotServerEncrypted, "shared pull requires a server-encrypted vault"))
				return
			}
		}

		var decrypt sync.Decrypt
		if shared {
			decrypt = func(itemID uuid.UUID, payloadEnc []byte) ([]byte, error) {
				return a.decryptForVault(r.Context(), vaultID, itemID, payloadEnc)
			}
		}

		result, err := sync.Pull(r.Context(), a.itemRepo, sync.PullInput{
			VaultID: vaultID, Cursor: cursor, Limit: req.Limit,
			HistoryLimit: a.historyLimit, Decrypt: decrypt, PushAvailable: true,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		changes := make([]syncChangeDTO, len(result.Changes))
		for i, e := range result.Changes {
			changes[i] = toPullEntryDTO(e)
		}
		writeJSON(w, http.StatusOK, pullResponse{
			Changes: changes, NextCursor: result.NextCursor.String(),
			HasMore: result.HasMore, PushAvailable: result.PushAvailable,
		})
	}
}

type pushChangeRequest struct {
	ItemID     string   `json:"item_id"`
	Operation  string   `json:"operation"`
	BaseSeq    *int64   `json:"base_seq,omitempty"`
	Path       string   `json:"path,omitempty"`
	Name       string   `json:"name,omitempty"`
	TypeID     string   `json:"type_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Favorite   bool     `json:"favorite,omitempty"`
	PayloadEnc []byte   `json:"payload_enc,omitempty"`
	Checksum   string   `json:"checksum,omitempty"`
	DeviceID   string   `json:"device_id,omitempty"`
}

type pushRequest struct {
	VaultID string              `json:"vault_id"`
	Changes []pushChangeRequest `json:"changes"`
}

type pushConflictDTO struct {
	ItemID          string `json:"item_id"`
	Reason          string `json:"reason"`
	ServerUpdatedAt string `json:"server_updated_at,omitempty"`
}

type pushResponse struct {
	Applied   []itemDTO         `json:"applied"`
	Conflicts []pushConflictDTO `json:"conflicts"`
	NewCursor string            `json:"new_cursor"`
}

func parsePendingOp(s string) (model.PendingOp, error) {
	switch s {
	case "create":
		return model.PendingCreate, nil
	case "update":
		return model.PendingUpdate, nil
	case "delete":
		return model.PendingDelete, nil
	case "restore":
		return model.PendingRestore, nil
	default:
		return 0, errs.New(errs.KindInvalidPayload, "unknown push operation")
	}
}

// handlePush returns a handler for /v1/sync/push (shared=false) or
// /v1/sync/shared/push (shared=true) (spec.md §4.4.2, §6.1). A pushed change
// for a shared vault must already carry ciphertext encrypted under the
// vault's key; sync.Push never decrypts or encrypts on this path.
func (a *API) handlePush(shared bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pushRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
			return
		}
		vaultID, err := uuid.FromString(req.VaultID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
			return
		}
		userID, _ := userIDFromContext(r.Context())

		changes := make([]sync.PushChangeInput, 0, len(req.Changes))
		for _, c := range req.Changes {
			itemID, ierr := uuid.FromString(c.ItemID)
			if ierr != nil {
				writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
				return
			}
			op, operr := parsePendingOp(c.Operation)
			if operr != nil {
				writeError(w, operr)
				return
			}
			changes = append(changes, sync.PushChangeInput{
				ItemID: itemID, Operation: op, BaseSeq: c.BaseSeq, Path: c.Path, Name: c.Name,
				TypeID: c.TypeID, Tags: c.Tags, Favorite: c.Favorite, PayloadEnc: c.PayloadEnc,
				Checksum: c.Checksum, DeviceID: deviceIDFrom(c.DeviceID),
			})
		}

		result, err := sync.Push(r.Context(), a.syncRepo, a.itemRepo, vaultID, changes,
			actorFromRequest(userID, uuid.NullUUID{}), a.historyLimit)
		if err != nil {
			writeError(w, err)
			return
		}

		applied := make([]itemDTO, len(result.Applied))
		for i, it := range result.Applied {
			applied[i] = toItemDTO(it)
		}
		conflicts := make([]pushConflictDTO, len(result.Conflicts))
		for i, c := range result.Conflicts {
			dto := pushConflictDTO{ItemID: c.ItemID.String(), Reason: string(c.Reason)}
			if !c.ServerUpdatedAt.IsZero() {
				dto.ServerUpdatedAt = c.ServerUpdatedAt.Format(timeLayout)
			}
			conflicts[i] = dto
		}
		writeJSON(w, http.StatusOK, pushResponse{Applied: applied, Conflicts: conflicts, NewCursor: result.NewCursor.String()})
	}
}
