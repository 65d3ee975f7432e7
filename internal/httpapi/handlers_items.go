package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
	"github.com/zann-project/zann/internal/service"
)

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	items, err := a.items.List(r.Context(), vaultID, includeDeleted)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]itemDTO, len(items))
	for i, it := range items {
		out[i] = toItemDTO(it)
	}
	writeJSON(w, http.StatusOK, out)
}

type putItemRequest struct {
	// ID lets a client that encrypts payload_enc itself pin the item id
	// before the payload AAD binding is computed (see PutItemInput.ID).
	// Only honored on create; an update targets the existing item's id.
	ID         string   `json:"id,omitempty"`
	Path       string   `json:"path"`
	TypeID     string   `json:"type_id"`
	Tags       []string `json:"tags,omitempty"`
	Favorite   bool     `json:"favorite"`
	PayloadEnc []byte   `json:"payload_enc"`
	RowVersion int64    `json:"row_version"`
	DeviceID   string   `json:"device_id,omitempty"`
}

func deviceIDFrom(raw string) uuid.NullUUID {
	if raw == "" {
		return uuid.NullUUID{}
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: id, Valid: true}
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	userID, _ := userIDFromContext(r.Context())
	var req putItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	deviceID := deviceIDFrom(req.DeviceID)
	in := service.PutItemInput{
		VaultID: vaultID, Path: req.Path, TypeID: req.TypeID, Tags: req.Tags, Favorite: req.Favorite,
		PayloadEnc: req.PayloadEnc, DeviceID: deviceID, Actor: actorFromRequest(userID, deviceID),
	}
	if req.ID != "" {
		id, err := uuid.FromString(req.ID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
			return
		}
		in.ID = id
	}
	it, err := a.items.Put(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(it))
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	it, err := a.items.Get(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*it))
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	userID, _ := userIDFromContext(r.Context())
	var req putItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	deviceID := deviceIDFrom(req.DeviceID)
	it, err := a.items.Put(r.Context(), service.PutItemInput{
		VaultID: vaultID, Path: req.Path, TypeID: req.TypeID, Tags: req.Tags, Favorite: req.Favorite,
		PayloadEnc: req.PayloadEnc, RowVersion: req.RowVersion, DeviceID: deviceID,
		Actor: actorFromRequest(userID, deviceID),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(it))
}

type deleteItemRequest struct {
	RowVersion int64 `json:"row_version"`
}

func (a *API) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	userID, _ := userIDFromContext(r.Context())
	var req deleteItemRequest
	_ = decodeJSON(r, &req)
	it, err := a.items.Delete(r.Context(), vaultID, itemID, req.RowVersion, actorFromRequest(userID, uuid.NullUUID{}))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(it))
}

func (a *API) handleListVersions(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	hist, err := a.items.ListVersions(r.Context(), itemID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]historyDTO, len(hist))
	for i, h := range hist {
		out[i] = toHistoryDTO(h)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	version, err := strconv.ParseInt(pathParam(r, "v"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	h, err := a.items.GetVersion(r.Context(), itemID, version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTO(*h))
}

type restoreVersionRequest struct {
	RowVersion int64 `json:"row_version"`
}

func (a *API) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	userID, _ := userIDFromContext(r.Context())
	var req restoreVersionRequest
	_ = decodeJSON(r, &req)
	it, err := a.items.RestoreVersion(r.Context(), vaultID, itemID, req.RowVersion, actorFromRequest(userID, uuid.NullUUID{}))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(it))
}

// handleGetItemFile and handlePutItemFile implement the binary
// upload/download surface (spec.md §6.1): representation=plain only ever
// applies to a server-encrypted (shared) vault item, since only the server
// holds a key to decrypt to plaintext there; representation=opaque always
// works and returns/accepts the ciphertext verbatim. Requesting plain
// against a client-encrypted item is representation_not_available, not a
// decrypt attempt the server cannot perform.
func (a *API) handleGetItemFile(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	representation := r.URL.Query().Get("representation")
	if representation == "" {
		representation = "opaque"
	}

	it, err := a.items.Get(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}

	if representation == "plain" {
		v, verr := a.vaults.Get(r.Context(), vaultID)
		if verr != nil {
			writeError(w, verr)
			return
		}
		if v.Encryption != model.EncryptionServer {
			writeError(w, errs.New(errs.KindRepresentationNotAvailable, "plain representation requires a server-encrypted vault"))
			return
		}
		pt, derr := a.decryptForVault(r.Context(), vaultID, itemID, it.PayloadEnc)
		if derr != nil {
			writeError(w, derr)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pt)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(it.PayloadEnc)
}

func (a *API) handlePutItemFile(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	representation := r.URL.Query().Get("representation")
	if representation == "plain" {
		writeError(w, errs.New(errs.KindPlaintextNotAllowed, "uploads must be pre-encrypted by the client"))
		return
	}
	// Read one byte past the file cap so an oversized body still lands on
	// ItemService.Put's file_too_large check instead of being silently
	// truncated to exactly the limit.
	body, err := io.ReadAll(io.LimitReader(r.Body, repository.MaxFileBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	userID, _ := userIDFromContext(r.Context())
	path := r.URL.Query().Get("path")
	it, err := a.items.Put(r.Context(), service.PutItemInput{
		VaultID: vaultID, Path: path, TypeID: "file", PayloadEnc: body, IsFile: true,
		Actor: actorFromRequest(userID, uuid.NullUUID{}),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(it))
}
