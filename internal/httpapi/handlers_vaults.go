package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/service"
)

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.FromString(chi.URLParam(r, key))
}

func (a *API) handleListVaults(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: "invalid_token"})
		return
	}
	vaults, err := a.vaults.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]vaultDTO, len(vaults))
	for i, v := range vaults {
		out[i] = toVaultDTO(v)
	}
	writeJSON(w, http.StatusOK, out)
}

type createVaultRequest struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Encryption string `json:"encryption"`
	// ID lets a Personal-vault caller pin the vault id up front, since it
	// must bind the AAD of its client-side key wrap to the final vault id
	// before this request is ever sent (keyhierarchy.WrapVaultKeyWithMK).
	// Ignored for a Shared vault, whose id the server mints itself.
	ID string `json:"id,omitempty"`
	// VaultKeyEnc is required for a Personal vault (wrapped client-side
	// under the owner's master key) and ignored for a Shared vault, whose
	// key the server mints and SMK-wraps itself: clients never see the SMK
	// and so cannot produce a valid vault_key_enc for a Shared vault.
	VaultKeyEnc []byte   `json:"vault_key_enc"`
	Tags        []string `json:"tags,omitempty"`
}

func (a *API) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: "invalid_token"})
		return
	}
	var req createVaultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}

	kind := parseVaultKind(req.Kind)
	in := service.CreateVaultInput{
		Slug: req.Slug, Name: req.Name, Kind: kind, Encryption: parseVaultEncryption(req.Encryption),
		VaultKeyEnc: req.VaultKeyEnc, Tags: req.Tags, OwnerID: userID,
	}
	if kind == model.VaultPersonal && req.ID != "" {
		id, err := uuid.FromString(req.ID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
			return
		}
		in.ID = id
	}
	if kind == model.VaultShared {
		id, err := uuid.NewV7()
		if err != nil {
			writeError(w, err)
			return
		}
		wrapped, err := a.issueVault(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		in.ID = id
		in.VaultKeyEnc = wrapped
	}

	v, err := a.vaults.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVaultDTO(v))
}

func (a *API) handleGetVault(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	v, err := a.vaults.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVaultDTO(*v))
}

type updateVaultRequest struct {
	RowVersion  int64    `json:"row_version"`
	Name        string   `json:"name"`
	CachePolicy string   `json:"cache_policy"`
	Tags        []string `json:"tags,omitempty"`
}

func (a *API) handleUpdateVault(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	var req updateVaultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	cp := model.CacheAllow
	if req.CachePolicy == "deny" {
		cp = model.CacheDeny
	}
	v, err := a.vaults.Update(r.Context(), service.UpdateInput{
		ID: id, RowVersion: req.RowVersion, Name: req.Name, CachePolicy: cp, Tags: req.Tags,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVaultDTO(v))
}

type rotateVaultKeyRequest struct {
	RowVersion int64 `json:"row_version"`
	// VaultKeyEnc is only honored for a Personal vault's wrapping-key
	// rotation. A Shared vault's wrapping key is re-minted and SMK-wrapped
	// by the server, same as at creation.
	VaultKeyEnc []byte `json:"vault_key_enc"`
}

func (a *API) handleRotateVaultKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	var req rotateVaultKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}

	vaultKeyEnc := req.VaultKeyEnc
	existing, err := a.vaults.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing.Kind == model.VaultShared {
		wrapped, err := a.issueVault(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		vaultKeyEnc = wrapped
	}

	v, err := a.vaults.RotateKey(r.Context(), id, req.RowVersion, vaultKeyEnc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVaultDTO(v))
}

func (a *API) handleDeleteVault(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	if err := a.vaults.Delete(r.Context(), id, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
