package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/secrets"
)

type secretGetResponse struct {
	Value string `json:"value"`
}

// handleSecretGet implements `GET /v1/vaults/:vid/secrets/*path` (spec.md §6.1).
func (a *API) handleSecretGet(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	path := chi.URLParam(r, "*")
	value, err := a.secrets.Get(r.Context(), vaultID, path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, secretGetResponse{Value: value})
}

type secretEnsureRequest struct {
	Path   string         `json:"path"`
	Policy string         `json:"policy,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// handleSecretEnsure implements `POST /v1/vaults/:vid/secrets/ensure`
// (spec.md §4.9, §6.1).
func (a *API) handleSecretEnsure(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	userID, _ := userIDFromContext(r.Context())
	var req secretEnsureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	it, err := a.secrets.Ensure(r.Context(), vaultID, req.Path, req.Policy, req.Meta, actorFromRequest(userID, deviceIDFrom("")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(it))
}

type secretRotateRequest struct {
	Path       string         `json:"path"`
	Policy     string         `json:"policy,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	RowVersion int64          `json:"row_version"`
}

// handleSecretRotate implements `POST /v1/vaults/:vid/secrets/rotate` (spec.md §4.9, §6.1).
func (a *API) handleSecretRotate(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	userID, _ := userIDFromContext(r.Context())
	var req secretRotateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	it, err := a.secrets.Rotate(r.Context(), vaultID, req.Path, req.Policy, req.Meta, req.RowVersion, actorFromRequest(userID, deviceIDFrom("")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(it))
}

type secretBatchResultDTO struct {
	Path  string `json:"path"`
	Item  *itemDTO `json:"item,omitempty"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

func errString(err error) string {
	if kind, ok := errs.KindOf(err); ok {
		return string(kind)
	}
	return "internal"
}

// secretBatchEnsureRequest/Response and secretBatchGetRequest/Response never
// short-circuit on one path's failure (spec.md §4.9: "a batch never
// short-circuits on one failure").
type secretBatchEnsureRequest struct {
	Items []secretEnsureRequest `json:"items"`
}

func (a *API) handleSecretBatchEnsure(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	userID, _ := userIDFromContext(r.Context())
	var req secretBatchEnsureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	inputs := make([]secrets.BatchEnsureInput, len(req.Items))
	for i, it := range req.Items {
		inputs[i] = secrets.BatchEnsureInput{Path: it.Path, PolicyName: it.Policy, Meta: it.Meta}
	}
	results := a.secrets.BatchEnsure(r.Context(), vaultID, inputs, actorFromRequest(userID, deviceIDFrom("")))

	out := make([]secretBatchResultDTO, len(results))
	for i, res := range results {
		dto := secretBatchResultDTO{Path: res.Path}
		if res.Err != nil {
			dto.Error = errString(res.Err)
		} else {
			item := toItemDTO(res.Item)
			dto.Item = &item
		}
		out[i] = dto
	}
	writeJSON(w, http.StatusOK, out)
}

type secretBatchGetRequest struct {
	Paths []string `json:"paths"`
}

func (a *API) handleSecretBatchGet(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathUUID(r, "vid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	var req secretBatchGetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	results := a.secrets.BatchGet(r.Context(), vaultID, req.Paths)
	out := make([]secretBatchResultDTO, len(results))
	for i, res := range results {
		dto := secretBatchResultDTO{Path: res.Path, Value: res.Value}
		if res.Err != nil {
			dto.Error = errString(res.Err)
		}
		out[i] = dto
	}
	writeJSON(w, http.StatusOK, out)
}
