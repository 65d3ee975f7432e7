package httpapi

import (
	"net/http"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/crypto/keyhierarchy"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

func rotationStateName(s model.RotationState) string {
	switch s {
	case model.RotationRotating:
		return "rotating"
	case model.RotationStale:
		return "stale"
	default:
		return "absent"
	}
}

// rotationVaultFor resolves the owning vault id for a shared item so the
// rotation handlers can hand it to internal/rotation's VaultKeyResolver-keyed
// calls; the route only carries the item id (spec.md §6.1's
// `/v1/shared/items/:iid/rotate/*`).
func (a *API) rotationVaultFor(r *http.Request, itemID uuid.UUID) (uuid.UUID, error) {
	it, err := a.items.Get(r.Context(), itemID)
	if err != nil {
		return uuid.Nil, err
	}
	return it.VaultID, nil
}

type rotationStartRequest struct {
	Force bool `json:"force,omitempty"`
}

type rotationStatusResponse struct {
	State string `json:"state"`
}

func (a *API) handleRotationStart(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	vaultID, err := a.rotationVaultFor(r, itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	userID, _ := userIDFromContext(r.Context())
	var req rotationStartRequest
	_ = decodeJSON(r, &req)

	if err := a.rotation.Start(r.Context(), vaultID, itemID, userID, req.Force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rotationStatusResponse{State: "rotating"})
}

func (a *API) handleRotationStatus(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	status, err := a.rotation.GetStatus(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rotationStatusResponse{State: rotationStateName(status.State)})
}

type rotationCandidateResponse struct {
	Candidate string `json:"candidate"`
}

func (a *API) handleRotationCandidate(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	vaultID, err := a.rotationVaultFor(r, itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := a.rotation.GetStatus(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	if status.State == model.RotationAbsent {
		writeError(w, errs.New(errs.KindRotationMissing, "no rotation in flight"))
		return
	}
	// Unlike Recover (which only accepts a Stale rotation), /candidate reads
	// the same staged value while still Rotating (spec.md §4.6's S4: start
	// and candidate return the same C before commit).
	vaultKey, err := a.vaultKey(r.Context(), vaultID)
	if err != nil {
		writeError(w, err)
		return
	}
	candidatePt, err := envelope.Decrypt(vaultKey, status.Row.CandidateEnc, keyhierarchy.RotationAAD(vaultID, itemID, "candidate"))
	if err != nil {
		writeError(w, errs.New(errs.KindDecryptFailed, "decrypt rotation candidate"))
		return
	}
	writeJSON(w, http.StatusOK, rotationCandidateResponse{Candidate: string(candidatePt)})
}

func (a *API) handleRotationRecover(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	vaultID, err := a.rotationVaultFor(r, itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	candidate, err := a.rotation.Recover(r.Context(), vaultID, itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rotationCandidateResponse{Candidate: candidate})
}

type rotationCommitRequest struct {
	RowVersion int64 `json:"row_version"`
}

type rotationCommitResponse struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

func (a *API) handleRotationCommit(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	vaultID, err := a.rotationVaultFor(r, itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	userID, _ := userIDFromContext(r.Context())
	var req rotationCommitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	it, err := a.rotation.Commit(r.Context(), vaultID, itemID, req.RowVersion,
		actorFromRequest(userID, uuid.NullUUID{}), a.historyLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rotationCommitResponse{Status: "committed", Version: it.Version})
}

type rotationAbortRequest struct {
	Force  bool   `json:"force,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (a *API) handleRotationAbort(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "iid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	var req rotationAbortRequest
	_ = decodeJSON(r, &req)
	if err := a.rotation.Abort(r.Context(), itemID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rotationStatusResponse{State: "absent"})
}
