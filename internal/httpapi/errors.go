package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zann-project/zann/internal/errs"
)

// errorEnvelope is the wire shape of every non-2xx response (spec.md §6.2):
// `{error, details?}`, error a stable lowercase snake_case token.
type errorEnvelope struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps err onto an HTTP status and the error envelope. A policy
// deny with no Kind attached writes "forbidden-no-body": status 403 with an
// empty body, so a denied caller learns nothing beyond "no".
func writeError(w http.ResponseWriter, err error) {
	if err == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if errors.Is(err, errForbiddenNoBody) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	kind, ok := errs.KindOf(err)
	if !ok {
		switch {
		case errors.Is(err, errs.ErrNotFound):
			kind = errs.KindInternal
			writeJSON(w, http.StatusNotFound, errorEnvelope{Error: "not_found"})
			return
		case errors.Is(err, errs.ErrVersionConflict):
			writeJSON(w, http.StatusConflict, errorEnvelope{Error: "conflict"})
			return
		case errors.Is(err, errs.ErrUnauthorized):
			writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: "unauthorized"})
			return
		case errors.Is(err, errs.ErrRateLimited):
			writeJSON(w, http.StatusTooManyRequests, errorEnvelope{Error: "rate_limited"})
			return
		case errors.Is(err, errs.ErrDeviceRequired):
			writeJSON(w, http.StatusForbidden, errorEnvelope{Error: "device_required"})
			return
		case errors.Is(err, errs.ErrForbidden):
			w.WriteHeader(http.StatusForbidden)
			return
		case errors.Is(err, errs.ErrAlreadyExists):
			writeJSON(w, http.StatusConflict, errorEnvelope{Error: "already_exists"})
			return
		default:
			writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: "internal"})
			return
		}
	}

	var details map[string]any
	var typed *errs.Error
	if errors.As(err, &typed) {
		details = typed.Details
	}
	writeJSON(w, statusForKind(kind), errorEnvelope{Error: string(kind), Details: details})
}

// errForbiddenNoBody is raised by handlers (not by the core) when a policy
// decision should reveal nothing beyond "forbidden".
var errForbiddenNoBody = errors.New("forbidden: no body")

func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidCredentials, errs.KindInvalidToken, errs.KindTokenExpired, errs.KindTokenRevoked:
		return http.StatusUnauthorized
	case errs.KindIPNotAllowed, errs.KindForbidden, errs.KindDeviceRequired, errs.KindInternalDisabled, errs.KindOidcDisabled,
		errs.KindVaultLocked, errs.KindPlaintextNotAllowed, errs.KindRepresentationNotAllowed:
		return http.StatusForbidden
	case errs.KindInvalidPayload, errs.KindInvalidSlug, errs.KindInvalidName, errs.KindInvalidPath, errs.KindInvalidType,
		errs.KindNameTooLong, errs.KindPathSegmentsLimit, errs.KindMissingPayload, errs.KindMissingChecksum,
		errs.KindChecksumWithoutPaylo, errs.KindUnknownPolicy, errs.KindInvalidBlob, errs.KindInvalidKeyLength,
		errs.KindInvalidTag, errs.KindPasswordFieldMiss:
		return http.StatusBadRequest
	case errs.KindMissingItem, errs.KindRepresentationNotAvailable:
		return http.StatusNotFound
	case errs.KindAlreadyExists, errs.KindConcurrentModifica, errs.KindRowVersionConflict, errs.KindNoChanges,
		errs.KindSlugTaken, errs.KindIDTaken, errs.KindEmailExists, errs.KindPolicyMismatch,
		errs.KindRotationInProgress, errs.KindRotationMissing, errs.KindRotationNotActive, errs.KindRotationActive,
		errs.KindRotationExpired, errs.KindServerFingerprintChanged, errs.KindVaultNotShared, errs.KindVaultNotServerEncrypted:
		return http.StatusConflict
	case errs.KindPayloadTooLarge, errs.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case errs.KindKDFFailed, errs.KindPayloadEncryptFailed, errs.KindPayloadDecryptFailed, errs.KindVaultKeyDecryptFail,
		errs.KindSMKMissing, errs.KindDecryptFailed, errs.KindEncryptFailed, errs.KindDBError, errs.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
