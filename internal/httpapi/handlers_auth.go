package httpapi

import (
	"net/http"

	"github.com/zann-project/zann/internal/errs"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	UserID string `json:"user_id"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	id, err := a.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{UserID: id.String()})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// DeviceID scopes rate limiting per-device (spec.md §Identity's
	// optional device_id) in addition to per-IP; left empty by a caller
	// that hasn't established a device identity yet.
	DeviceID string `json:"device_id,omitempty"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	KDFSalt      []byte `json:"kdf_salt"`
	WrappedDEK   []byte `json:"wrapped_dek,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	tokens, u, err := a.auth.LoginWithIP(r.Context(), req.Email, req.Password, req.DeviceID, clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken,
		UserID: u.ID.String(), KDFSalt: u.KdfSalt,
	})
}

// handleLoginOIDC is disabled unless an OIDC provider is configured
// (spec.md §7's oidc_disabled); no broker is wired up yet.
func (a *API) handleLoginOIDC(w http.ResponseWriter, r *http.Request) {
	writeError(w, errs.New(errs.KindOidcDisabled, "oidc login is not configured"))
}

// handleServiceAccountLogin is disabled pending a service-account credential
// store; scopes are modeled (internal/access.Scope) but nothing issues them yet.
func (a *API) handleServiceAccountLogin(w http.ResponseWriter, r *http.Request) {
	writeError(w, errs.New(errs.KindInternalDisabled, "service account login is not configured"))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	tokens, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken})
}

// handleLogout is a no-op beyond a 204: access/refresh tokens are stateless
// JWTs with no server-side revocation list, so "logout" is the client
// discarding its tokens. A revocation list is a reasonable follow-up once
// abuse patterns justify the extra write path on every request.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePrelogin(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid_payload"})
		return
	}
	resp, err := a.prelogin.Lookup(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kdf_salt":         resp.KDFSalt,
		"kdf_params":       resp.KDFParams,
		"salt_fingerprint": resp.SaltFingerprint,
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
