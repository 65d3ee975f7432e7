// Package errs contains sentinel errors used across layers for stable error mapping.
//
// Each sentinel corresponds to one stable lowercase snake_case error token in
// spec.md §7; Kind returns that token so transport layers can map errors to
// status codes without a second switch statement duplicating this list.
package errs

import "errors"

// Kind is a stable, transport-independent error token (spec.md §7).
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindInvalidToken       Kind = "invalid_token"
	KindTokenExpired       Kind = "token_expired"
	KindTokenRevoked       Kind = "token_revoked"
	KindIPNotAllowed       Kind = "ip_not_allowed"
	KindForbidden          Kind = "forbidden"
	KindDeviceRequired     Kind = "device_required"
	KindInternalDisabled   Kind = "internal_disabled"
	KindOidcDisabled       Kind = "oidc_disabled"

	KindInvalidPayload        Kind = "invalid_payload"
	KindInvalidSlug           Kind = "invalid_slug"
	KindInvalidName           Kind = "invalid_name"
	KindInvalidPath           Kind = "invalid_path"
	KindInvalidType           Kind = "invalid_type"
	KindNameTooLong           Kind = "name_too_long"
	KindPathSegmentsLimit     Kind = "path_segments_limit"
	KindPayloadTooLarge       Kind = "payload_too_large"
	KindFileTooLarge          Kind = "file_too_large"
	KindMissingPayload        Kind = "missing_payload"
	KindMissingChecksum       Kind = "missing_checksum"
	KindChecksumWithoutPaylo  Kind = "checksum_without_payload"
	KindUnknownPolicy         Kind = "unknown_policy"
	KindPolicyMismatch        Kind = "policy_mismatch"

	KindAlreadyExists        Kind = "already_exists"
	KindMissingItem          Kind = "missing_item"
	KindConcurrentModifica   Kind = "concurrent_modification"
	KindRowVersionConflict   Kind = "row_version_conflict"
	KindNoChanges            Kind = "no_changes"
	KindSlugTaken            Kind = "slug_taken"
	KindIDTaken              Kind = "id_taken"
	KindEmailExists          Kind = "email_exists"

	KindInvalidBlob          Kind = "invalid_blob"
	KindInvalidKeyLength     Kind = "invalid_key_length"
	KindInvalidTag           Kind = "invalid_tag"
	KindKDFFailed            Kind = "kdf_failed"
	KindPayloadEncryptFailed Kind = "payload_encrypt_failed"
	KindPayloadDecryptFailed Kind = "payload_decrypt_failed"
	KindVaultKeyDecryptFail  Kind = "vault_key_decrypt_failed"
	KindSMKMissing           Kind = "smk_missing"

	KindRotationInProgress Kind = "rotation_in_progress"
	KindRotationMissing    Kind = "rotation_missing"
	KindRotationNotActive  Kind = "rotation_not_active"
	KindRotationActive     Kind = "rotation_active"
	KindRotationExpired    Kind = "rotation_expired"
	KindPasswordFieldMiss  Kind = "password_field_missing"
	KindDecryptFailed      Kind = "decrypt_failed"
	KindEncryptFailed      Kind = "encrypt_failed"

	KindServerFingerprintChanged  Kind = "server_fingerprint_changed"
	KindVaultLocked               Kind = "vault_locked"
	KindVaultNotShared             Kind = "vault_not_shared"
	KindVaultNotServerEncrypted    Kind = "vault_not_server_encrypted"
	KindPlaintextNotAllowed        Kind = "plaintext_not_allowed"
	KindRepresentationNotAvailable Kind = "representation_not_available"
	KindRepresentationNotAllowed   Kind = "representation_not_allowed"

	KindDBError  Kind = "db_error"
	KindInternal Kind = "internal"
)

// Error is a typed error carrying a stable Kind plus optional structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// New constructs an *Error with the given kind and message.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// WithDetails attaches structured details (e.g. policy_mismatch existing/requested) and returns e.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// KindOf extracts the Kind from err, if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinels used internally by repositories/services for errors.Is matching;
// transport layers should prefer KindOf for the stable-token mapping above.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrAlreadyExists   = errors.New("already exists")
	ErrDeviceRequired  = errors.New("device required")
	ErrForbidden       = errors.New("forbidden")
)
