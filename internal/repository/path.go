package repository

import (
	"strings"

	"github.com/zann-project/zann/internal/errs"
)

// Path and size limits (spec.md §4.3).
const (
	MaxPathSegments = 32
	MaxNameLen      = 256
	MaxPayloadBytes = 1 << 20  // 1 MiB
	MaxFileBytes    = 10 << 20 // 10 MiB
)

// NormalizePath trims slashes, rejects empty segments and "..", and enforces
// the segment-count limit (spec.md §3.3, §4.3). It returns the normalized
// path (no leading slash) and its basename.
func NormalizePath(raw string) (path, name string, err error) {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "", "", errs.New(errs.KindInvalidPath, "path is empty")
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) > MaxPathSegments {
		return "", "", errs.New(errs.KindPathSegmentsLimit, "too many path segments")
	}
	for _, seg := range segments {
		if seg == "" {
			return "", "", errs.New(errs.KindInvalidPath, "empty path segment")
		}
		if seg == ".." {
			return "", "", errs.New(errs.KindInvalidPath, "path traversal segment")
		}
	}
	name = segments[len(segments)-1]
	if len(name) > MaxNameLen {
		return "", "", errs.New(errs.KindNameTooLong, "name exceeds max length")
	}
	return strings.Join(segments, "/"), name, nil
}

// ValidatePayloadSize enforces the max payload size (spec.md §4.3).
func ValidatePayloadSize(payloadEnc []byte) error {
	if len(payloadEnc) > MaxPayloadBytes {
		return errs.New(errs.KindPayloadTooLarge, "payload exceeds max size")
	}
	return nil
}

// ValidateFileSize enforces the max attached-file body size (spec.md §4.3).
func ValidateFileSize(body []byte) error {
	if len(body) > MaxFileBytes {
		return errs.New(errs.KindFileTooLarge, "file body exceeds max size")
	}
	return nil
}
