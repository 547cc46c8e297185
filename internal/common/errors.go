// Package common defines shared constants and sentinel errors used across
// client and server layers of firebox. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrVersionConflict = errors.New("version conflict")

	// Validation errors raised at the request boundary.
	ErrorValidation = errors.New("validation error")

	// Upload-specific errors.
	ErrNoOpenUpload = errors.New("no open multipart upload")
)
