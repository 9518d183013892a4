// Package common defines the sentinel errors shared by every GophScribe layer.
// Callers should match them with errors.Is; producers wrap them with %w so the
// underlying cause stays visible in logs and persisted error messages.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")

	// Input errors. Anything wrapping ErrValidation is rejected before it is
	// enqueued or persisted.
	ErrValidation = errors.New("validation error")

	// Block storage errors.
	ErrStorage            = errors.New("storage error")
	ErrStorageUnavailable = subError("storage unavailable", ErrStorage)
	ErrPayloadTooLarge    = subError("payload too large", ErrStorage)
	ErrBlockListInvalid   = subError("block list invalid", ErrStorage)

	// Transcription service errors.
	ErrExternalJob = errors.New("external job error")

	// ErrBusy reports that the processing slot is held. It is a deferral, not a failure.
	ErrBusy = errors.New("concurrency busy")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)

// kindError is a sentinel that also matches its parent category.
type kindError struct {
	msg    string
	parent error
}

func subError(msg string, parent error) error {
	return &kindError{msg: msg, parent: parent}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.parent }
