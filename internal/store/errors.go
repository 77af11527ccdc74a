package store

import "errors"

var (
	// ErrNotFound is returned when the target record does not exist in the
	// caller's organization.
	ErrNotFound = errors.New("record not found")
	// ErrUnknownTable is returned for a collection name outside the registry.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnsupportedAction is returned when an action does not apply to a table.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrValidation wraps malformed payloads, unknown fields and failed
	// struct validation.
	ErrValidation = errors.New("validation failed")
	// ErrMissingReference is returned when a referenced record does not exist
	// in the caller's organization.
	ErrMissingReference = errors.New("missing reference")
)
