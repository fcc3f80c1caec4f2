package types

import "errors"

// Domain errors shared across the subsystem.
var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrMalformedClass is returned when a class unit cannot be decoded.
	ErrMalformedClass = errors.New("malformed class file")
)
