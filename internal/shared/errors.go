package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a request parameter failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrActorMissing is returned when a mutating request carries no actor id.
	ErrActorMissing = errors.New("actor id missing")
)
