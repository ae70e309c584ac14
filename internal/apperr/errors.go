// Package apperr holds the error kinds shared by the chat core. Callers wrap them with
// fmt.Errorf("...: %w", apperr.ErrX) and boundaries classify them with errors.Is.
package apperr

import "errors"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")

	// ErrUnavailable marks a transient datastore failure. Clients may retry.
	ErrUnavailable = errors.New("datastore unavailable")
)

// Code returns a short machine readable code for err, used on the realtime channel.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
