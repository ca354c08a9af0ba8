// Package apperr holds the error kinds shared across bounded contexts and the
// HTTP edge. Callers wrap them with fmt.Errorf("%w: ...") and inspect them
// with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrConflict            = errors.New("conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
