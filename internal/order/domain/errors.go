package domain

import "github.com/dmehra2102/scrap-pickup/pkg/apperr"

// Error kinds used by the order and payment contexts. They are the shared
// apperr values, so the HTTP layer classifies them without importing domain.
var (
	ErrNotFound            = apperr.ErrNotFound
	ErrInvalidState        = apperr.ErrInvalidState
	ErrConflict            = apperr.ErrConflict
	ErrForbidden           = apperr.ErrForbidden
	ErrInvalidInput        = apperr.ErrInvalidInput
	ErrUpstreamUnavailable = apperr.ErrUpstreamUnavailable
)
