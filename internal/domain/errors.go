package domain

import "errors"

// Sentinel errors shared across service and API layers. Handlers map these
// onto HTTP status codes; everything else surfaces as a 500.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrNotConnected = errors.New("whatsapp instance is not connected")
)
