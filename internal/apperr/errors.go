// Package apperr holds the error kinds services return. Handlers translate
// them to HTTP statuses with errors.Is, so services wrap them with %w and
// add context freely.
package apperr

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("resource already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnverified         = errors.New("email not verified")
	ErrInvalidToken       = errors.New("invalid or expired token")

	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrNotFound           = errors.New("not found")
	ErrNotReady           = errors.New("not ready")
	ErrSessionNotReady    = errors.New("whatsapp session not ready")

	ErrInternal = errors.New("internal error")
)
