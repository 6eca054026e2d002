package types

import "errors"

var (
	ErrInvalidTeacherCode = errors.New("teacher code must be 6 digits")
	ErrEmptyName          = errors.New("display name cannot be empty")
	ErrInvalidRole        = errors.New("invalid session role")
	ErrEmptyMessage       = errors.New("message cannot be empty")
	ErrUnknownEvent       = errors.New("unknown event")
	ErrMissingEvent       = errors.New("envelope has no event name")
)
