package model

import "errors"

var (
	// ErrInvalidFormat is returned for an unsupported document format.
	ErrInvalidFormat = errors.New("unsupported document format")
	// ErrOverage marks a provider-reported quota violation.
	ErrOverage = errors.New("render provider quota exceeded")
	// ErrRecordNotFound is returned when no driver record matches a lookup.
	ErrRecordNotFound = errors.New("driver record not found")
	// ErrNoRecipient is returned when neither an explicit nor a default address exists.
	ErrNoRecipient = errors.New("no recipient address")
)
