package report

import "errors"

var (
	// ErrUnknownSubject is returned when a requested subject has no record for the period.
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrInvalidPeriod is returned for a month outside 1..12 or a non-positive year.
	ErrInvalidPeriod = errors.New("invalid period")
)
