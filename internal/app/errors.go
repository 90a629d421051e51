package service

import "errors"

var (
	// ErrBatchNotFound is returned for an unknown batch id.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrNotStarted is returned when work is submitted before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrDeliveryFailed wraps a per-subject failure of a direct download.
	ErrDeliveryFailed = errors.New("report delivery failed")
)
