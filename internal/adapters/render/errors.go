package render

import (
	"errors"

	"github.com/okian/fleetreport/internal/domain/model"
)

var (
	// ErrOverage is returned when the provider reports its quota was exceeded.
	// It is never retried.
	ErrOverage = model.ErrOverage
	// ErrRender is a terminal failure: the provider rejected the request.
	ErrRender = errors.New("render failed")
	// ErrTransient wraps the last error after retries were exhausted.
	ErrTransient = errors.New("render temporarily unavailable")
)
