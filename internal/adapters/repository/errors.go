package repository

import (
	"errors"

	"github.com/okian/fleetreport/internal/domain/model"
)

// Sentinel errors for record lookups.
var (
	ErrNotFound      = model.ErrRecordNotFound
	ErrInvalidPeriod = errors.New("invalid period")
)
