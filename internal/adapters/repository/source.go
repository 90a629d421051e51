// Package repository reads driver period records.
package repository

import (
	"context"

	"github.com/okian/fleetreport/internal/domain/model"
)

// PriorLookbackMonths bounds how far back PriorPeriod searches.
const PriorLookbackMonths = 24

// Source provides read access to driver records.
type Source interface {
	// Get returns one subject's record. Returns ErrNotFound if absent.
	Get(ctx context.Context, subjectID string, period model.Period) (model.DriverPeriodRecord, error)

	// ListByPeriod returns every record of the period ordered by subject ID.
	ListByPeriod(ctx context.Context, period model.Period) ([]model.DriverPeriodRecord, error)

	// PriorPeriod returns the subject's most recent record before period,
	// searching at most PriorLookbackMonths back. Returns ErrNotFound for a
	// subject with no earlier data.
	PriorPeriod(ctx context.Context, subjectID string, period model.Period) (model.DriverPeriodRecord, error)
}

// monthIndex orders periods on a single integer axis.
func monthIndex(p model.Period) int {
	return p.Year*12 + (p.Month - 1)
}
