// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// Period identifies one calendar month.
type Period struct {
	Month int `json:"month"` // 1..12
	Year  int `json:"year"`
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Valid reports whether the period names a real month.
func (p Period) Valid() bool {
	return p.Month >= 1 && p.Month <= 12 && p.Year > 0
}

// Prev returns the calendar month before p.
func (p Period) Prev() Period {
	if p.Month <= 1 {
		return Period{Month: 12, Year: p.Year - 1}
	}
	return Period{Month: p.Month - 1, Year: p.Year}
}

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// String renders the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// DriverPeriodRecord is one driver's raw measurements for one calendar month.
// Records are owned by the external store and never mutated by this service.
type DriverPeriodRecord struct {
	SubjectID  string `json:"subject_id"`
	DriverName string `json:"driver_name"`
	Email      string `json:"email,omitempty"` // optional delivery address
	Month      int    `json:"month"`
	Year       int    `json:"year"`

	TotalDistanceKm float64 `json:"total_distance_km"`
	FuelUsedL       float64 `json:"fuel_used_l"`
	AvgWeightT      float64 `json:"avg_weight_t"` // average gross combination weight, tonnes

	EngineTimeS float64 `json:"engine_time_s"` // total engine-on time
	IdleTimeS   float64 `json:"idle_time_s"`

	CruiseDistanceKm      float64 `json:"cruise_distance_km"`
	CoastingDistanceKm    float64 `json:"coasting_distance_km"`
	BrakeDistanceKm       float64 `json:"brake_distance_km"` // distance covered while decelerating by any means
	EngineBrakeDistanceKm float64 `json:"engine_brake_distance_km"`
	OverspeedDistanceKm   float64 `json:"overspeed_distance_km"`
}

// Period returns the record's reporting period.
func (r DriverPeriodRecord) Period() Period { //nolint:gocritic // hugeParam: records are passed by value across layers
	return Period{Month: r.Month, Year: r.Year}
}
