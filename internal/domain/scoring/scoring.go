// Package scoring turns raw driver records into comparable performance metrics.
package scoring

import (
	"github.com/okian/fleetreport/internal/domain/model"
)

// Unit conversion constants.
const (
	percentScale = 100
	per100Km     = 100
)

// MetricsSet holds the derived values for one driver and period.
// Percentages are in the range 0..100 for well-formed input.
type MetricsSet struct {
	IdlePct        float64 `json:"idle_pct"`
	CruisePct      float64 `json:"cruise_pct"`
	EngineBrakePct float64 `json:"engine_brake_pct"`
	CoastingPct    float64 `json:"coasting_pct"`

	// FuelEfficiencyKmL is distance per litre of fuel.
	FuelEfficiencyKmL float64 `json:"fuel_efficiency_km_l"`
	// WeightAdjustedLPer100TKm is litres per 100 km per tonne of average weight.
	WeightAdjustedLPer100TKm float64 `json:"weight_adjusted_l_per_100t_km"`

	OverspeedPct float64 `json:"overspeed_pct"`
}

// ComputeMetrics derives a MetricsSet from one record. It has no error path:
// a missing or zero denominator yields 0 for the affected value.
func ComputeMetrics(rec model.DriverPeriodRecord) MetricsSet { //nolint:gocritic // hugeParam: pure function over an immutable record
	m := MetricsSet{
		IdlePct:        pct(rec.IdleTimeS, rec.EngineTimeS),
		CruisePct:      pct(rec.CruiseDistanceKm, rec.TotalDistanceKm),
		EngineBrakePct: pct(rec.EngineBrakeDistanceKm, rec.BrakeDistanceKm),
		CoastingPct:    pct(rec.CoastingDistanceKm, rec.TotalDistanceKm),
		OverspeedPct:   pct(rec.OverspeedDistanceKm, rec.TotalDistanceKm),
	}

	m.FuelEfficiencyKmL = ratio(rec.TotalDistanceKm, rec.FuelUsedL)

	lPer100 := ratio(rec.FuelUsedL, rec.TotalDistanceKm) * per100Km
	m.WeightAdjustedLPer100TKm = ratio(lPer100, rec.AvgWeightT)

	return m
}

// pct returns part/whole*100, or 0 when whole is not positive.
func pct(part, whole float64) float64 {
	return ratio(part, whole) * percentScale
}

func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}
