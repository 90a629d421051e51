package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/okian/fleetreport/internal/domain/model"
)

// integrityVersion is mixed into every hash so a change in the canonical
// encoding invalidates all previously cached renders.
const integrityVersion = "v2"

// IntegrityHash fingerprints everything that determines a rendered report:
// the subject's metric-relevant fields and displayed name, the comparison
// period (nil for a new subject), the size of the ranking cohort and the
// output format. Email is not hashed; it only addresses the delivery.
func IntegrityHash(rec model.DriverPeriodRecord, prior *model.DriverPeriodRecord, cohortSize int, format model.Format) string { //nolint:gocritic // hugeParam: record passed by value
	var b strings.Builder
	b.WriteString(integrityVersion)
	writeRecord(&b, rec)
	b.WriteString("|name:")
	b.WriteString(strconv.Quote(rec.DriverName))
	if prior == nil {
		b.WriteString("|prior:none")
	} else {
		b.WriteString("|prior")
		writeRecord(&b, *prior)
	}
	b.WriteString("|cohort:")
	b.WriteString(strconv.Itoa(cohortSize))
	b.WriteString("|format:")
	b.WriteString(format.Extension())

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeRecord(b *strings.Builder, r model.DriverPeriodRecord) { //nolint:gocritic // hugeParam
	b.WriteString("|")
	b.WriteString(r.SubjectID)
	b.WriteString("|")
	b.WriteString(strconv.Itoa(r.Year))
	b.WriteString("-")
	b.WriteString(strconv.Itoa(r.Month))
	for _, v := range []float64{
		r.TotalDistanceKm,
		r.FuelUsedL,
		r.AvgWeightT,
		r.EngineTimeS,
		r.IdleTimeS,
		r.CruiseDistanceKm,
		r.CoastingDistanceKm,
		r.BrakeDistanceKm,
		r.EngineBrakeDistanceKm,
		r.OverspeedDistanceKm,
	} {
		b.WriteString("|")
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
}
