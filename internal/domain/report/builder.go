// Package report assembles per-driver report input from raw records.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/internal/domain/ranking"
	"github.com/okian/fleetreport/internal/domain/scheduler"
	"github.com/okian/fleetreport/internal/domain/scoring"
	"github.com/okian/fleetreport/pkg/logger"
)

// Source reads driver records.
type Source interface {
	ListByPeriod(ctx context.Context, period model.Period) ([]model.DriverPeriodRecord, error)
	PriorPeriod(ctx context.Context, subjectID string, period model.Period) (model.DriverPeriodRecord, error)
}

// Builder turns a period's records into scheduler jobs.
type Builder struct {
	src     Source
	targets scoring.Targets
	format  model.Format
	log     logger.Logger
}

// New creates a Builder reading from src.
func New(src Source, opts ...Option) *Builder {
	b := &Builder{
		src:     src,
		targets: scoring.DefaultTargets(),
		format:  model.FormatPDF,
		log:     logger.Get().Named("report"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Targets returns the thresholds used for highlighting.
func (b *Builder) Targets() scoring.Targets {
	return b.targets
}

// Ranking ranks the whole cohort of period.
func (b *Builder) Ranking(ctx context.Context, period model.Period) ([]ranking.Entry, error) {
	recs, err := b.src.ListByPeriod(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("load cohort: %w", err)
	}
	return ranking.Rank(inputs(recs)), nil
}

// Build loads the cohort of period, ranks it and prepares one job per
// requested subject in format. An empty subjectIDs selects the whole cohort;
// an empty format uses the builder's default.
func (b *Builder) Build(ctx context.Context, period model.Period, subjectIDs []string, format model.Format) ([]scheduler.Job, []ranking.Entry, error) {
	if !period.Valid() {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}
	if format == "" {
		format = b.format
	}
	recs, err := b.src.ListByPeriod(ctx, period)
	if err != nil {
		return nil, nil, fmt.Errorf("load cohort: %w", err)
	}

	entries := ranking.Rank(inputs(recs))
	byEntry := ranking.Index(entries)

	byID := make(map[string]model.DriverPeriodRecord, len(recs))
	for _, r := range recs {
		byID[r.SubjectID] = r
	}

	selected := recs
	if len(subjectIDs) > 0 {
		selected = make([]model.DriverPeriodRecord, 0, len(subjectIDs))
		var missing []string
		for _, id := range subjectIDs {
			r, ok := byID[id]
			if !ok {
				missing = append(missing, id)
				continue
			}
			selected = append(selected, r)
		}
		if len(missing) > 0 {
			return nil, nil, fmt.Errorf("%w: %v in %s", ErrUnknownSubject, missing, period)
		}
	}

	jobs := make([]scheduler.Job, 0, len(selected))
	for _, r := range selected {
		job, err := b.job(ctx, r, byEntry[r.SubjectID], len(recs), format)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, job)
	}

	b.log.Debug(ctx, "report jobs built",
		logger.String("period", period.String()),
		logger.Int("cohort", len(recs)),
		logger.Int("jobs", len(jobs)),
	)
	return jobs, entries, nil
}

func (b *Builder) job(ctx context.Context, rec model.DriverPeriodRecord, entry ranking.Entry, cohortSize int, format model.Format) (scheduler.Job, error) { //nolint:gocritic // hugeParam
	var prior *model.DriverPeriodRecord
	p, err := b.src.PriorPeriod(ctx, rec.SubjectID, rec.Period())
	switch {
	case err == nil:
		prior = &p
	case errors.Is(err, model.ErrRecordNotFound):
	default:
		return scheduler.Job{}, fmt.Errorf("load prior period for %s: %w", rec.SubjectID, err)
	}

	input, err := b.render(rec, prior, entry, cohortSize)
	if err != nil {
		return scheduler.Job{}, err
	}

	recipient := model.DefaultRecipient()
	if rec.Email != "" {
		recipient = model.To(rec.Email)
	}

	return scheduler.Job{
		SubjectID:     rec.SubjectID,
		Input:         input,
		Format:        format,
		IntegrityHash: scoring.IntegrityHash(rec, prior, cohortSize, format),
		Recipient:     recipient,
		Metadata: map[string]string{
			"driver_name":   rec.DriverName,
			"position":      strconv.Itoa(entry.Position),
			"total_score":   strconv.Itoa(entry.TotalScore),
			"top_performer": strconv.FormatBool(entry.TopPerformer),
		},
	}, nil
}

func (b *Builder) render(rec model.DriverPeriodRecord, prior *model.DriverPeriodRecord, entry ranking.Entry, cohortSize int) (string, error) { //nolint:gocritic // hugeParam
	m := scoring.ComputeMetrics(rec)
	met := b.targets.Evaluate(m)

	var pm scoring.MetricsSet
	v := view{
		SubjectID:    rec.SubjectID,
		DriverName:   rec.DriverName,
		Period:       rec.Period().String(),
		Position:     entry.Position,
		CohortSize:   cohortSize,
		TotalScore:   entry.TotalScore,
		TopPerformer: entry.TopPerformer,
		HasPrior:     prior != nil,
	}
	if prior != nil {
		pm = scoring.ComputeMetrics(*prior)
		v.PriorPeriod = prior.Period().String()
	}
	if v.DriverName == "" {
		v.DriverName = rec.SubjectID
	}

	t := b.targets
	v.Rows = []row{
		{Label: "Idle", Value: pctStr(m.IdlePct), Prior: pctStr(pm.IdlePct), Target: "≤ " + pctStr(t.IdleMaxPct), Met: met.Idle, Targeted: true},
		{Label: "Cruise control", Value: pctStr(m.CruisePct), Prior: pctStr(pm.CruisePct), Target: "≥ " + pctStr(t.CruiseMinPct), Met: met.Cruise, Targeted: true},
		{Label: "Engine brake", Value: pctStr(m.EngineBrakePct), Prior: pctStr(pm.EngineBrakePct), Target: "≥ " + pctStr(t.EngineBrakeMinPct), Met: met.EngineBrake, Targeted: true},
		{Label: "Coasting", Value: pctStr(m.CoastingPct), Prior: pctStr(pm.CoastingPct), Target: "≥ " + pctStr(t.CoastingMinPct), Met: met.Coasting, Targeted: true},
		{Label: "Overspeed", Value: pctStr(m.OverspeedPct), Prior: pctStr(pm.OverspeedPct), Target: "≤ " + pctStr(t.OverspeedMaxPct), Met: met.Overspeed, Targeted: true},
		{Label: "Fuel efficiency (km/l)", Value: numStr(m.FuelEfficiencyKmL), Prior: numStr(pm.FuelEfficiencyKmL)},
		{Label: "Consumption (l/100 t·km)", Value: numStr(m.WeightAdjustedLPer100TKm), Prior: numStr(pm.WeightAdjustedLPer100TKm)},
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("execute report template for %s: %w", rec.SubjectID, err)
	}
	return buf.String(), nil
}

func inputs(recs []model.DriverPeriodRecord) []ranking.Input {
	out := make([]ranking.Input, 0, len(recs))
	for _, r := range recs {
		out = append(out, ranking.Input{SubjectID: r.SubjectID, Metrics: scoring.ComputeMetrics(r)})
	}
	return out
}

func pctStr(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

func numStr(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
