// Package ranking orders a cohort of drivers by a combined metric score.
package ranking

import (
	"sort"

	"github.com/okian/fleetreport/internal/domain/scoring"
)

// topPerformers is the number of leading positions flagged for highlighting.
const topPerformers = 3

// Input is one subject's metrics as supplied to Rank.
type Input struct {
	SubjectID string
	Metrics   scoring.MetricsSet
}

// Entry is one subject's place in a ranking.
type Entry struct {
	SubjectID string `json:"subject_id"`
	// TotalScore is the sum of the four per-metric ranks. Lower is better.
	TotalScore      int  `json:"total_score"`
	IdleRank        int  `json:"idle_rank"`
	CruiseRank      int  `json:"cruise_rank"`
	EngineBrakeRank int  `json:"engine_brake_rank"`
	CoastingRank    int  `json:"coasting_rank"`
	Position        int  `json:"position"`
	TopPerformer    bool `json:"top_performer"`
}

// criterion ranks subjects on one metric.
type criterion struct {
	value    func(scoring.MetricsSet) float64
	lowerWin bool
	assign   func(*Entry, int)
}

var criteria = []criterion{
	{
		value:    func(m scoring.MetricsSet) float64 { return m.IdlePct },
		lowerWin: true,
		assign:   func(e *Entry, r int) { e.IdleRank = r },
	},
	{
		value:  func(m scoring.MetricsSet) float64 { return m.CruisePct },
		assign: func(e *Entry, r int) { e.CruiseRank = r },
	},
	{
		value:  func(m scoring.MetricsSet) float64 { return m.EngineBrakePct },
		assign: func(e *Entry, r int) { e.EngineBrakeRank = r },
	},
	{
		value:  func(m scoring.MetricsSet) float64 { return m.CoastingPct },
		assign: func(e *Entry, r int) { e.CoastingRank = r },
	},
}

// Rank assigns per-metric ranks and orders inputs by TotalScore.
//
// Every sort is stable, so subjects with equal values keep their input order.
// The result is never nil; an empty cohort yields an empty slice.
func Rank(inputs []Input) []Entry {
	entries := make([]Entry, len(inputs))
	for i, in := range inputs {
		entries[i].SubjectID = in.SubjectID
	}

	idx := make([]int, len(inputs))
	for _, c := range criteria {
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			va := c.value(inputs[idx[a]].Metrics)
			vb := c.value(inputs[idx[b]].Metrics)
			if c.lowerWin {
				return va < vb
			}
			return va > vb
		})
		for pos, i := range idx {
			c.assign(&entries[i], pos+1)
		}
	}

	for i := range entries {
		e := &entries[i]
		e.TotalScore = e.IdleRank + e.CruiseRank + e.EngineBrakeRank + e.CoastingRank
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].TotalScore < entries[b].TotalScore
	})

	for i := range entries {
		entries[i].Position = i + 1
		entries[i].TopPerformer = i < topPerformers
	}
	return entries
}

// Index maps subject IDs to their entry for lookups after ranking.
func Index(entries []Entry) map[string]Entry {
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		out[e.SubjectID] = e
	}
	return out
}
