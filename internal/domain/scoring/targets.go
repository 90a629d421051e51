package scoring

// Default "meets target" thresholds used when highlighting report cells.
// They are business policy, not part of the ranking.
const (
	DefaultIdleMaxPct        = 5.0
	DefaultCruiseMinPct      = 66.5
	DefaultEngineBrakeMinPct = 50.0
	DefaultCoastingMinPct    = 10.0
	DefaultOverspeedMaxPct   = 2.0
)

// Targets holds the thresholds a driver is compared against.
type Targets struct {
	IdleMaxPct        float64 `json:"idle_max_pct"`
	CruiseMinPct      float64 `json:"cruise_min_pct"`
	EngineBrakeMinPct float64 `json:"engine_brake_min_pct"`
	CoastingMinPct    float64 `json:"coasting_min_pct"`
	OverspeedMaxPct   float64 `json:"overspeed_max_pct"`
}

// TargetOption overrides a single threshold.
type TargetOption func(*Targets)

// WithIdleMaxPct sets the highest idle percentage that still meets target.
func WithIdleMaxPct(v float64) TargetOption {
	return func(t *Targets) {
		if v >= 0 {
			t.IdleMaxPct = v
		}
	}
}

// WithCruiseMinPct sets the lowest cruise-control usage that meets target.
func WithCruiseMinPct(v float64) TargetOption {
	return func(t *Targets) {
		if v >= 0 {
			t.CruiseMinPct = v
		}
	}
}

// WithEngineBrakeMinPct sets the lowest engine-brake usage that meets target.
func WithEngineBrakeMinPct(v float64) TargetOption {
	return func(t *Targets) {
		if v >= 0 {
			t.EngineBrakeMinPct = v
		}
	}
}

// WithCoastingMinPct sets the lowest coasting usage that meets target.
func WithCoastingMinPct(v float64) TargetOption {
	return func(t *Targets) {
		if v >= 0 {
			t.CoastingMinPct = v
		}
	}
}

// WithOverspeedMaxPct sets the highest overspeed share that still meets target.
func WithOverspeedMaxPct(v float64) TargetOption {
	return func(t *Targets) {
		if v >= 0 {
			t.OverspeedMaxPct = v
		}
	}
}

// NewTargets returns the default thresholds with opts applied.
func NewTargets(opts ...TargetOption) Targets {
	t := Targets{
		IdleMaxPct:        DefaultIdleMaxPct,
		CruiseMinPct:      DefaultCruiseMinPct,
		EngineBrakeMinPct: DefaultEngineBrakeMinPct,
		CoastingMinPct:    DefaultCoastingMinPct,
		OverspeedMaxPct:   DefaultOverspeedMaxPct,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// TargetResult flags which metrics meet their threshold.
type TargetResult struct {
	Idle        bool `json:"idle"`
	Cruise      bool `json:"cruise"`
	EngineBrake bool `json:"engine_brake"`
	Coasting    bool `json:"coasting"`
	Overspeed   bool `json:"overspeed"`
}

// Met returns how many of the five targets were met.
func (r TargetResult) Met() int {
	n := 0
	for _, ok := range []bool{r.Idle, r.Cruise, r.EngineBrake, r.Coasting, r.Overspeed} {
		if ok {
			n++
		}
	}
	return n
}

// Evaluate compares m against the thresholds. Bounds are inclusive.
func (t Targets) Evaluate(m MetricsSet) TargetResult {
	return TargetResult{
		Idle:        m.IdlePct <= t.IdleMaxPct,
		Cruise:      m.CruisePct >= t.CruiseMinPct,
		EngineBrake: m.EngineBrakePct >= t.EngineBrakeMinPct,
		Coasting:    m.CoastingPct >= t.CoastingMinPct,
		Overspeed:   m.OverspeedPct <= t.OverspeedMaxPct,
	}
}

// DefaultTargets returns the thresholds without overrides.
func DefaultTargets() Targets { return NewTargets() }
