// Package quota tracks the monthly unit budget of the external renderer.
package quota

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/okian/fleetreport/pkg/logger"
	"github.com/okian/fleetreport/pkg/metrics"
)

// Tracker states.
const (
	StateAvailable = "available"
	StateExhausted = "exhausted"
)

// Tracker events.
const (
	eventExhaust = "exhaust"
	eventRestore = "restore"
)

// Usage ratios at which a warning is logged and the delay tier changes.
const (
	ratioMedium   = 0.50
	ratioWarn     = 0.75
	ratioCritical = 0.90
)

const hoursPerDay = 24

// State is a point-in-time copy of the tracker.
type State struct {
	UnitsUsed   int       `json:"units_used"`
	MaxUnits    int       `json:"max_units"`
	Reserved    int       `json:"reserved"`
	Remaining   int       `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	State       string    `json:"state"`
}

// Tracker gates render calls against a hard monthly unit budget.
//
// All methods are safe for concurrent use. Reserve is the atomic form of
// CanAuthorize: units it holds are not visible as headroom to other callers
// until they are consumed by RecordUsage or returned by Release.
type Tracker struct {
	mu sync.Mutex

	maxUnits    int
	used        int
	reserved    int
	periodStart time.Time
	warned75    bool
	warned90    bool

	delayShort   time.Duration
	delayMedium  time.Duration
	delayLong    time.Duration
	delayLongest time.Duration

	now     func() time.Time
	machine *fsm.FSM
	log     logger.Logger
}

// New creates a Tracker for the current calendar month.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		maxUnits:     DefaultMaxUnits,
		delayShort:   DefaultDelayShort,
		delayMedium:  DefaultDelayMedium,
		delayLong:    DefaultDelayLong,
		delayLongest: DefaultDelayLongest,
		now:          time.Now,
		log:          logger.Get().Named("quota"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.periodStart.IsZero() {
		t.periodStart = monthStart(t.now())
	}

	t.machine = fsm.NewFSM(
		StateAvailable,
		fsm.Events{
			{Name: eventExhaust, Src: []string{StateAvailable}, Dst: StateExhausted},
			{Name: eventRestore, Src: []string{StateExhausted}, Dst: StateAvailable},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				t.log.Info(ctx, "quota state changed",
					logger.String("from", e.Src),
					logger.String("to", e.Dst),
				)
			},
		},
	)
	t.syncState()
	t.publish()
	return t
}

// CanAuthorize reports whether n more units fit in the current month.
func (t *Tracker) CanAuthorize(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.fits(n)
}

// Reserve holds n units if they fit and reports whether it did.
// Reserving zero units always succeeds.
func (t *Tracker) Reserve(n int) bool {
	if n <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	if !t.fits(n) {
		metrics.RecordQuotaRejection()
		return false
	}
	t.reserved += n
	return true
}

// Release returns up to n held units to the pool.
func (t *Tracker) Release(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved -= n
	if t.reserved < 0 {
		t.reserved = 0
	}
}

// RecordUsage adds n confirmed units. Held units are consumed first so a
// reservation followed by usage does not count twice.
func (t *Tracker) RecordUsage(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	t.used += n
	t.reserved -= n
	if t.reserved < 0 {
		t.reserved = 0
	}

	ratio := t.ratio()
	ctx := context.Background()
	if ratio >= ratioCritical && !t.warned90 {
		t.warned90 = true
		t.warned75 = true
		t.log.Warn(ctx, "render quota above 90%",
			logger.Int("used", t.used),
			logger.Int("max", t.maxUnits),
			logger.Int("days_until_reset", t.daysUntilReset()),
		)
	} else if ratio >= ratioWarn && !t.warned75 {
		t.warned75 = true
		t.log.Warn(ctx, "render quota above 75%",
			logger.Int("used", t.used),
			logger.Int("max", t.maxUnits),
		)
	}
	t.syncState()
	t.publish()
}

// RecordOverageSignal treats a provider-reported quota violation as the
// source of truth: the month's budget is marked fully used and every
// outstanding reservation is dropped.
func (t *Tracker) RecordOverageSignal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	if t.used < t.maxUnits {
		t.used = t.maxUnits
	}
	t.reserved = 0
	t.warned75, t.warned90 = true, true
	t.log.Warn(context.Background(), "provider reported quota overage",
		logger.Int("max", t.maxUnits),
	)
	metrics.RecordOverageSignal()
	t.syncState()
	t.publish()
}

// RecommendedDelay returns the advisory pause between render calls for the
// current usage ratio.
func (t *Tracker) RecommendedDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	switch r := t.ratio(); {
	case r >= ratioCritical:
		return t.delayLongest
	case r >= ratioWarn:
		return t.delayLong
	case r >= ratioMedium:
		return t.delayMedium
	default:
		return t.delayShort
	}
}

// DaysUntilReset returns the whole days, rounded up, until the next month.
func (t *Tracker) DaysUntilReset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.daysUntilReset()
}

// Remaining returns the units neither used nor reserved.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.remaining()
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return State{
		UnitsUsed:   t.used,
		MaxUnits:    t.maxUnits,
		Reserved:    t.reserved,
		Remaining:   t.remaining(),
		PeriodStart: t.periodStart,
		State:       t.machine.Current(),
	}
}

// rollover resets the budget on the first access in a later month.
// Must be called with t.mu held.
func (t *Tracker) rollover() {
	current := monthStart(t.now())
	if !current.After(t.periodStart) {
		return
	}
	t.log.Info(context.Background(), "render quota reset",
		logger.String("previous_period", t.periodStart.Format("2006-01")),
		logger.Int("previous_used", t.used),
	)
	t.used = 0
	t.reserved = 0
	t.periodStart = current
	t.warned75, t.warned90 = false, false
	t.syncState()
	t.publish()
}

// syncState moves the state machine to match the counters.
// Must be called with t.mu held.
func (t *Tracker) syncState() {
	event := eventRestore
	if t.used >= t.maxUnits {
		event = eventExhaust
	}
	if !t.machine.Can(event) {
		return
	}
	if err := t.machine.Event(context.Background(), event); err != nil {
		t.log.Error(context.Background(), "quota state transition failed",
			logger.String("event", event),
			logger.Error(err),
		)
	}
}

func (t *Tracker) publish() {
	metrics.UpdateQuota(t.used, t.maxUnits, t.remaining())
}

func (t *Tracker) fits(n int) bool {
	return t.used+t.reserved+n <= t.maxUnits
}

func (t *Tracker) remaining() int {
	r := t.maxUnits - t.used - t.reserved
	if r < 0 {
		return 0
	}
	return r
}

func (t *Tracker) ratio() float64 {
	if t.maxUnits <= 0 {
		return 1
	}
	return float64(t.used) / float64(t.maxUnits)
}

func (t *Tracker) daysUntilReset() int {
	now := t.now()
	next := monthStart(now).AddDate(0, 1, 0)
	return int(math.Ceil(next.Sub(now).Hours() / hoursPerDay))
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
