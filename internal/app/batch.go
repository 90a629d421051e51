package service

import (
	"context"
	"time"

	"github.com/looplab/fsm"
	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/internal/domain/scheduler"
)

// Batch lifecycle states.
const (
	BatchPending   = "pending"
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchRejected  = "rejected"
	BatchFailed    = "failed"
)

const (
	eventStart    = "start"
	eventComplete = "complete"
	eventReject   = "reject"
	eventFail     = "fail"
)

// Batch is the externally visible record of a submitted batch.
type Batch struct {
	ID          string             `json:"id"`
	Status      string             `json:"status"`
	Period      model.Period       `json:"period"`
	Format      model.Format       `json:"format"`
	SubjectIDs  []string           `json:"subject_ids,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	Summary     *scheduler.Summary `json:"summary,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// batchState pairs a Batch with its lifecycle machine. Guarded by Service.mu.
type batchState struct {
	batch   Batch
	machine *fsm.FSM
}

func newBatchState(b Batch) *batchState { //nolint:gocritic // hugeParam
	st := &batchState{batch: b}
	st.machine = fsm.NewFSM(
		BatchPending,
		fsm.Events{
			{Name: eventStart, Src: []string{BatchPending}, Dst: BatchRunning},
			{Name: eventComplete, Src: []string{BatchRunning}, Dst: BatchCompleted},
			{Name: eventReject, Src: []string{BatchRunning}, Dst: BatchRejected},
			{Name: eventFail, Src: []string{BatchPending, BatchRunning}, Dst: BatchFailed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				st.batch.Status = e.Dst
			},
		},
	)
	st.batch.Status = BatchPending
	return st
}

// transition fires event if the machine allows it.
func (st *batchState) transition(ctx context.Context, event string) bool {
	if !st.machine.Can(event) {
		return false
	}
	return st.machine.Event(ctx, event) == nil
}

func (st *batchState) snapshot() Batch {
	b := st.batch
	b.SubjectIDs = append([]string(nil), st.batch.SubjectIDs...)
	return b
}

func (st *batchState) done() bool {
	switch st.machine.Current() {
	case BatchCompleted, BatchRejected, BatchFailed:
		return true
	}
	return false
}
