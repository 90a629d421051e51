package scheduler

import "errors"

var (
	// ErrQuotaExceeded rejects a batch whose renders do not fit the remaining budget.
	// No subject of a rejected batch is processed.
	ErrQuotaExceeded = errors.New("render quota exceeded")
	// ErrCanceled marks subjects skipped because the batch context ended.
	ErrCanceled = errors.New("canceled")
	// ErrQuotaExhausted marks a subject that needed a render after the budget ran out.
	ErrQuotaExhausted = errors.New("quota exhausted")
)
