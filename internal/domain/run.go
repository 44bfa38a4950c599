package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run is one detector invocation across every site of a variable.
type Run struct {
	ID         uuid.UUID
	Detector   Detector
	Variable   string
	Range      DateRange
	StartedAt  time.Time
	FinishedAt time.Time
	Verdicts   []Verdict
}

// NewRun stamps a fresh run with a random id and the package clock.
func NewRun(d Detector, variable string, r DateRange) Run {
	return Run{
		ID:        uuid.New(),
		Detector:  d,
		Variable:  variable,
		Range:     r,
		StartedAt: clock.Now(),
	}
}

// Finish records the verdicts and the completion time.
func (r Run) Finish(verdicts []Verdict) Run {
	r.Verdicts = verdicts
	r.FinishedAt = clock.Now()
	return r
}

// Duration is the wall time between start and finish.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Flagged counts verdicts with a non-zero outlier flag.
func (r Run) Flagged() int {
	n := 0
	for _, v := range r.Verdicts {
		if v.Outlier != 0 {
			n++
		}
	}
	return n
}

// FitOutcome reports a residual refit of one site-variable series.
type FitOutcome struct {
	Site     SiteID
	Variable string
	Rows     int
	// Scored counts rows that received a non-missing score.
	Scored int
	Err    error
}
