// Package progress decouples the user-visible percentage of a long-running
// operation from its real completion event. The displayed value is a pure
// function of elapsed time plus a single "settled" flag: it ramps toward a
// soft ceiling while the operation is outstanding, jumps to 100 only once
// the real completion is observed, and never decreases. Callers must never
// treat the percentage as a completion signal; only the real event drives
// state transitions.
package progress

import (
	"math"
	"sync"
	"time"
)

// State describes the reporter's view of the underlying operation.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

const (
	// softCeiling is the highest percentage shown before real completion.
	softCeiling = 90.0
	// rampTau controls how fast the curve approaches the ceiling.
	rampTau = 5 * time.Second
)

// Reporter tracks one asynchronous operation.
type Reporter struct {
	mu        sync.Mutex
	now       func() time.Time
	start     time.Time
	settled   bool
	settledAt time.Time
	state     State
	err       error
}

// NewReporter starts tracking an operation from now.
func NewReporter() *Reporter {
	return newReporter(time.Now)
}

// newReporter allows tests to inject a clock.
func newReporter(now func() time.Time) *Reporter {
	return &Reporter{
		now:   now,
		start: now(),
		state: StateRunning,
	}
}

// Complete records the real completion event. The percentage jumps to 100
// from the next read on. Completing twice is a no-op, and completion after
// a failure is ignored.
func (r *Reporter) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	r.settledAt = r.now()
	r.state = StateDone
}

// Fail records the operation's failure. The percentage freezes at its
// value at failure time and never reaches 100.
func (r *Reporter) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	r.settledAt = r.now()
	r.state = StateFailed
	r.err = err
}

// Percent returns the current cosmetic percentage, 0-100.
func (r *Reporter) Percent() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settled && r.state == StateDone {
		return 100
	}

	end := r.now()
	if r.settled {
		end = r.settledAt
	}
	elapsed := end.Sub(r.start)
	if elapsed < 0 {
		elapsed = 0
	}

	// Asymptotic ramp toward the soft ceiling; monotonic in elapsed time.
	pct := softCeiling * (1 - math.Exp(-float64(elapsed)/float64(rampTau)))
	return int(pct)
}

// Snapshot returns the percentage, state, and error message in one read.
func (r *Reporter) Snapshot() (int, State, string) {
	pct := r.Percent()
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := ""
	if r.err != nil {
		msg = r.err.Error()
	}
	return pct, r.state, msg
}
