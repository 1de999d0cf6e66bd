package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the test says so.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeReporter() (*Reporter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return newReporter(clock.now), clock
}

func TestReporterStartsAtZero(t *testing.T) {
	r, _ := newFakeReporter()

	pct, state, msg := r.Snapshot()
	assert.Equal(t, 0, pct)
	assert.Equal(t, StateRunning, state)
	assert.Empty(t, msg)
}

func TestReporterRampsTowardCeiling(t *testing.T) {
	r, clock := newFakeReporter()

	clock.advance(rampTau)
	afterOneTau := r.Percent()
	assert.Greater(t, afterOneTau, 50)
	assert.Less(t, afterOneTau, int(softCeiling))

	// Even absurdly long waits never reach the ceiling.
	clock.advance(24 * time.Hour)
	assert.Less(t, r.Percent(), int(softCeiling)+1)
	assert.GreaterOrEqual(t, r.Percent(), afterOneTau)

	_, state, _ := r.Snapshot()
	assert.Equal(t, StateRunning, state)
}

func TestReporterMonotonic(t *testing.T) {
	r, clock := newFakeReporter()

	prev := r.Percent()
	for i := 0; i < 20; i++ {
		clock.advance(500 * time.Millisecond)
		cur := r.Percent()
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestReporterComplete(t *testing.T) {
	r, clock := newFakeReporter()

	clock.advance(2 * time.Second)
	r.Complete()

	pct, state, msg := r.Snapshot()
	assert.Equal(t, 100, pct)
	assert.Equal(t, StateDone, state)
	assert.Empty(t, msg)

	// Idempotent, and stays at 100 as time passes.
	r.Complete()
	clock.advance(time.Minute)
	assert.Equal(t, 100, r.Percent())
}

func TestReporterFailFreezesPercent(t *testing.T) {
	r, clock := newFakeReporter()

	clock.advance(3 * time.Second)
	atFailure := r.Percent()
	r.Fail(errors.New("model unavailable"))

	pct, state, msg := r.Snapshot()
	assert.Equal(t, atFailure, pct)
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, "model unavailable", msg)

	// Frozen: more elapsed time changes nothing.
	clock.advance(time.Hour)
	assert.Equal(t, atFailure, r.Percent())
}

func TestReporterCompleteAfterFailIgnored(t *testing.T) {
	r, clock := newFakeReporter()

	clock.advance(time.Second)
	r.Fail(errors.New("boom"))
	r.Complete()

	pct, state, msg := r.Snapshot()
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, "boom", msg)
	assert.Less(t, pct, 100)
}

func TestReporterFailAfterCompleteIgnored(t *testing.T) {
	r, clock := newFakeReporter()

	clock.advance(time.Second)
	r.Complete()
	r.Fail(errors.New("late"))

	pct, state, msg := r.Snapshot()
	assert.Equal(t, 100, pct)
	assert.Equal(t, StateDone, state)
	assert.Empty(t, msg)
}
